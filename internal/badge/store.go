// Package badge keeps the sidebar counters (unread inbox, trash, sent) fresh.
// A Synchronizer is the only writer of a Store; views read snapshots or
// subscribe to changes.
package badge

import (
	"errors"
	"sync"
	"time"

	"github.io/infrasutra/postbox/internal/store"
)

var ErrWriterClaimed = errors.New("badge store already has a writer")

type Kind string

const (
	KindUnread Kind = "unread"
	KindTrash  Kind = "trash"
	KindSent   Kind = "sent"
)

var Kinds = []Kind{KindUnread, KindTrash, KindSent}

// Filter is the query behind each counter.
func (k Kind) Filter(owner string) store.Filter {
	switch k {
	case KindUnread:
		return store.Filter{Owner: owner, Folder: store.FolderInbox, Read: store.Bool(false)}
	case KindTrash:
		return store.Filter{Owner: owner, Folder: store.FolderTrash}
	default:
		return store.Filter{Owner: owner, Folder: store.FolderSent}
	}
}

type Counts struct {
	Unread    int       `json:"unread"`
	Trash     int       `json:"trash"`
	Sent      int       `json:"sent"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Counts) set(kind Kind, value int) bool {
	var field *int
	switch kind {
	case KindUnread:
		field = &c.Unread
	case KindTrash:
		field = &c.Trash
	case KindSent:
		field = &c.Sent
	default:
		return false
	}
	if *field == value {
		return false
	}
	*field = value
	return true
}

// Store is shared badge state.
type Store struct {
	mu        sync.RWMutex
	counts    Counts
	published map[Kind]bool
	subs      map[chan Counts]struct{}
	claimed   bool
}

func NewStore() *Store {
	return &Store{
		published: make(map[Kind]bool, len(Kinds)),
		subs:      make(map[chan Counts]struct{}),
	}
}

func (s *Store) Snapshot() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts
}

// Subscribe returns a channel that always holds the latest counts after a
// change. Slow readers skip intermediate values.
func (s *Store) Subscribe() (<-chan Counts, func()) {
	ch := make(chan Counts, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Claim hands out the single Writer. It fails while another writer holds it.
func (s *Store) Claim() (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return nil, ErrWriterClaimed
	}
	s.claimed = true
	return &Writer{store: s}, nil
}

// Writer is the write handle of a Store.
type Writer struct {
	store    *Store
	released bool
}

// Set stores one counter. Subscribers hear about the first value written for
// each kind, zero included, and after that only about changes.
func (w *Writer) Set(kind Kind, value int, at time.Time) {
	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.released {
		return
	}
	s.counts.UpdatedAt = at
	changed := s.counts.set(kind, value)
	first := !s.published[kind]
	s.published[kind] = true
	if !changed && !first {
		return
	}
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.counts
	}
}

// Release gives the store back so another writer can claim it.
func (w *Writer) Release() {
	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.released {
		return
	}
	w.released = true
	s.claimed = false
}
