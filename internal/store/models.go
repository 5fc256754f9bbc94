package store

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("message not found")
	ErrInvalidCursor = errors.New("invalid cursor")
)

type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
	FolderTrash Folder = "trash"
)

func ParseFolder(value string) (Folder, error) {
	switch folder := Folder(strings.ToLower(strings.TrimSpace(value))); folder {
	case FolderInbox, FolderSent, FolderTrash:
		return folder, nil
	default:
		return "", errors.New("invalid folder")
	}
}

// Message is one mailbox row. A sent message exists as two independent rows,
// one per owner.
type Message struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Folder    Folder    `json:"folder"`
	Owner     string    `json:"owner"`
	Read      bool      `json:"read"`
	Starred   bool      `json:"starred"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter selects rows of one owner. Nil fields match anything.
type Filter struct {
	Owner   string
	Folder  Folder
	Starred *bool
	Read    *bool
}

// Query is a Filter plus a forward page window. Limit <= 0 means no limit.
type Query struct {
	Filter
	Limit int
	After *Cursor
}

// Patch lists the fields an Update may change.
type Patch struct {
	Folder  *Folder
	Read    *bool
	Starred *bool
}

func (p Patch) Empty() bool {
	return p.Folder == nil && p.Read == nil && p.Starred == nil
}

// Cursor points at the last row of a fetched page. Rows are ordered by
// timestamp then id, both descending.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

func CursorFor(message Message) *Cursor {
	return &Cursor{Timestamp: message.Timestamp, ID: message.ID}
}

func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.Timestamp.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	stamp, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Timestamp: time.Unix(0, nanos), ID: id}, nil
}

func Bool(v bool) *bool {
	return &v
}

func FolderPtr(f Folder) *Folder {
	return &f
}
