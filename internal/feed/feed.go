// Package feed publishes mailbox change notifications to the SSE hub, either
// directly or through Redis so every instance hears about them.
package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.io/infrasutra/postbox/internal/sse"
)

// Change says that the mailboxes of Owners were written.
type Change struct {
	ID     string    `json:"id"`
	Owners []string  `json:"owners"`
	At     time.Time `json:"at"`
}

func NewChange(owners ...string) Change {
	return Change{ID: ulid.Make().String(), Owners: owners, At: time.Now().UTC()}
}

func decodeChange(payload []byte) (Change, error) {
	var change Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if len(change.Owners) == 0 {
		return Change{}, fmt.Errorf("decode change: no owners")
	}
	return change, nil
}

// Local delivers changes to the in-process hub only.
type Local struct {
	hub    *sse.Hub
	logger *slog.Logger
}

func NewLocal(hub *sse.Hub, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{hub: hub, logger: logger}
}

func (l *Local) Notify(owners ...string) {
	l.deliver(NewChange(owners...))
}

func (l *Local) deliver(change Change) {
	if len(change.Owners) == 0 {
		return
	}
	data, err := json.Marshal(change)
	if err != nil {
		l.logger.Warn("encode change", "error", err)
		return
	}
	l.hub.Broadcast(change.Owners, sse.Event{ID: change.ID, Name: sse.EventChanged, Data: data})
}
