// Package mailbox implements message operations on top of the document store:
// the dual-row send, per-row state changes, and the paged and counted reads
// used by the pagination coordinator and the badge synchronizer.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/store"
)

// Notifier is told which mailboxes changed after a successful write.
type Notifier interface {
	Notify(owners ...string)
}

type Draft struct {
	To      string
	Subject string
	Content string
}

// Sent holds both rows created by one send.
type Sent struct {
	Outbox store.Message
	Inbox  store.Message
}

type Service struct {
	store    store.Store
	notifier Notifier
	logger   *slog.Logger
}

func NewService(s store.Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, notifier: notifier, logger: logger}
}

// Send validates the draft and writes the sender's sent row and the
// recipient's inbox row in one atomic insert. Either both rows exist
// afterwards or neither does.
func (s *Service) Send(ctx context.Context, from string, draft Draft) (Sent, error) {
	sent, err := s.SendAll(ctx, from, draft, draft.To)
	if err != nil {
		return Sent{}, err
	}
	return sent[0], nil
}

// SendAll delivers one draft to every recipient with a single atomic insert:
// a sent row and an inbox row per recipient, or no rows at all. The draft's
// own To is ignored in favour of recipients.
func (s *Service) SendAll(ctx context.Context, from string, draft Draft, recipients ...string) ([]Sent, error) {
	sender, err := auth.NormalizeEmail(from)
	if err != nil {
		return nil, auth.ErrSignedOut
	}
	if len(recipients) == 0 {
		recipients = []string{""}
	}

	rows := make([]store.Message, 0, 2*len(recipients))
	owners := []string{sender}
	for _, to := range recipients {
		draft.To = to
		recipient, err := validateDraft(draft)
		if err != nil {
			return nil, err
		}
		outbox, inbox := messagePair(sender, recipient, draft)
		rows = append(rows, outbox, inbox)
		owners = append(owners, recipient)
	}

	stored, err := s.store.InsertMessages(ctx, rows...)
	if err != nil {
		s.logger.Error("send message", "from", sender, "recipients", len(recipients), "error", err)
		return nil, fmt.Errorf("send message: %w", err)
	}
	s.notify(owners...)

	sent := make([]Sent, 0, len(recipients))
	for i := 0; i+1 < len(stored); i += 2 {
		sent = append(sent, Sent{Outbox: stored[i], Inbox: stored[i+1]})
	}
	return sent, nil
}

func messagePair(sender, recipient string, draft Draft) (store.Message, store.Message) {
	base := store.Message{
		To:      recipient,
		From:    sender,
		Subject: strings.TrimSpace(draft.Subject),
		Content: draft.Content,
	}
	outbox := base
	outbox.Folder = store.FolderSent
	outbox.Owner = sender
	outbox.Read = true

	inbox := base
	inbox.Folder = store.FolderInbox
	inbox.Owner = recipient
	return outbox, inbox
}

func validateDraft(draft Draft) (string, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(draft.To) == "" {
		verr.Missing = append(verr.Missing, "recipient")
	}
	if strings.TrimSpace(draft.Subject) == "" {
		verr.Missing = append(verr.Missing, "subject")
	}
	if strings.TrimSpace(draft.Content) == "" {
		verr.Missing = append(verr.Missing, "content")
	}
	var recipient string
	if strings.TrimSpace(draft.To) != "" {
		normalized, err := auth.NormalizeEmail(draft.To)
		if err != nil {
			verr.Invalid = append(verr.Invalid, "recipient")
		}
		recipient = normalized
	}
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return "", verr
	}
	return recipient, nil
}

func (s *Service) Get(ctx context.Context, owner, id string) (store.Message, error) {
	if owner == "" {
		return store.Message{}, auth.ErrSignedOut
	}
	return s.store.Get(ctx, owner, id)
}

func (s *Service) MarkRead(ctx context.Context, owner, id string) error {
	return s.update(ctx, owner, id, store.Patch{Read: store.Bool(true)})
}

// SetStarred sets the flag to target; repeating the call is harmless.
func (s *Service) SetStarred(ctx context.Context, owner, id string, target bool) error {
	return s.update(ctx, owner, id, store.Patch{Starred: store.Bool(target)})
}

// ToggleStar flips the stored flag and returns the new value.
func (s *Service) ToggleStar(ctx context.Context, owner, id string) (bool, error) {
	message, err := s.Get(ctx, owner, id)
	if err != nil {
		return false, err
	}
	target := !message.Starred
	if err := s.SetStarred(ctx, owner, id, target); err != nil {
		return false, err
	}
	return target, nil
}

func (s *Service) MoveToTrash(ctx context.Context, owner, id string) error {
	return s.update(ctx, owner, id, store.Patch{Folder: store.FolderPtr(store.FolderTrash)})
}

// Restore moves a row back out of trash: to the inbox when the owner was the
// recipient, otherwise to sent.
func (s *Service) Restore(ctx context.Context, owner, id string) (store.Folder, error) {
	message, err := s.Get(ctx, owner, id)
	if err != nil {
		return "", err
	}
	destination := store.FolderSent
	if message.To == owner {
		destination = store.FolderInbox
	}
	if err := s.update(ctx, owner, id, store.Patch{Folder: store.FolderPtr(destination)}); err != nil {
		return "", err
	}
	return destination, nil
}

func (s *Service) DeletePermanently(ctx context.Context, owner, id string) error {
	if owner == "" {
		return auth.ErrSignedOut
	}
	if err := s.store.Delete(ctx, owner, id); err != nil {
		return err
	}
	s.notify(owner)
	return nil
}

func (s *Service) DeleteMany(ctx context.Context, owner string, ids []string) (int64, error) {
	if owner == "" {
		return 0, auth.ErrSignedOut
	}
	deleted, err := s.store.DeleteIDs(ctx, owner, ids)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.notify(owner)
	}
	return deleted, nil
}

// ClearTrash permanently deletes every trashed row of the owner.
func (s *Service) ClearTrash(ctx context.Context, owner string) (int64, error) {
	if owner == "" {
		return 0, auth.ErrSignedOut
	}
	deleted, err := s.store.DeleteWhere(ctx, store.Filter{Owner: owner, Folder: store.FolderTrash})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.notify(owner)
	}
	return deleted, nil
}

// ClearStarred unstars every row of the owner in one statement.
func (s *Service) ClearStarred(ctx context.Context, owner string) (int64, error) {
	if owner == "" {
		return 0, auth.ErrSignedOut
	}
	updated, err := s.store.UpdateWhere(ctx,
		store.Filter{Owner: owner, Starred: store.Bool(true)},
		store.Patch{Starred: store.Bool(false)},
	)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.notify(owner)
	}
	return updated, nil
}

// FetchPage returns one forward page for the query's owner.
func (s *Service) FetchPage(ctx context.Context, query store.Query) ([]store.Message, error) {
	if query.Owner == "" {
		return nil, auth.ErrSignedOut
	}
	return s.store.List(ctx, query)
}

// FetchCount returns how many rows match the filter, ignoring any paging.
func (s *Service) FetchCount(ctx context.Context, filter store.Filter) (int, error) {
	if filter.Owner == "" {
		return 0, auth.ErrSignedOut
	}
	return s.store.Count(ctx, filter)
}

func (s *Service) update(ctx context.Context, owner, id string, patch store.Patch) error {
	if owner == "" {
		return auth.ErrSignedOut
	}
	if err := s.store.Update(ctx, owner, id, patch); err != nil {
		return err
	}
	s.notify(owner)
	return nil
}

func (s *Service) notify(owners ...string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(owners...)
}
