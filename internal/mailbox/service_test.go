package mailbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	owners []string
}

func (n *recordingNotifier) Notify(owners ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owners = append(n.owners, owners...)
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.owners...)
}

// failingStore counts calls so tests can assert nothing reached the store.
type failingStore struct {
	store.Store
	inserts int
	err     error
}

func (f *failingStore) InsertMessages(ctx context.Context, messages ...store.Message) ([]store.Message, error) {
	f.inserts++
	if f.err != nil {
		return nil, f.err
	}
	return f.Store.InsertMessages(ctx, messages...)
}

func newTestService(t *testing.T) (*Service, store.Store, *recordingNotifier) {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenSQLite(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() { _ = s.Close() })
	notifier := &recordingNotifier{}
	return NewService(s, notifier, nil), s, notifier
}

func TestService_SendCreatesTwoRows(t *testing.T) {
	svc, s, notifier := newTestService(t)
	ctx := context.Background()

	sent, err := svc.Send(ctx, "a@x.com", Draft{To: "b@x.com", Subject: "Hi", Content: "<p>hello</p>"})
	require.NoError(t, err)

	outbox, err := s.List(ctx, store.Query{Filter: store.Filter{Owner: "a@x.com"}})
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	inbox, err := s.List(ctx, store.Query{Filter: store.Filter{Owner: "b@x.com"}})
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	assert.Equal(t, sent.Outbox.ID, outbox[0].ID)
	assert.Equal(t, sent.Inbox.ID, inbox[0].ID)

	assert.Equal(t, store.FolderSent, outbox[0].Folder)
	assert.True(t, outbox[0].Read)
	assert.False(t, outbox[0].Starred)

	assert.Equal(t, store.FolderInbox, inbox[0].Folder)
	assert.False(t, inbox[0].Read)
	assert.False(t, inbox[0].Starred)

	for _, row := range []store.Message{outbox[0], inbox[0]} {
		assert.Equal(t, "a@x.com", row.From)
		assert.Equal(t, "b@x.com", row.To)
		assert.Equal(t, "Hi", row.Subject)
		assert.Equal(t, "<p>hello</p>", row.Content)
	}
	assert.NotEqual(t, outbox[0].ID, inbox[0].ID)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, notifier.seen())
}

func TestService_SendValidatesBeforeStore(t *testing.T) {
	svc, s, _ := newTestService(t)
	counting := &failingStore{Store: s}
	svc.store = counting

	tests := []struct {
		name    string
		draft   Draft
		missing []string
		invalid []string
	}{
		{name: "empty", draft: Draft{}, missing: []string{"recipient", "subject", "content"}},
		{name: "no_subject", draft: Draft{To: "b@x.com", Content: "c"}, missing: []string{"subject"}},
		{name: "blank_content", draft: Draft{To: "b@x.com", Subject: "s", Content: "   "}, missing: []string{"content"}},
		{name: "bad_recipient", draft: Draft{To: "nope", Subject: "s", Content: "c"}, invalid: []string{"recipient"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), "a@x.com", tt.draft)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.missing, verr.Missing)
			assert.Equal(t, tt.invalid, verr.Invalid)
		})
	}
	assert.Zero(t, counting.inserts)
}

func TestService_SendRequiresSender(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Send(context.Background(), "", Draft{To: "b@x.com", Subject: "s", Content: "c"})
	assert.ErrorIs(t, err, auth.ErrSignedOut)
}

func TestService_SendStoreFailureLeavesNoRows(t *testing.T) {
	svc, s, notifier := newTestService(t)
	svc.store = &failingStore{Store: s, err: errors.New("store unavailable")}

	_, err := svc.Send(context.Background(), "a@x.com", Draft{To: "b@x.com", Subject: "s", Content: "c"})
	require.Error(t, err)
	assert.False(t, IsValidation(err))

	total, err := s.Count(context.Background(), store.Filter{Owner: "a@x.com"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, notifier.seen())
}

func TestService_SendAllWritesEveryPairOrNone(t *testing.T) {
	svc, s, notifier := newTestService(t)
	ctx := context.Background()

	sent, err := svc.SendAll(ctx, "a@x.com", Draft{Subject: "Hi", Content: "c"}, "b@x.com", "C@x.com")
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, "b@x.com", sent[0].Inbox.Owner)
	assert.Equal(t, "c@x.com", sent[1].Inbox.Owner)
	assert.Equal(t, "a@x.com", sent[1].Outbox.Owner)
	assert.Equal(t, "c@x.com", sent[1].Outbox.To)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com", "c@x.com"}, notifier.seen())

	_, err = svc.SendAll(ctx, "a@x.com", Draft{Subject: "Hi", Content: "c"}, "d@x.com", "not an address")
	assert.True(t, IsValidation(err))

	svc.store = &failingStore{Store: s, err: errors.New("store unavailable")}
	_, err = svc.SendAll(ctx, "a@x.com", Draft{Subject: "again", Content: "c"}, "d@x.com", "e@x.com")
	require.Error(t, err)

	for _, owner := range []string{"d@x.com", "e@x.com"} {
		total, err := s.Count(ctx, store.Filter{Owner: owner})
		require.NoError(t, err)
		assert.Zero(t, total, owner)
	}
	sentRows, err := s.Count(ctx, store.Filter{Owner: "a@x.com", Folder: store.FolderSent})
	require.NoError(t, err)
	assert.Equal(t, 2, sentRows)
}

func TestService_StarIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sent, err := svc.Send(ctx, "a@x.com", Draft{To: "b@x.com", Subject: "s", Content: "c"})
	require.NoError(t, err)

	require.NoError(t, svc.SetStarred(ctx, "b@x.com", sent.Inbox.ID, true))
	require.NoError(t, svc.SetStarred(ctx, "b@x.com", sent.Inbox.ID, true))
	got, err := svc.Get(ctx, "b@x.com", sent.Inbox.ID)
	require.NoError(t, err)
	assert.True(t, got.Starred)

	twin, err := svc.Get(ctx, "a@x.com", sent.Outbox.ID)
	require.NoError(t, err)
	assert.False(t, twin.Starred, "the sender's row is independent")

	starred, err := svc.ToggleStar(ctx, "b@x.com", sent.Inbox.ID)
	require.NoError(t, err)
	assert.False(t, starred)
}

func TestService_TrashAndRestore(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sent, err := svc.Send(ctx, "a@x.com", Draft{To: "b@x.com", Subject: "s", Content: "c"})
	require.NoError(t, err)

	require.NoError(t, svc.MoveToTrash(ctx, "b@x.com", sent.Inbox.ID))
	require.NoError(t, svc.MoveToTrash(ctx, "a@x.com", sent.Outbox.ID))

	folder, err := svc.Restore(ctx, "b@x.com", sent.Inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FolderInbox, folder)

	folder, err = svc.Restore(ctx, "a@x.com", sent.Outbox.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FolderSent, folder)

	got, err := svc.Get(ctx, "a@x.com", sent.Outbox.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FolderSent, got.Folder)
}

func TestService_SendToSelfRestoresToInbox(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sent, err := svc.Send(ctx, "a@x.com", Draft{To: "a@x.com", Subject: "note", Content: "c"})
	require.NoError(t, err)

	require.NoError(t, svc.MoveToTrash(ctx, "a@x.com", sent.Outbox.ID))
	folder, err := svc.Restore(ctx, "a@x.com", sent.Outbox.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FolderInbox, folder)
}

func TestService_MutationsDoNotCrossOwners(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sent, err := svc.Send(ctx, "a@x.com", Draft{To: "b@x.com", Subject: "s", Content: "c"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.MarkRead(ctx, "a@x.com", sent.Inbox.ID), store.ErrNotFound)
	assert.ErrorIs(t, svc.DeletePermanently(ctx, "c@x.com", sent.Inbox.ID), store.ErrNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, "", sent.Inbox.ID), auth.ErrSignedOut)

	require.NoError(t, svc.DeletePermanently(ctx, "b@x.com", sent.Inbox.ID))
	_, err = svc.Get(ctx, "a@x.com", sent.Outbox.ID)
	assert.NoError(t, err, "deleting one row keeps its twin")
}

func TestService_BulkOperations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		sent, err := svc.Send(ctx, "a@x.com", Draft{To: "b@x.com", Subject: "s", Content: "c"})
		require.NoError(t, err)
		ids = append(ids, sent.Inbox.ID)
		require.NoError(t, svc.SetStarred(ctx, "b@x.com", sent.Inbox.ID, true))
	}

	cleared, err := svc.ClearStarred(ctx, "b@x.com")
	require.NoError(t, err)
	assert.EqualValues(t, 3, cleared)

	require.NoError(t, svc.MoveToTrash(ctx, "b@x.com", ids[0]))
	require.NoError(t, svc.MoveToTrash(ctx, "b@x.com", ids[1]))
	emptied, err := svc.ClearTrash(ctx, "b@x.com")
	require.NoError(t, err)
	assert.EqualValues(t, 2, emptied)

	deleted, err := svc.DeleteMany(ctx, "b@x.com", []string{ids[2], ids[0]})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	remaining, err := svc.FetchCount(ctx, store.Filter{Owner: "b@x.com"})
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestService_FetchRequiresOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.FetchPage(context.Background(), store.Query{})
	assert.ErrorIs(t, err, auth.ErrSignedOut)
	_, err = svc.FetchCount(context.Background(), store.Filter{})
	assert.ErrorIs(t, err, auth.ErrSignedOut)
}

func TestService_ExportRFC822(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sent, err := svc.Send(ctx, "a@x.com", Draft{To: "b@x.com", Subject: "Hi", Content: "<b>hello</b>"})
	require.NoError(t, err)

	raw, err := svc.ExportRFC822(ctx, "b@x.com", sent.Inbox.ID)
	require.NoError(t, err)

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := reader.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Hi", subject)
	from, err := reader.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "a@x.com", from[0].Address)

	part, err := reader.NextPart()
	require.NoError(t, err)
	inline, ok := part.Header.(*mail.InlineHeader)
	require.True(t, ok)
	mediaType, _, err := inline.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "text/html", mediaType)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "<b>hello</b>", string(body))

	_, err = svc.ExportRFC822(ctx, "a@x.com", sent.Inbox.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
