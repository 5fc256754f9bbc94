package badge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCounter answers by folder/read filter and can fail or block one kind.
type fakeCounter struct {
	mu     sync.Mutex
	values map[Kind]int
	fail   map[Kind]error
	block  map[Kind]bool
	calls  atomic.Int64
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		values: map[Kind]int{},
		fail:   map[Kind]error{},
		block:  map[Kind]bool{},
	}
}

func kindOf(filter store.Filter) Kind {
	switch {
	case filter.Folder == store.FolderTrash:
		return KindTrash
	case filter.Folder == store.FolderSent:
		return KindSent
	default:
		return KindUnread
	}
}

func (f *fakeCounter) FetchCount(ctx context.Context, filter store.Filter) (int, error) {
	f.calls.Add(1)
	kind := kindOf(filter)
	f.mu.Lock()
	value, err, block := f.values[kind], f.fail[kind], f.block[kind]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (f *fakeCounter) set(kind Kind, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[kind] = value
}

func (f *fakeCounter) setErr(kind Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[kind] = err
}

func signedIn(address string) IdentityFunc {
	return func() auth.Identity { return auth.SignedIn(address) }
}

func runSync(t *testing.T, s *Synchronizer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func TestSynchronizer_ImmediatePassThenInterval(t *testing.T) {
	counter := newFakeCounter()
	counter.set(KindUnread, 7)
	counter.set(KindTrash, 2)
	counter.set(KindSent, 3)
	badges := NewStore()
	s := NewSynchronizer(counter, signedIn("b@x.com"), badges, nil, WithInterval(time.Hour))

	cancel, done := runSync(t, s)
	require.Eventually(t, func() bool {
		c := badges.Snapshot()
		return c.Unread == 7 && c.Trash == 2 && c.Sent == 3
	}, time.Second, 5*time.Millisecond, "first pass must not wait for the interval")

	cancel()
	require.NoError(t, <-done)
}

func TestSynchronizer_PicksUpChangesOnTick(t *testing.T) {
	counter := newFakeCounter()
	counter.set(KindUnread, 1)
	badges := NewStore()
	s := NewSynchronizer(counter, signedIn("b@x.com"), badges, nil, WithInterval(10*time.Millisecond))

	cancel, done := runSync(t, s)
	require.Eventually(t, func() bool { return badges.Snapshot().Unread == 1 }, time.Second, 5*time.Millisecond)
	counter.set(KindUnread, 4)
	require.Eventually(t, func() bool { return badges.Snapshot().Unread == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSynchronizer_PartialFailureKeepsPreviousValue(t *testing.T) {
	counter := newFakeCounter()
	counter.set(KindUnread, 5)
	counter.set(KindTrash, 1)
	counter.set(KindSent, 9)
	badges := NewStore()
	s := NewSynchronizer(counter, signedIn("b@x.com"), badges, nil, WithInterval(10*time.Millisecond))

	cancel, done := runSync(t, s)
	require.Eventually(t, func() bool { return badges.Snapshot().Sent == 9 }, time.Second, 5*time.Millisecond)

	counter.setErr(KindTrash, errors.New("store down"))
	counter.set(KindTrash, 100)
	counter.set(KindUnread, 6)
	require.Eventually(t, func() bool { return badges.Snapshot().Unread == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, badges.Snapshot().Trash)

	counter.setErr(KindTrash, nil)
	require.Eventually(t, func() bool { return badges.Snapshot().Trash == 100 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSynchronizer_SlowQueryDoesNotBlockOthers(t *testing.T) {
	counter := newFakeCounter()
	counter.set(KindUnread, 3)
	counter.set(KindSent, 2)
	counter.block[KindTrash] = true
	badges := NewStore()
	s := NewSynchronizer(counter, signedIn("b@x.com"), badges, nil,
		WithInterval(time.Hour), WithQueryTimeout(time.Hour))

	cancel, done := runSync(t, s)
	require.Eventually(t, func() bool {
		c := badges.Snapshot()
		return c.Unread == 3 && c.Sent == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSynchronizer_StopsWhenSignedOut(t *testing.T) {
	counter := newFakeCounter()
	var signedOut atomic.Bool
	identity := func() auth.Identity {
		if signedOut.Load() {
			return auth.Identity{Loaded: true}
		}
		return auth.SignedIn("b@x.com")
	}
	badges := NewStore()
	s := NewSynchronizer(counter, identity, badges, nil, WithInterval(10*time.Millisecond))

	_, done := runSync(t, s)
	require.Eventually(t, func() bool { return counter.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	signedOut.Store(true)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, auth.ErrSignedOut)
	case <-time.After(time.Second):
		t.Fatal("synchronizer kept running after sign-out")
	}

	_, err := badges.Claim()
	assert.NoError(t, err, "writer released on exit")
}

func TestSynchronizer_RequiresIdentityToStart(t *testing.T) {
	counter := newFakeCounter()
	s := NewSynchronizer(counter, func() auth.Identity { return auth.Identity{} }, NewStore(), nil)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, auth.ErrSignedOut)
	assert.Zero(t, counter.calls.Load())
}

func TestSynchronizer_SingleWriter(t *testing.T) {
	badges := NewStore()
	first := NewSynchronizer(newFakeCounter(), signedIn("b@x.com"), badges, nil, WithInterval(time.Hour))
	second := NewSynchronizer(newFakeCounter(), signedIn("b@x.com"), badges, nil, WithInterval(time.Hour))

	cancel, done := runSync(t, first)
	require.Eventually(t, func() bool {
		_, err := badges.Claim()
		return errors.Is(err, ErrWriterClaimed)
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, second.Run(context.Background()), ErrWriterClaimed)

	cancel()
	require.NoError(t, <-done)
}

func TestSynchronizer_TriggerRunsExtraPass(t *testing.T) {
	counter := newFakeCounter()
	badges := NewStore()
	s := NewSynchronizer(counter, signedIn("b@x.com"), badges, nil, WithInterval(time.Hour))

	cancel, done := runSync(t, s)
	require.Eventually(t, func() bool { return counter.calls.Load() == 3 }, time.Second, 5*time.Millisecond)

	counter.set(KindSent, 8)
	s.Trigger()
	s.Trigger()
	require.Eventually(t, func() bool { return badges.Snapshot().Sent == 8 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestStore_SubscribeGetsLatest(t *testing.T) {
	badges := NewStore()
	updates, unsubscribe := badges.Subscribe()
	defer unsubscribe()

	writer, err := badges.Claim()
	require.NoError(t, err)
	defer writer.Release()

	now := time.Now()
	writer.Set(KindUnread, 1, now)
	writer.Set(KindUnread, 2, now)
	writer.Set(KindUnread, 2, now)

	got := <-updates
	assert.Equal(t, 2, got.Unread)
	select {
	case extra := <-updates:
		t.Fatalf("unexpected update %+v", extra)
	default:
	}

	writer.Release()
	writer.Set(KindTrash, 5, now)
	assert.Zero(t, badges.Snapshot().Trash, "released writers cannot write")
}

func TestStore_FirstWritePublishesZero(t *testing.T) {
	badges := NewStore()
	updates, unsubscribe := badges.Subscribe()
	defer unsubscribe()

	writer, err := badges.Claim()
	require.NoError(t, err)
	defer writer.Release()

	now := time.Now()
	writer.Set(KindUnread, 0, now)
	got := <-updates
	assert.Zero(t, got.Unread)
	assert.Equal(t, now, got.UpdatedAt)

	writer.Set(KindUnread, 0, now)
	select {
	case extra := <-updates:
		t.Fatalf("unchanged value published again: %+v", extra)
	default:
	}
}

func TestSynchronizer_EmptyMailboxIsPublished(t *testing.T) {
	badges := NewStore()
	updates, unsubscribe := badges.Subscribe()
	defer unsubscribe()
	s := NewSynchronizer(newFakeCounter(), signedIn("c@x.com"), badges, nil, WithInterval(time.Hour))

	cancel, done := runSync(t, s)
	select {
	case got := <-updates:
		assert.Zero(t, got.Unread)
		assert.Zero(t, got.Trash)
		assert.Zero(t, got.Sent)
		assert.False(t, got.UpdatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no counts published for an empty mailbox")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestFetchCounts(t *testing.T) {
	counter := newFakeCounter()
	counter.set(KindUnread, 1)
	counter.set(KindTrash, 2)
	counter.set(KindSent, 3)

	counts, err := FetchCounts(context.Background(), counter, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Unread)
	assert.Equal(t, 2, counts.Trash)
	assert.Equal(t, 3, counts.Sent)

	counter.setErr(KindSent, errors.New("boom"))
	_, err = FetchCounts(context.Background(), counter, "b@x.com")
	assert.Error(t, err)
}

func TestKindFilter(t *testing.T) {
	unread := KindUnread.Filter("b@x.com")
	assert.Equal(t, store.FolderInbox, unread.Folder)
	require.NotNil(t, unread.Read)
	assert.False(t, *unread.Read)
	assert.Equal(t, store.FolderTrash, KindTrash.Filter("b@x.com").Folder)
	assert.Equal(t, store.FolderSent, KindSent.Filter("b@x.com").Folder)
}
