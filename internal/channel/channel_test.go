package channel

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsmart/shopsync/internal/db"
)

// fakeTransport records deliveries and fails on demand.
type fakeTransport struct {
	mu          sync.Mutex
	reachable   bool
	failMessage bool
	failAfter   int // Transfer fails once this many transfers succeeded; -1 = never
	messages    [][]byte
	transfers   [][]byte
}

func newFakeTransport(reachable bool) *fakeTransport {
	return &fakeTransport{reachable: reachable, failAfter: -1}
}

func (f *fakeTransport) Reachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeTransport) setReachable(v bool) {
	f.mu.Lock()
	f.reachable = v
	f.mu.Unlock()
}

func (f *fakeTransport) SendMessage(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable {
		return ErrUnreachable
	}
	if f.failMessage {
		return errors.New("no ack")
	}
	f.messages = append(f.messages, payload)
	return nil
}

func (f *fakeTransport) Transfer(_ context.Context, _ int64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable {
		return ErrUnreachable
	}
	if f.failAfter >= 0 && len(f.transfers) >= f.failAfter {
		return errors.New("no ack")
	}
	f.transfers = append(f.transfers, payload)
	return nil
}

func (f *fakeTransport) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.messages {
		out = append(out, "msg:"+string(p))
	}
	for _, p := range f.transfers {
		out = append(out, "xfer:"+string(p))
	}
	return out
}

func openConn(t *testing.T, path string) *sql.DB {
	t.Helper()
	database, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database.RawDB()
}

func newTestChannel(t *testing.T, tr Transport) (*Channel, *Queue) {
	t.Helper()
	ctx := context.Background()
	q, err := NewQueue(ctx, openConn(t, filepath.Join(t.TempDir(), "companion.db")))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AckTimeout = time.Second
	cfg.FlushInterval = 20 * time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	return New(tr, q, cfg), q
}

func TestSendIntentImmediateWhenReachable(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(true)
	c, q := newTestChannel(t, tr)

	require.NoError(t, c.SendIntent(ctx, []byte("a")))

	assert.Equal(t, []string{"msg:a"}, tr.delivered())
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendIntentQueuesWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(false)
	c, q := newTestChannel(t, tr)

	require.NoError(t, c.SendIntent(ctx, []byte("a")))
	require.NoError(t, c.SendIntent(ctx, []byte("b")))

	assert.Empty(t, tr.delivered())
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSendIntentFallsBackOnMissingAck(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(true)
	tr.failMessage = true
	tr.failAfter = 0
	c, q := newTestChannel(t, tr)

	require.NoError(t, c.SendIntent(ctx, []byte("a")), "delivery failure is not surfaced")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSendIntentQueuesBehindOlderItems(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(false)
	c, _ := newTestChannel(t, tr)

	require.NoError(t, c.SendIntent(ctx, []byte("a")))
	tr.setReachable(true)
	require.NoError(t, c.SendIntent(ctx, []byte("b")))

	// b must not overtake a.
	_, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"xfer:a", "xfer:b"}, tr.delivered())
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport(false)
	c, q := newTestChannel(t, tr)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, c.SendIntent(ctx, []byte(p)))
	}

	tr.setReachable(true)
	tr.failAfter = 1
	n, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	tr.failAfter = -1
	n, err = c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"xfer:a", "xfer:b", "xfer:c"}, tr.delivered())
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "companion.db")

	first, err := db.Open(path)
	require.NoError(t, err)
	q, err := NewQueue(ctx, first.RawDB())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	q, err = NewQueue(ctx, openConn(t, path))
	require.NoError(t, err)
	items, err := q.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", string(items[0].Payload))
	assert.Equal(t, "b", string(items[1].Payload))
	assert.Less(t, items[0].Seq, items[1].Seq)
}

func TestRunFlushesOnNotify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newFakeTransport(false)
	c, q := newTestChannel(t, tr)
	require.NoError(t, c.SendIntent(ctx, []byte("a")))

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	tr.setReachable(true)
	c.Notify()

	assert.Eventually(t, func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []string{"xfer:a"}, tr.delivered())
}

func TestSlotKeepsLatestValue(t *testing.T) {
	s := NewSlot()
	data, v := s.Get()
	assert.Nil(t, data)
	assert.Zero(t, v)

	changed := s.Changed()
	s.Put([]byte("one"))
	s.Put([]byte("two"))

	select {
	case <-changed:
	default:
		t.Fatal("Changed channel not closed by Put")
	}

	data, v = s.Get()
	assert.Equal(t, "two", string(data))
	assert.Equal(t, uint64(2), v)
}

func TestContextStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewContextStore(ctx, openConn(t, filepath.Join(t.TempDir(), "companion.db")))
	require.NoError(t, err)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, []byte(`{"lists":[]}`)))
	require.NoError(t, store.Save(ctx, []byte(`{"lists":[1]}`)))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"lists":[1]}`, string(got))
}
