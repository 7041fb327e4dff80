package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/schema"
)

type countingPusher struct {
	calls atomic.Int64
	err   error
}

func (p *countingPusher) Push(context.Context) error {
	p.calls.Add(1)
	return p.err
}

func testConfig(debounce time.Duration) *Config {
	return &Config{
		DebounceInterval: debounce,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// startDaemon runs a daemon until the test ends.
func startDaemon(t *testing.T, pusher Pusher, dbPath string, config *Config) *Daemon {
	t.Helper()

	d, err := NewWithConfig(pusher, dbPath, config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})

	require.Eventually(t, func() bool { return d.watcher.IsRunning() }, time.Second, 5*time.Millisecond)
	return d
}

func touch(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("x")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shopsync.db")

	tests := []struct {
		name    string
		pusher  Pusher
		path    string
		wantErr bool
	}{
		{name: "valid configuration", pusher: &countingPusher{}, path: dbPath},
		{name: "nil pusher", pusher: nil, path: dbPath, wantErr: true},
		{name: "empty path", pusher: &countingPusher{}, path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.pusher, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, d.Stop())
		})
	}
}

func TestDaemon_InitialPush(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shopsync.db")
	pusher := &countingPusher{}

	d := startDaemon(t, pusher, dbPath, testConfig(50*time.Millisecond))
	assert.EqualValues(t, 1, d.Pushes())
}

func TestDaemon_InitialPushFailure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shopsync.db")
	d, err := NewWithConfig(&countingPusher{err: errors.New("boom")}, dbPath, testConfig(50*time.Millisecond))
	require.NoError(t, err)
	defer d.Stop()

	assert.Error(t, d.Start(context.Background()))
}

func TestDaemon_PushesAfterWrite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shopsync.db")
	pusher := &countingPusher{}
	startDaemon(t, pusher, dbPath, testConfig(50*time.Millisecond))

	touch(t, dbPath+"-wal")

	assert.Eventually(t, func() bool { return pusher.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestDaemon_DebounceMultipleChanges(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shopsync.db")
	pusher := &countingPusher{}
	startDaemon(t, pusher, dbPath, testConfig(200*time.Millisecond))

	// Writes faster than the debounce interval collapse into one push.
	for i := 0; i < 5; i++ {
		touch(t, dbPath)
		time.Sleep(30 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return pusher.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.EqualValues(t, 2, pusher.calls.Load())
}

func TestDaemon_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "shopsync.db")
	pusher := &countingPusher{}
	startDaemon(t, pusher, dbPath, testConfig(50*time.Millisecond))

	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "shopsync.db.bak"))
	touch(t, filepath.Join(dir, "shopsync.db-shm"))

	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, pusher.calls.Load())
}

// A second connection stands in for a CLI command run in another terminal.
func TestDaemon_ExternalCommit(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "shopsync.db")

	primary, err := db.Open(dbPath)
	require.NoError(t, err)
	defer primary.Close()
	require.NoError(t, primary.InitSchema())

	pusher := &countingPusher{}
	startDaemon(t, pusher, dbPath, testConfig(50*time.Millisecond))

	other, err := db.Open(dbPath)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.UpsertItem(ctx, &schema.Item{ID: "milk", Name: "Milk"}))

	assert.Eventually(t, func() bool { return pusher.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shopsync.db")
	d := startDaemon(t, &countingPusher{}, dbPath, testConfig(50*time.Millisecond))

	assert.NoError(t, d.Stop())
	assert.NoError(t, d.Stop())
	assert.False(t, d.watcher.IsRunning())
}
