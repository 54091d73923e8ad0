package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikoworkspace/mikoproxy/storage/jsonfile"
	"github.com/mikoworkspace/mikoproxy/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestIDFromHeader(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, DefaultID, IDFromHeader(h))

	h.Set(HeaderName, "")
	assert.Equal(t, DefaultID, IDFromHeader(h))

	h.Set(HeaderName, "alice")
	assert.Equal(t, "alice", IDFromHeader(h))

	h[HeaderName] = []string{"\xff\xfe"}
	assert.Equal(t, DefaultID, IDFromHeader(h))
}

func TestPutAndToken(t *testing.T) {
	backend := memory.NewBackend()
	s := New(backend)

	assert.False(t, s.IsAuthenticated("a"))
	s.Put("a", "T1", json.RawMessage(`{"id":"u1"}`))

	tok, ok := s.Token("a")
	require.True(t, ok)
	assert.Equal(t, "T1", tok)
	assert.True(t, s.IsAuthenticated("a"))
	assert.Equal(t, 1, backend.Saves())

	persisted, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", persisted.Sessions["a"].Token)
}

func TestPutEmptyTokenClears(t *testing.T) {
	s := New(memory.NewBackend())
	s.Put("a", "T1", nil)
	s.Put("a", "", json.RawMessage(`{}`))

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.False(t, s.IsAuthenticated("a"))
}

func TestClearPersistsOnlyWhenRemoved(t *testing.T) {
	backend := memory.NewBackend()
	s := New(backend)

	assert.False(t, s.Clear("missing"))
	assert.Equal(t, 0, backend.Saves())

	s.Put("a", "T1", nil)
	assert.True(t, s.Clear("a"))
	assert.Equal(t, 2, backend.Saves())
}

func TestCleanupExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	backend := memory.NewBackend()
	s := New(backend, WithClock(clock.Now), WithTTL(time.Hour))

	s.Put("old", "T1", nil)
	clock.Advance(30 * time.Minute)
	s.Put("new", "T2", nil)
	saves := backend.Saves()

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, s.CleanupExpired(), "exactly TTL old is still valid")
	assert.Equal(t, saves, backend.Saves())

	clock.Advance(time.Second)
	assert.Equal(t, 1, s.CleanupExpired())
	assert.Equal(t, []string{"new"}, s.IDs())
	assert.Equal(t, saves+1, backend.Saves())
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(memory.NewBackend())
	s.Put("a", "T1", json.RawMessage(`{"k":1}`))

	got, ok := s.Get("a")
	require.True(t, ok)
	got.User[1] = 'X'

	again, _ := s.Get("a")
	assert.Equal(t, `{"k":1}`, string(again.User))
}

func TestLoadCorruptStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	s := New(jsonfile.New(path))
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 0, s.Len())
}

// A login survives a restart: a second store over the same file sees it.
func TestRestartRestoresSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), jsonfile.DefaultFilename)
	ctx := context.Background()

	first := New(jsonfile.New(path))
	require.NoError(t, first.Load(ctx))
	first.Put(DefaultID, "T1", json.RawMessage(`{"id":"u1","name":"Alice"}`))

	second := New(jsonfile.New(path))
	require.NoError(t, second.Load(ctx))
	tok, ok := second.Token(DefaultID)
	require.True(t, ok)
	assert.Equal(t, "T1", tok)

	sess, _ := second.Get(DefaultID)
	assert.JSONEq(t, `{"id":"u1","name":"Alice"}`, string(sess.User))
	assert.Equal(t, path, second.Location())
}

func TestConcurrentMutationsPersistFinalState(t *testing.T) {
	backend := memory.NewBackend()
	s := New(backend)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%02d", i)
			s.Put(id, "T"+id, nil)
			if i%2 == 0 {
				s.Clear(id)
			}
			_ = s.IsAuthenticated(id)
		}(i)
	}
	wg.Wait()

	persisted, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.Len(), len(persisted.Sessions))
	assert.Equal(t, 16, s.Len())
	for _, id := range s.IDs() {
		assert.Contains(t, persisted.Sessions, id)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(memory.NewBackend())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
