// Package storagetest holds a conformance suite shared by every
// storage.Backend implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mikoworkspace/mikoproxy/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Backend

// Run exercises the Backend contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	t.Run("EmptyLoad", func(t *testing.T) {
		b := newBackend(t)
		snap, err := b.Load(ctx)
		require.NoError(t, err)
		assert.NotNil(t, snap.Sessions)
		assert.Empty(t, snap.Sessions)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		b := newBackend(t)
		in := sample()
		require.NoError(t, b.Save(ctx, in))

		out, err := b.Load(ctx)
		require.NoError(t, err)
		assertSnapshotEqual(t, in, out)

		// save(load(F)) must reproduce F.
		require.NoError(t, b.Save(ctx, out))
		again, err := b.Load(ctx)
		require.NoError(t, err)
		assertSnapshotEqual(t, in, again)
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, sample()))

		next := storage.NewSnapshot()
		next.Sessions["carol"] = storage.Session{
			Token:     "T3",
			User:      json.RawMessage(`{"name":"Carol"}`),
			LoginTime: storage.At(time.Unix(1700000300, 0)),
		}
		require.NoError(t, b.Save(ctx, next))

		out, err := b.Load(ctx)
		require.NoError(t, err)
		assertSnapshotEqual(t, next, out)
	})

	t.Run("SaveEmpty", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, sample()))
		require.NoError(t, b.Save(ctx, storage.NewSnapshot()))

		out, err := b.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, out.Sessions)
	})

	t.Run("Location", func(t *testing.T) {
		b := newBackend(t)
		assert.NotEmpty(t, b.Location())
	})
}

func sample() storage.Snapshot {
	s := storage.NewSnapshot()
	s.Sessions["desktop-session"] = storage.Session{
		Token:     "T1",
		User:      json.RawMessage(`{"id":"u1","name":"Alice"}`),
		LoginTime: storage.At(time.Unix(1700000000, 250)),
	}
	s.Sessions["bob"] = storage.Session{
		Token:     "T2",
		User:      json.RawMessage(`{"id":"u2","roles":["admin"]}`),
		LoginTime: storage.At(time.Unix(1700000100, 0)),
	}
	return s
}

func assertSnapshotEqual(t *testing.T, want, got storage.Snapshot) {
	t.Helper()
	require.Len(t, got.Sessions, len(want.Sessions))
	for id, w := range want.Sessions {
		g, ok := got.Sessions[id]
		require.True(t, ok, "missing session %q", id)
		assert.Equal(t, w.Token, g.Token)
		assert.JSONEq(t, string(w.User), string(g.User))
		assert.True(t, w.LoginTime.Equal(g.LoginTime.Time), "login_time for %q: want %v got %v", id, w.LoginTime, g.LoginTime)
	}
}
