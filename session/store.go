// Package session keeps the upstream login tokens of local clients, keyed by
// session id, and persists them through a storage.Backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mikoworkspace/mikoproxy/storage"
)

const (
	// HeaderName carries the client-chosen session id.
	HeaderName = "X-Session-Id"
	// DefaultID is used when a request carries no usable session id.
	DefaultID = "desktop-session"
	// DefaultTTL is how long a login stays valid.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultSweepInterval is how often Run removes expired sessions.
	DefaultSweepInterval = time.Hour

	persistTimeout = 10 * time.Second
)

// IDFromHeader returns the session id named by h, or DefaultID when the
// header is absent, empty or not valid UTF-8.
func IDFromHeader(h http.Header) string {
	id := h.Get(HeaderName)
	if id == "" || !utf8.ValidString(id) {
		return DefaultID
	}
	return id
}

// Store is the process-wide session table. The map is guarded by mu, which
// is never held across backend I/O; persistMu orders snapshot-then-write so
// the last write always reflects the last mutation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]storage.Session

	persistMu sync.Mutex
	backend   storage.Backend

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty Store persisting to backend. Call Load to restore
// previously saved sessions.
func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]storage.Session),
		backend:  backend,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Load replaces the in-memory table with the backend's contents. Missing
// data yields an empty table; unreadable data is logged and also yields an
// empty table. Neither is an error for the caller.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			s.logger.Error("session data is corrupt, starting empty", "location", s.backend.Location(), "error", err)
		} else {
			s.logger.Error("loading sessions failed, starting empty", "location", s.backend.Location(), "error", err)
		}
		snap = storage.NewSnapshot()
	}

	s.mu.Lock()
	s.sessions = snap.Sessions
	n := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("sessions loaded", "count", n, "location", s.backend.Location())
	return nil
}

// IsAuthenticated reports whether id holds a token.
func (s *Store) IsAuthenticated(id string) bool {
	_, ok := s.Token(id)
	return ok
}

// Token returns the upstream token for id.
func (s *Store) Token(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Token == "" {
		return "", false
	}
	return sess.Token, true
}

// Get returns a copy of the session stored under id.
func (s *Store) Get(id string) (storage.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.Session{}, false
	}
	return sess.Clone(), true
}

// Put stores token and user under id with the current time as login time
// and persists. An empty token clears the session instead.
func (s *Store) Put(id, token string, user json.RawMessage) {
	if token == "" {
		s.Clear(id)
		return
	}
	sess := storage.Session{
		Token:     token,
		User:      append(json.RawMessage(nil), user...),
		LoginTime: storage.At(s.now()),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Debug("session stored", "session_id", id, "token", redact(token))
	s.persist()
}

// Clear removes id and reports whether it existed. Persists only when
// something was removed.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.logger.Debug("session cleared", "session_id", id)
		s.persist()
	}
	return ok
}

// CleanupExpired removes sessions older than the TTL and returns how many
// were removed.
func (s *Store) CleanupExpired() int {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LoginTime.Time) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("expired sessions removed", "count", removed)
		s.persist()
	}
	return removed
}

// Run calls CleanupExpired every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired()
		}
	}
}

// IDs returns the stored session ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Location describes where sessions are persisted.
func (s *Store) Location() string {
	return s.backend.Location()
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Snapshot returns a deep copy of the table.
func (s *Store) Snapshot() storage.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storage.Snapshot{Sessions: s.sessions}.Clone()
}

// persist writes the current table. Failures are logged; the in-memory
// table stays authoritative.
func (s *Store) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap := s.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.backend.Save(ctx, snap); err != nil {
		s.logger.Error("persisting sessions failed", "location", s.backend.Location(), "error", err)
	}
}

func redact(token string) string {
	if len(token) <= 8 {
		return "…"
	}
	return token[:8] + "…"
}
