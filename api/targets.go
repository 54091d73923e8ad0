package api

import (
	"fmt"
	"maps"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/mikoworkspace/mikoproxy/config"
)

// Targets is the proxy's prefix → upstream table. It can be changed while
// the server runs.
type Targets struct {
	mu    sync.RWMutex
	table map[string]config.Target
}

// NewTargets returns a table holding a copy of initial.
func NewTargets(initial map[string]config.Target) *Targets {
	t := &Targets{table: make(map[string]config.Target, len(initial))}
	for prefix, target := range initial {
		t.table[prefix] = cloneTarget(target)
	}
	return t
}

// Set adds or replaces the target for prefix.
func (t *Targets) Set(prefix string, target config.Target) error {
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("target prefix %q must start with /", prefix)
	}
	t.mu.Lock()
	t.table[prefix] = cloneTarget(target)
	t.mu.Unlock()
	return nil
}

// Remove deletes prefix and reports whether it was present. The last
// target cannot be removed.
func (t *Targets) Remove(prefix string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.table[prefix]; !ok {
		return false, nil
	}
	if len(t.table) == 1 {
		return false, config.ErrNoTargets
	}
	delete(t.table, prefix)
	return true, nil
}

// Replace swaps the whole table.
func (t *Targets) Replace(table map[string]config.Target) error {
	if len(table) == 0 {
		return config.ErrNoTargets
	}
	next := make(map[string]config.Target, len(table))
	for prefix, target := range table {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("target prefix %q must start with /", prefix)
		}
		next[prefix] = cloneTarget(target)
	}
	t.mu.Lock()
	t.table = next
	t.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the table.
func (t *Targets) Snapshot() map[string]config.Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]config.Target, len(t.table))
	for prefix, target := range t.table {
		out[prefix] = cloneTarget(target)
	}
	return out
}

// Match returns the longest prefix that matches path on a segment boundary
// ("/api" matches "/api" and "/api/x" but not "/apix") and its target.
func (t *Targets) Match(path string) (string, config.Target, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := ""
	found := false
	for prefix := range t.table {
		if !prefixMatches(prefix, path) {
			continue
		}
		if !found || len(prefix) > len(best) {
			best, found = prefix, true
		}
	}
	if !found {
		return "", config.Target{}, false
	}
	return best, cloneTarget(t.table[best]), true
}

func prefixMatches(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// targetURL builds the upstream URL for u matched under prefix.
func targetURL(prefix string, target config.Target, u *url.URL) string {
	path := u.EscapedPath()
	if target.StripPrefix {
		path = strings.TrimPrefix(path, prefix)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	}
	if target.PathPrefix != "" {
		path = strings.TrimSuffix(target.PathPrefix, "/") + path
	}

	var b strings.Builder
	b.WriteString("http://")
	b.WriteString(net.JoinHostPort(target.Host, strconv.Itoa(target.Port)))
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

func cloneTarget(t config.Target) config.Target {
	t.Headers = maps.Clone(t.Headers)
	return t
}
