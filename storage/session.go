package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Session is one persisted login: the upstream bearer token, the user blob
// returned by the upstream login (kept verbatim) and when it was minted.
type Session struct {
	Token     string          `json:"token"`
	User      json.RawMessage `json:"user"`
	LoginTime Timestamp       `json:"login_time"`
}

// Snapshot is the full persisted state: {"sessions": {<id>: Session}}.
type Snapshot struct {
	Sessions map[string]Session `json:"sessions"`
}

// NewSnapshot returns an empty snapshot with an allocated map.
func NewSnapshot() Snapshot {
	return Snapshot{Sessions: make(map[string]Session)}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Sessions: make(map[string]Session, len(s.Sessions))}
	for id, sess := range s.Sessions {
		out.Sessions[id] = sess.Clone()
	}
	return out
}

// Clone returns a copy of s that shares no memory with it.
func (s Session) Clone() Session {
	if s.User != nil {
		s.User = append(json.RawMessage(nil), s.User...)
	}
	return s
}

// Encode renders s as indented JSON with a trailing newline. Map keys are
// sorted, so equal snapshots always encode to equal bytes.
func Encode(s Snapshot) ([]byte, error) {
	if s.Sessions == nil {
		s.Sessions = map[string]Session{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding sessions: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses data produced by Encode (or by earlier desktop releases).
// Entries with an empty token are dropped: a session only exists while it
// holds a token.
func Decode(data []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewSnapshot(), nil
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.Sessions == nil {
		s.Sessions = make(map[string]Session)
	}
	for id, sess := range s.Sessions {
		if sess.Token == "" {
			delete(s.Sessions, id)
		}
	}
	return s, nil
}

// Timestamp is a wall-clock instant stored as
// {"secs_since_epoch": N, "nanos_since_epoch": N}. Decoding also accepts an
// RFC 3339 string or a bare number of unix seconds.
type Timestamp struct {
	time.Time
}

// At wraps t, dropping its monotonic reading.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t.Round(0)}
}

type epochTime struct {
	Secs  int64 `json:"secs_since_epoch"`
	Nanos int64 `json:"nanos_since_epoch"`
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal(epochTime{})
	}
	return json.Marshal(epochTime{Secs: t.Unix(), Nanos: int64(t.Nanosecond())})
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		t.Time = time.Time{}
		return nil
	case len(data) > 0 && data[0] == '{':
		var e epochTime
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if e.Nanos < 0 || e.Nanos >= int64(time.Second) {
			return fmt.Errorf("nanos_since_epoch out of range: %d", e.Nanos)
		}
		if e.Secs == 0 && e.Nanos == 0 {
			t.Time = time.Time{}
			return nil
		}
		t.Time = time.Unix(e.Secs, e.Nanos)
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	default:
		secs, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("unsupported timestamp %s", data)
		}
		t.Time = time.Unix(secs, 0)
		return nil
	}
}
