package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampEpochShape(t *testing.T) {
	ts := At(time.Unix(1700000000, 123456789))
	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"secs_since_epoch":1700000000,"nanos_since_epoch":123456789}`, string(data))

	var back Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, ts.Equal(back.Time))
}

func TestTimestampAcceptsAlternateForms(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-05-01T10:00:00Z"`), &ts))
	assert.Equal(t, int64(1714557600), ts.Unix())

	require.NoError(t, json.Unmarshal([]byte(`1714557600`), &ts))
	assert.Equal(t, int64(1714557600), ts.Unix())

	assert.Error(t, json.Unmarshal([]byte(`{"secs_since_epoch":1,"nanos_since_epoch":2000000000}`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`true`), &ts))
}

func TestDecodeDropsTokenlessSessions(t *testing.T) {
	s, err := Decode([]byte(`{"sessions":{
		"a":{"token":"T","user":{"id":1},"login_time":{"secs_since_epoch":10,"nanos_since_epoch":0}},
		"b":{"token":"","user":null,"login_time":{"secs_since_epoch":10,"nanos_since_epoch":0}}
	}}`))
	require.NoError(t, err)
	require.Len(t, s.Sessions, 1)
	assert.Equal(t, "T", s.Sessions["a"].Token)
	assert.JSONEq(t, `{"id":1}`, string(s.Sessions["a"].User))
}

func TestDecodeEmptyAndCorrupt(t *testing.T) {
	s, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, s.Sessions)

	s, err = Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, s.Sessions)

	_, err = Decode([]byte(`{"sessions":`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestEncodeRoundTripIsStable(t *testing.T) {
	in := NewSnapshot()
	in.Sessions["bob"] = Session{Token: "T2", User: json.RawMessage(`{"name":"Bob"}`), LoginTime: At(time.Unix(100, 5))}
	in.Sessions["alice"] = Session{Token: "T1", User: json.RawMessage(`{"id":"u1","name":"Alice"}`), LoginTime: At(time.Unix(200, 0))}

	first, err := Encode(in)
	require.NoError(t, err)

	decoded, err := Decode(first)
	require.NoError(t, err)
	second, err := Encode(decoded)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, byte('\n'), first[len(first)-1])
}

func TestCloneIsDeep(t *testing.T) {
	in := NewSnapshot()
	in.Sessions["a"] = Session{Token: "T", User: json.RawMessage(`{"x":1}`)}
	out := in.Clone()
	out.Sessions["a"].User[2] = 'y'
	delete(out.Sessions, "a")

	require.Contains(t, in.Sessions, "a")
	assert.Equal(t, `{"x":1}`, string(in.Sessions["a"].User))
}
