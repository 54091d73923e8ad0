package download

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, float64(0), Percent(10, 0))
	assert.Equal(t, float64(10), Percent(100, 1000))
	assert.Equal(t, float64(33), Percent(1, 3))
	assert.Equal(t, float64(67), Percent(2, 3))
	assert.Equal(t, float64(100), Percent(1500, 1000))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "512 B/s", FormatSpeed(512))
	assert.Equal(t, "1.50 KB/s", FormatSpeed(1536))
	assert.Equal(t, "1.50 MB/s", FormatSpeed(1.5*1024*1024))
	assert.Equal(t, "2.00 GB/s", FormatSpeed(2*1024*1024*1024))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45))
	assert.Equal(t, "2m 3s", FormatDuration(123))
	assert.Equal(t, "1h 2m 3s", FormatDuration(3723))
}

func TestProgressWireShape(t *testing.T) {
	p := &Progress{URL: "https://h/a", Filename: "a", TotalSize: 1000, Downloaded: 500, Connections: 1, Status: StatusDownloading}
	p.fill()
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, k := range []string{
		"url", "filename", "total_size", "downloaded", "chunk_size", "progress_percent",
		"download_speed_bps", "download_speed_mbps", "download_speed_human",
		"connections", "eta_seconds", "eta_human", "status", "error",
	} {
		assert.Contains(t, m, k)
	}
	assert.Nil(t, m["eta_seconds"])
	assert.Nil(t, m["error"])
	assert.Equal(t, float64(50), m["progress_percent"])
}

func TestParseLine(t *testing.T) {
	rec, err := ParseLine([]byte(`{"status":"error","error":"boom","url":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, Record{Status: StatusError, Error: "boom"}, rec)

	rec, err = ParseLine([]byte(`{"status":"completed","error":null}`))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	_, err = ParseLine([]byte(`downloading 50%`))
	assert.Error(t, err)
	_, err = ParseLine([]byte(`{"url":"x"}`))
	assert.Error(t, err)
}

func TestEnvelopes(t *testing.T) {
	data, err := json.Marshal(SuccessEnvelope("/d/a.zip"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","message":"Download completed successfully","output_path":"/d/a.zip"}`, string(data))

	data, err = json.Marshal(ErrorEnvelope("HTTP error: 500"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":"HTTP error: 500"}`, string(data))
}
