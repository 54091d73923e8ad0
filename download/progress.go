package download

import (
	"encoding/json"
	"fmt"
	"math"
)

// Status is the state carried by every line the downloader prints.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusConnecting  Status = "connecting"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"

	// StatusSuccess only appears on the final envelope line.
	StatusSuccess Status = "success"
)

// Terminal reports whether no progress record follows s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Progress is one progress record on the downloader's stdout.
type Progress struct {
	URL                string  `json:"url"`
	Filename           string  `json:"filename"`
	TotalSize          uint64  `json:"total_size"`
	Downloaded         uint64  `json:"downloaded"`
	ChunkSize          uint64  `json:"chunk_size"`
	ProgressPercent    float64 `json:"progress_percent"`
	DownloadSpeedBps   float64 `json:"download_speed_bps"`
	DownloadSpeedMbps  float64 `json:"download_speed_mbps"`
	DownloadSpeedHuman string  `json:"download_speed_human"`
	Connections        int     `json:"connections"`
	EtaSeconds         *uint64 `json:"eta_seconds"`
	EtaHuman           *string `json:"eta_human"`
	Status             Status  `json:"status"`
	Error              *string `json:"error"`
}

// fill derives the computed fields from the raw counters.
func (p *Progress) fill() {
	p.ProgressPercent = Percent(p.Downloaded, p.TotalSize)
	p.DownloadSpeedMbps = p.DownloadSpeedBps / (1024 * 1024)
	p.DownloadSpeedHuman = FormatSpeed(p.DownloadSpeedBps)
	if p.EtaSeconds != nil {
		h := FormatDuration(*p.EtaSeconds)
		p.EtaHuman = &h
	} else {
		p.EtaHuman = nil
	}
}

// Envelope is the final line of a downloader run.
type Envelope struct {
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SuccessEnvelope reports a finished download at path.
func SuccessEnvelope(path string) Envelope {
	return Envelope{Status: StatusSuccess, Message: "Download completed successfully", OutputPath: path}
}

// ErrorEnvelope reports a failed run.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Status: StatusError, Error: msg}
}

// Record is the part of any downloader line the supervisor acts on.
type Record struct {
	Status Status `json:"status"`
	Error  string `json:"error"`
}

// ParseLine decodes one stdout line. Lines that are not JSON objects with a
// status are rejected.
func ParseLine(line []byte) (Record, error) {
	var raw struct {
		Status *Status `json:"status"`
		Error  *string `json:"error"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, err
	}
	if raw.Status == nil || *raw.Status == "" {
		return Record{}, fmt.Errorf("line has no status")
	}
	rec := Record{Status: *raw.Status}
	if raw.Error != nil {
		rec.Error = *raw.Error
	}
	return rec, nil
}

// Percent returns round(100·downloaded/total) clamped to [0,100], or 0 when
// total is unknown.
func Percent(downloaded, total uint64) float64 {
	if total == 0 {
		return 0
	}
	p := math.Round(float64(downloaded) / float64(total) * 100)
	return math.Max(0, math.Min(100, p))
}

// FormatSpeed renders a byte rate as "1.50 MB/s" style text.
func FormatSpeed(bps float64) string {
	const (
		kb = 1024.0
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bps >= gb:
		return fmt.Sprintf("%.2f GB/s", bps/gb)
	case bps >= mb:
		return fmt.Sprintf("%.2f MB/s", bps/mb)
	case bps >= kb:
		return fmt.Sprintf("%.2f KB/s", bps/kb)
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

// FormatDuration renders seconds as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(seconds uint64) string {
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%dh %dm %ds", seconds/3600, seconds%3600/60, seconds%60)
	case seconds >= 60:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
