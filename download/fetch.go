package download

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultInterval is the minimum time between downloading records.
	DefaultInterval = 100 * time.Millisecond

	readBufferSize  = 32 << 10
	writeBufferSize = 256 << 10
)

// ErrUnsupportedScheme is returned for URLs that are not http or https.
var ErrUnsupportedScheme = errors.New("URL must start with http:// or https://")

// CheckScheme returns ErrUnsupportedScheme unless rawURL is http(s).
func CheckScheme(rawURL string) error {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return nil
	}
	return ErrUnsupportedScheme
}

// Fetcher performs one single-connection download and reports progress as
// line-delimited JSON on Out.
type Fetcher struct {
	Client *http.Client
	Out    io.Writer
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	mu sync.Mutex
}

// Fetch downloads rawURL to the file TargetPath(outputPath, rawURL) and
// returns that path. Every run ends with exactly one completed or error
// record; the caller prints the final envelope.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, outputPath string, headers []Header) (string, error) {
	target := TargetPath(outputPath, rawURL)
	p := &Progress{
		URL:         rawURL,
		Filename:    filepath.Base(target),
		Connections: 1,
		Status:      StatusStarting,
	}
	if err := CheckScheme(rawURL); err != nil {
		return target, f.fail(p, err)
	}
	f.emit(p)

	p.Status = StatusConnecting
	f.emit(p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return target, f.fail(p, err)
	}
	for _, h := range headers {
		req.Header.Add(h.Name, h.Value)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return target, f.fail(p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return target, f.fail(p, fmt.Errorf("HTTP error: %s", resp.Status))
	}
	if resp.ContentLength > 0 {
		p.TotalSize = uint64(resp.ContentLength)
	}
	p.Status = StatusDownloading
	f.emit(p)

	if dir := filepath.Dir(target); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return target, f.fail(p, fmt.Errorf("creating output directory: %w", err))
		}
	}
	file, err := os.Create(target)
	if err != nil {
		return target, f.fail(p, err)
	}
	if err := f.copy(p, file, resp.Body); err != nil {
		file.Close()
		os.Remove(target)
		return target, f.fail(p, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(target)
		return target, f.fail(p, err)
	}

	p.Status = StatusCompleted
	f.emit(p)
	return target, nil
}

func (f *Fetcher) copy(p *Progress, file *os.File, body io.Reader) error {
	now := f.Now
	if now == nil {
		now = time.Now
	}
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	w := bufio.NewWriterSize(file, writeBufferSize)
	buf := make([]byte, readBufferSize)
	lastEmit := now()
	var sinceEmit uint64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			p.Downloaded += uint64(n)
			p.ChunkSize = uint64(n)
			sinceEmit += uint64(n)

			t := now()
			if elapsed := t.Sub(lastEmit); elapsed >= interval {
				p.DownloadSpeedBps = float64(sinceEmit) / elapsed.Seconds()
				sinceEmit = 0
				lastEmit = t
				p.EtaSeconds = eta(p.TotalSize, p.Downloaded, p.DownloadSpeedBps)
				f.emit(p)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("stream error: %w", readErr)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

func eta(total, downloaded uint64, speed float64) *uint64 {
	if total == 0 || speed <= 0 || downloaded > total {
		return nil
	}
	s := uint64(float64(total-downloaded) / speed)
	return &s
}

// fail emits the terminal error record and returns err.
func (f *Fetcher) fail(p *Progress, err error) error {
	msg := err.Error()
	p.Status = StatusError
	p.Error = &msg
	f.emit(p)
	return err
}

func (f *Fetcher) emit(p *Progress) {
	p.fill()
	f.mu.Lock()
	defer f.mu.Unlock()
	WriteLine(f.Out, p)
}

// WriteLine writes v as one JSON line. Write errors are ignored: a closed
// stdout means nobody is listening.
func WriteLine(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write(append(data, '\n'))
}
