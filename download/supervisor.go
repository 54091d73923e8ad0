package download

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/mikoworkspace/mikoproxy/events"
	"github.com/mikoworkspace/mikoproxy/platform"
)

const maxLineSize = 1 << 20

// Notifier shows desktop notifications. platform.Capabilities satisfies it.
type Notifier interface {
	Notify(ctx context.Context, n platform.Notification) error
}

// Request asks for one download into the downloads directory.
type Request struct {
	URL      string   `json:"url"`
	Filename string   `json:"filename"`
	Headers  []Header `json:"headers,omitempty"`
}

// Supervisor spawns the downloader process for each request and relays its
// progress lines to the event bus.
type Supervisor struct {
	exe      string
	dir      string
	bus      *events.Bus
	notifier Notifier
	logger   *slog.Logger
	env      []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*exec.Cmd
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func WithNotifier(n Notifier) Option {
	return func(s *Supervisor) { s.notifier = n }
}

// WithEnv adds KEY=VALUE entries to the downloader's environment.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) { s.env = append(s.env, env...) }
}

// NewSupervisor returns a Supervisor running exe and writing into dir.
func NewSupervisor(exe, dir string, bus *events.Bus, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		exe:    exe,
		dir:    dir,
		bus:    bus,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*exec.Cmd),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = platform.Log{Logger: s.logger}
	}
	s.logger = s.logger.With("component", "download")
	return s
}

// Dir is the downloads directory.
func (s *Supervisor) Dir() string {
	return s.dir
}

// Start launches a download and returns its id. Progress arrives on the bus
// as download-progress events carrying that id. A request that fails before
// the process starts still publishes one error record.
func (s *Supervisor) Start(ctx context.Context, req Request) (string, error) {
	id := uuid.NewString()
	name := URLFilename(req.URL)
	if req.Filename != "" && !isDirectory(req.Filename) {
		name = filepath.Base(req.Filename)
	}

	if err := CheckScheme(req.URL); err != nil {
		s.publishError(ctx, id, req.URL, name, err.Error())
		return id, err
	}
	for _, h := range req.Headers {
		if err := h.Validate(); err != nil {
			s.publishError(ctx, id, req.URL, name, err.Error())
			return id, err
		}
	}
	out, err := ResolveOutputPath(s.dir, req.Filename, req.URL)
	if err != nil {
		s.publishError(ctx, id, req.URL, name, err.Error())
		return id, err
	}
	name = filepath.Base(out)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		err = fmt.Errorf("creating downloads directory: %w", err)
		s.publishError(ctx, id, req.URL, name, err.Error())
		return id, err
	}

	args := []string{req.URL, out}
	for _, h := range req.Headers {
		args = append(args, "-H", h.String())
	}
	cmd := exec.Command(s.exe, args...)
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Stderr = &stderrLogger{logger: s.logger.With("download_id", id)}
	configureCmd(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.publishError(ctx, id, req.URL, name, err.Error())
		return id, err
	}
	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("starting downloader: %w", err)
		s.logger.Error("spawn failed", "download_id", id, "exe", s.exe, "error", err)
		s.publishError(ctx, id, req.URL, name, err.Error())
		s.notify(name, false)
		return id, err
	}

	s.mu.Lock()
	s.active[id] = cmd
	s.mu.Unlock()
	s.logger.Info("download started", "download_id", id, "url", req.URL, "output", out, "pid", cmd.Process.Pid)

	s.wg.Add(1)
	go s.supervise(id, req.URL, name, cmd, stdout)
	return id, nil
}

func (s *Supervisor) supervise(id, rawURL, name string, cmd *exec.Cmd, stdout io.Reader) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}()

	var sawError, sawTerminal bool
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("download supervisor panic", "download_id", id, "panic", rec)
			if !sawTerminal {
				s.publishError(s.ctx, id, rawURL, name, fmt.Sprintf("internal error: %v", rec))
				s.notify(name, false)
			}
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			s.logger.Warn("unparseable downloader output", "download_id", id, "error", err)
			continue
		}
		detail := append(json.RawMessage(nil), line...)
		s.publish(events.Event{Name: events.DownloadProgress, ID: id, Detail: detail})

		switch rec.Status {
		case StatusCompleted:
			sawTerminal = true
			s.notify(name, true)
		case StatusError:
			if !sawError {
				s.notify(name, false)
			}
			sawTerminal = true
			sawError = true
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("reading downloader output", "download_id", id, "error", err)
		// Unblock the child before waiting on it.
		io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	switch {
	case sawError:
	case waitErr != nil:
		msg := fmt.Sprintf("downloader exited: %v", waitErr)
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			msg = fmt.Sprintf("downloader exited with code %d", exitErr.ExitCode())
		}
		s.publishError(s.ctx, id, rawURL, name, msg)
		s.notify(name, false)
	case !sawTerminal:
		s.publishError(s.ctx, id, rawURL, name, "downloader exited without a result")
		s.notify(name, false)
	}
	s.logger.Info("download finished", "download_id", id, "completed", sawTerminal && !sawError && waitErr == nil)
}

func (s *Supervisor) publish(e events.Event) {
	if err := s.bus.Publish(s.ctx, e); err != nil {
		s.logger.Warn("dropping event on shutdown", "event", e.Name, "download_id", e.ID)
	}
}

func (s *Supervisor) publishError(ctx context.Context, id, rawURL, name, msg string) {
	p := &Progress{URL: rawURL, Filename: name, Connections: 1, Status: StatusError, Error: &msg}
	p.fill()
	if err := s.bus.PublishJSON(ctx, events.DownloadProgress, id, p); err != nil {
		s.logger.Warn("dropping error record", "download_id", id, "error", err)
	}
}

func (s *Supervisor) notify(name string, ok bool) {
	n := platform.Notification{Title: "Download Complete", Message: name + " saved to Downloads"}
	if !ok {
		n = platform.Notification{Title: "Download Failed", Message: "Failed to download " + name}
	}
	if err := s.notifier.Notify(s.ctx, n); err != nil {
		s.logger.Warn("notification failed", "error", err)
	}
	if err := s.bus.PublishJSON(s.ctx, events.Notification, "", n); err != nil {
		s.logger.Warn("dropping notification event", "error", err)
	}
}

// Active returns the number of running downloads.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Wait blocks until every started download has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown terminates every running downloader and waits for the reader
// goroutines, or for ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, cmd := range s.active {
		if err := terminate(cmd); err != nil {
			s.logger.Warn("terminating downloader", "download_id", id, "error", err)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		// Unblock publishers stuck on a full bus.
		s.cancel()
		return ctx.Err()
	}
}

type stderrLogger struct {
	logger *slog.Logger
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) > 0 {
			w.logger.Debug("downloader stderr", "line", string(line))
		}
	}
	return len(p), nil
}
