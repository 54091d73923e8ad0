package ipc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikoworkspace/mikoproxy/events"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Handler executes one raw UI message. *Dispatcher satisfies it.
type Handler interface {
	Dispatch(ctx context.Context, raw []byte) error
}

// DefaultOrigins are the origins the desktop shell's webview loads the UI
// from: its custom protocol as macOS and Linux report it, and the http(s)
// form Windows maps it to.
var DefaultOrigins = []string{"miko://app", "http://miko.app", "https://miko.app"}

// Bridge serves the UI's WebSocket. Inbound text frames are commands; bus
// events are written out in order. Only one UI is connected at a time: a
// new connection replaces the previous one.
type Bridge struct {
	bus      *events.Bus
	handler  Handler
	logger   *slog.Logger
	origins  map[string]bool
	upgrader websocket.Upgrader

	mu      sync.Mutex
	current *websocket.Conn
	cancel  context.CancelFunc
	// writerDone closes when the current connection's write loop exits.
	writerDone chan struct{}
	// pending holds an event taken off the bus whose write failed, so the
	// next connection gets it first.
	pending *events.Event
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithAllowedOrigins replaces DefaultOrigins. Requests without an Origin
// header (native clients) are always accepted.
func WithAllowedOrigins(origins ...string) BridgeOption {
	return func(b *Bridge) {
		b.origins = make(map[string]bool, len(origins))
		for _, o := range origins {
			b.origins[normalizeOrigin(o)] = true
		}
	}
}

func NewBridge(bus *events.Bus, handler Handler, logger *slog.Logger, opts ...BridgeOption) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		bus:     bus,
		handler: handler,
		logger:  logger.With("component", "ipc"),
	}
	WithAllowedOrigins(DefaultOrigins...)(b)
	for _, opt := range opts {
		opt(b)
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     b.originAllowed,
	}
	return b
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}

func (b *Bridge) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || b.origins[normalizeOrigin(origin)]
}

// IsLoopback reports whether remoteAddr ("host:port") is a loopback address.
func IsLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.IsLoopback()
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"Forbidden"}` + "\n"))
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !IsLoopback(r.RemoteAddr) {
		b.logger.Warn("refusing non-local ipc peer", "remote_addr", r.RemoteAddr)
		forbidden(w)
		return
	}
	if !b.originAllowed(r) {
		b.logger.Warn("refusing ipc origin", "origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
		forbidden(w)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	done := make(chan struct{})
	b.mu.Lock()
	if b.current != nil {
		b.logger.Info("replacing ui connection")
		b.cancel()
		b.current.Close()
	}
	prev := b.writerDone
	b.current, b.cancel, b.writerDone = conn, cancel, done
	b.mu.Unlock()
	b.logger.Info("ui connected", "remote_addr", r.RemoteAddr)

	go func() {
		defer close(done)
		// The previous writer may still hold an event it failed to send;
		// it parks it in pending before exiting. Its context is already
		// canceled, so the wait is short.
		if prev != nil {
			<-prev
		}
		b.writeLoop(ctx, conn)
	}()
	b.readLoop(ctx, conn)

	cancel()
	conn.Close()
	<-done
	b.mu.Lock()
	if b.current == conn {
		b.current, b.cancel = nil, nil
	}
	b.mu.Unlock()
	b.logger.Info("ui disconnected", "remote_addr", r.RemoteAddr)
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := b.handler.Dispatch(ctx, data); err != nil {
			b.logger.Debug("command failed", "error", err)
		}
	}
}

func (b *Bridge) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		e, err := b.next(ctx)
		if err != nil {
			return
		}
		data, err := json.Marshal(e)
		if err != nil {
			b.logger.Error("encoding event", "event", e.Name, "error", err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.mu.Lock()
			b.pending = &e
			b.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func (b *Bridge) next(ctx context.Context) (events.Event, error) {
	b.mu.Lock()
	if p := b.pending; p != nil {
		b.pending = nil
		b.mu.Unlock()
		return *p, nil
	}
	b.mu.Unlock()
	return b.bus.Receive(ctx)
}

// Close drops the current connection, if any.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	b.cancel()
	return b.current.Close()
}
