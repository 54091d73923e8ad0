package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mikoworkspace/mikoproxy/session"
)

const proxyTimeout = 30 * time.Second

// Inbound headers never forwarded upstream.
var skipRequestHeaders = map[string]bool{
	"Host":             true,
	"Origin":           true,
	"Referer":          true,
	"X-Session-Id":     true,
	"Connection":       true,
	"Upgrade":          true,
	"Proxy-Connection": true,
}

// Upstream headers never copied to the client. Content-Length is recomputed
// after decoding.
var skipResponseHeaders = map[string]bool{
	"Connection":        true,
	"Transfer-Encoding": true,
	"Content-Encoding":  true,
	"Content-Length":    true,
}

// Proxy forwards any request not served by a named route to the upstream
// target owning the longest matching path prefix, attaching the session's
// auth cookie. An upstream 401 clears the session before the response is
// returned.
func (a *API) Proxy(w http.ResponseWriter, r *http.Request) {
	prefix, target, ok := a.targets.Match(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	sessionID := session.IDFromHeader(r.Header)
	token, ok := a.sessions.Token(sessionID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	// The upstream call outlives a disconnecting client; its result is
	// then discarded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), proxyTimeout)
	defer cancel()

	var reqBody io.Reader = http.NoBody
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	dest := targetURL(prefix, target, r.URL)
	upReq, err := http.NewRequestWithContext(ctx, r.Method, dest, reqBody)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Proxy request failed: "+err.Error())
		return
	}
	upReq.Header = rewriteRequestHeaders(r.Header, target.Headers, token, len(body) > 0)

	start := time.Now()
	resp, err := a.proxyClient.Do(upReq)
	if err != nil {
		a.logger.Warn("proxy request failed", "method", r.Method, "target", dest, "error", err)
		writeError(w, http.StatusBadGateway, "Proxy request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		a.sessions.Clear(sessionID)
		a.audit.logFailure(AuditSessionInvalidated, r, sessionID, "upstream returned 401",
			slog.String("path", r.URL.Path))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		a.logger.Warn("reading upstream response failed", "target", dest, "error", err)
		writeError(w, http.StatusBadGateway, "Proxy request failed: "+err.Error())
		return
	}

	encoding := resp.Header.Get("Content-Encoding")
	out, decoded, err := decodeBody(encoding, raw)
	if err != nil {
		a.logger.Warn("decoding upstream response failed", "target", dest, "encoding", encoding, "error", err)
	}
	if !decoded {
		out = raw
	}

	h := w.Header()
	for name, values := range resp.Header {
		if skipResponseHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		h[name] = append([]string(nil), values...)
	}
	if !decoded {
		h.Set("Content-Encoding", encoding)
	}
	setCORSHeaders(h)
	if bodyAllowed(resp.StatusCode) && r.Method != http.MethodHead {
		h.Set("Content-Length", strconv.Itoa(len(out)))
	}

	a.logger.Debug("proxied",
		"method", r.Method,
		"target", dest,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		w.Write(out)
	}
}

// rewriteRequestHeaders builds the upstream header set: inbound headers
// minus the hop and identity ones, then the target's extra headers, then the
// auth cookie, then a JSON content type for bodies that lack one.
func rewriteRequestHeaders(in http.Header, extra map[string]string, token string, hasBody bool) http.Header {
	out := make(http.Header, len(in)+len(extra)+1)
	for name, values := range in {
		if skipRequestHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	for name, value := range extra {
		out.Set(name, value)
	}
	out.Set("Cookie", authCookie(token))
	if hasBody && out.Get("Content-Type") == "" {
		out.Set("Content-Type", "application/json")
	}
	return out
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}
