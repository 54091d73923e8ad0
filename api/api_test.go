package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikoworkspace/mikoproxy/api"
	"github.com/mikoworkspace/mikoproxy/config"
	"github.com/mikoworkspace/mikoproxy/session"
	"github.com/mikoworkspace/mikoproxy/storage/memory"
)

// upstream is a scripted ERP double that records every request it sees.
type upstream struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	handler  http.HandlerFunc
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{handler: h}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.requests = append(u.requests, r.Clone(r.Context()))
		u.bodies = append(u.bodies, body)
		handler := u.handler
		u.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) setHandler(h http.HandlerFunc) {
	u.mu.Lock()
	u.handler = h
	u.mu.Unlock()
}

func (u *upstream) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func (u *upstream) last() (*http.Request, []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[len(u.requests)-1], u.bodies[len(u.bodies)-1]
}

type harness struct {
	srv      *httptest.Server
	up       *upstream
	store    *session.Store
	backend  *memory.Backend
	targets  *api.Targets
	upstream string
}

func setupServer(t *testing.T, h http.HandlerFunc, opts ...api.Option) *harness {
	t.Helper()
	up := newUpstream(t, h)

	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	backend := memory.NewBackend()
	store := session.New(backend)
	targets := api.NewTargets(map[string]config.Target{
		"/api": {
			Host: host,
			Port: port,
			Headers: map[string]string{
				"X-Forwarded-For":   "127.0.0.1",
				"X-Forwarded-Proto": "http",
			},
		},
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]api.Option{api.WithLogger(logger)}, opts...)
	a := api.New(store, targets, up.URL, opts...)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	return &harness{srv: srv, up: up, store: store, backend: backend, targets: targets, upstream: up.URL}
}

func doRequest(t *testing.T, method, url, sessionID string, body []byte, header http.Header) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, reader)
	require.NoError(t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(readBody(t, resp), v))
}

func assertCORS(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS, PATCH", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization, X-Requested-With, Accept, Origin, Cache-Control, Pragma, X-Session-Id", h.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "false", h.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", h.Get("Access-Control-Max-Age"))
}

const aliceLogin = `{"success":true,"token":"T1","user":{"id":"u1","name":"Alice"}}`

// erp answers logins with aliceLogin and echoes the Cookie header for
// everything else.
func erp(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/auth/login" {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, aliceLogin)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"cookie": r.Header.Get("Cookie"),
		"path":   r.URL.RequestURI(),
	})
}

func login(t *testing.T, h *harness, sessionID string) {
	t.Helper()
	resp := doRequest(t, http.MethodPost, h.srv.URL+"/auth/login", sessionID,
		[]byte(`{"identifier":"MR004","password":"15122544"}`), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)
	require.True(t, h.store.IsAuthenticated(sessionID))
}

func TestLoginThenProxiedGet(t *testing.T) {
	h := setupServer(t, erp)

	resp := doRequest(t, http.MethodPost, h.srv.URL+"/auth/login", "alice",
		[]byte(`{"identifier":"MR004","password":"15122544"}`), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertCORS(t, resp.Header)
	assert.JSONEq(t, aliceLogin, string(readBody(t, resp)))

	upReq, upBody := h.up.last()
	assert.Equal(t, "/api/auth/login", upReq.URL.Path)
	assert.Equal(t, http.MethodPost, upReq.Method)
	assert.Equal(t, "application/json", upReq.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"identifier":"MR004","password":"15122544"}`, string(upBody))

	persisted, err := h.backend.Load(t.Context())
	require.NoError(t, err)
	require.Contains(t, persisted.Sessions, "alice")
	assert.Equal(t, "T1", persisted.Sessions["alice"].Token)
	assert.JSONEq(t, `{"id":"u1","name":"Alice"}`, string(persisted.Sessions["alice"].User))

	resp = doRequest(t, http.MethodGet, h.srv.URL+"/api/threads?limit=10", "alice", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertCORS(t, resp.Header)
	var echo map[string]string
	decodeInto(t, resp, &echo)
	assert.Equal(t, "auth-token=T1", echo["cookie"])
	assert.Equal(t, "/api/threads?limit=10", echo["path"])
}

func TestUpstream401InvalidatesSession(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")

	h.up.setHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"token expired"}`)
	})

	resp := doRequest(t, http.MethodGet, h.srv.URL+"/api/threads", "alice", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assertCORS(t, resp.Header)
	assert.JSONEq(t, `{"error":"token expired"}`, string(readBody(t, resp)))
	assert.False(t, h.store.IsAuthenticated("alice"))

	resp = doRequest(t, http.MethodGet, h.srv.URL+"/auth/status", "alice", nil, nil)
	var status api.StatusResponse
	decodeInto(t, resp, &status)
	assert.False(t, status.Authenticated)
	assert.Nil(t, status.SessionInfo)
	assert.Equal(t, "alice", status.SessionID)

	before := h.up.count()
	resp = doRequest(t, http.MethodGet, h.srv.URL+"/api/threads", "alice", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	readBody(t, resp)
	assert.Equal(t, before, h.up.count())
}

func TestClientDisconnectDoesNotCancelForward(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")

	arrived := make(chan struct{})
	release := make(chan struct{})
	h.up.setHandler(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"token expired"}`)
	})

	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/api/threads", nil)
	require.NoError(t, err)
	req.Header.Set("X-Session-Id", "alice")
	clientErr := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		clientErr <- err
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the upstream")
	}
	cancel()
	require.Error(t, <-clientErr)
	assert.True(t, h.store.IsAuthenticated("alice"))

	close(release)
	assert.Eventually(t, func() bool { return !h.store.IsAuthenticated("alice") },
		5*time.Second, 10*time.Millisecond, "the forwarded call finishes and its 401 clears the session")
	assert.Equal(t, 2, h.up.count())
}

func TestUnknownSessionRefusedWithoutUpstreamCall(t *testing.T) {
	h := setupServer(t, erp)

	resp := doRequest(t, http.MethodGet, h.srv.URL+"/api/anything", "bob", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assertCORS(t, resp.Header)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, string(readBody(t, resp)))
	assert.Equal(t, 0, h.up.count())
}

func TestPreflight(t *testing.T) {
	h := setupServer(t, erp)

	for _, path := range []string{"/api/threads", "/auth/login", "/nowhere"} {
		resp := doRequest(t, http.MethodOptions, h.srv.URL+path, "", nil, http.Header{
			"Origin":                        {"http://localhost:5173"},
			"Access-Control-Request-Method": {"POST"},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assertCORS(t, resp.Header)
		assert.Empty(t, readBody(t, resp))
	}
	assert.Equal(t, 0, h.up.count())
}

func TestCORSOnEveryResponse(t *testing.T) {
	h := setupServer(t, erp, api.WithMaxBodyBytes(8))
	login(t, h, "alice")

	cases := []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
	}{
		{"no target", http.MethodGet, "/nowhere", nil, http.StatusNotFound},
		{"prefix is not a segment", http.MethodGet, "/apix", nil, http.StatusNotFound},
		{"too large", http.MethodPost, "/api/upload", []byte("0123456789"), http.StatusRequestEntityTooLarge},
		{"health", http.MethodGet, "/health", nil, http.StatusOK},
		{"sessions", http.MethodGet, "/sessions", nil, http.StatusOK},
		{"bad login", http.MethodPost, "/auth/login", []byte("{"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, tc.method, h.srv.URL+tc.path, "alice", tc.body, nil)
			readBody(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
			assertCORS(t, resp.Header)
		})
	}
}

func TestUpstreamUnreachable(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")

	h.up.Close()
	resp := doRequest(t, http.MethodGet, h.srv.URL+"/api/threads", "alice", nil, nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assertCORS(t, resp.Header)
	var e api.ErrorResponse
	decodeInto(t, resp, &e)
	assert.Contains(t, e.Error, "Proxy request failed: ")
	assert.True(t, h.store.IsAuthenticated("alice"), "network errors keep the session")
}

func TestCookieTracksLatestToken(t *testing.T) {
	token := "T1"
	var mu sync.Mutex
	h := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			mu.Lock()
			tok := token
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"success": true, "token": tok, "user": map[string]string{}})
			return
		}
		erp(w, r)
	})

	for _, tok := range []string{"T1", "T2"} {
		mu.Lock()
		token = tok
		mu.Unlock()
		login(t, h, "alice")

		for i := 0; i < 2; i++ {
			resp := doRequest(t, http.MethodGet, h.srv.URL+"/api/threads", "alice", nil, nil)
			var echo map[string]string
			decodeInto(t, resp, &echo)
			assert.Equal(t, "auth-token="+tok, echo["cookie"])
		}
	}
}

func TestHeaderRewriting(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")

	resp := doRequest(t, http.MethodPost, h.srv.URL+"/api/messages", "alice", []byte(`{"text":"hi"}`), http.Header{
		"Origin":           {"http://localhost:5173"},
		"Referer":          {"http://localhost:5173/chat"},
		"Cookie":           {"other=1"},
		"X-Custom":         {"kept"},
		"X-Requested-With": {"XMLHttpRequest"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)

	upReq, upBody := h.up.last()
	assert.Equal(t, http.MethodPost, upReq.Method)
	assert.Empty(t, upReq.Header.Get("Origin"))
	assert.Empty(t, upReq.Header.Get("Referer"))
	assert.Empty(t, upReq.Header.Get("X-Session-Id"))
	assert.Equal(t, []string{"auth-token=T1"}, upReq.Header.Values("Cookie"))
	assert.Equal(t, "kept", upReq.Header.Get("X-Custom"))
	assert.Equal(t, "XMLHttpRequest", upReq.Header.Get("X-Requested-With"))
	assert.Equal(t, "127.0.0.1", upReq.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "http", upReq.Header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "application/json", upReq.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"text":"hi"}`, string(upBody))
}

func TestExplicitContentTypeKept(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")

	resp := doRequest(t, http.MethodPut, h.srv.URL+"/api/files/1", "alice", []byte("raw"), http.Header{
		"Content-Type": {"application/octet-stream"},
	})
	readBody(t, resp)
	upReq, upBody := h.up.last()
	assert.Equal(t, "application/octet-stream", upReq.Header.Get("Content-Type"))
	assert.Equal(t, "raw", string(upBody))
}

func TestRedirectsPassThrough(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")
	h.up.setHandler(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/elsewhere", http.StatusFound)
	})

	resp := doRequest(t, http.MethodGet, h.srv.URL+"/api/old", "alice", nil, nil)
	readBody(t, resp)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/api/elsewhere", resp.Header.Get("Location"))
	assert.Equal(t, 2, h.up.count(), "login plus one forwarded request")
}

func TestResponseHeaderFiltering(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")
	h.up.setHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Access-Control-Allow-Origin", "http://erp.local")
		w.Header().Set("Content-Encoding", "br")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "opaque")
	})

	resp := doRequest(t, http.MethodPost, h.srv.URL+"/api/things", "alice", []byte(`{}`), http.Header{
		"Accept-Encoding": {"br"},
	})
	body := readBody(t, resp)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assertCORS(t, resp.Header)
	assert.Equal(t, "br", resp.Header.Get("Content-Encoding"), "unknown encodings are left intact")
	assert.Equal(t, "opaque", string(body))
}

func TestLoginFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "upstream error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, "boom")
			},
			want: `{"success":false,"error":"Login failed with status 500 Internal Server Error: boom"}`,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "<html>")
			},
			want: `{"success":false,"error":"Invalid response format"}`,
		},
		{
			name: "success without token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"success":true,"user":{}}`)
			},
			want: `{"success":false,"error":"Invalid response format"}`,
		},
		{
			name: "success without user",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"success":true,"token":"T"}`)
			},
			want: `{"success":false,"error":"Invalid response format"}`,
		},
		{
			name: "rejected credentials pass through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"success":false,"error":"wrong password","code":7}`)
			},
			want: `{"success":false,"error":"wrong password","code":7}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := setupServer(t, tc.handler)
			resp := doRequest(t, http.MethodPost, h.srv.URL+"/auth/login", "alice", []byte(`{"identifier":"MR004"}`), nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, tc.want, string(readBody(t, resp)))
			assert.False(t, h.store.IsAuthenticated("alice"))
		})
	}
}

func TestLoginUpstreamUnreachable(t *testing.T) {
	h := setupServer(t, erp)
	h.up.Close()

	resp := doRequest(t, http.MethodPost, h.srv.URL+"/auth/login", "", []byte(`{"identifier":"MR004"}`), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var f api.FailureResponse
	decodeInto(t, resp, &f)
	assert.False(t, f.Success)
	assert.Contains(t, f.Error, "Request failed: ")
}

func TestLoginInputErrors(t *testing.T) {
	h := setupServer(t, erp)
	for _, body := range []string{`{`, `{"password":"x"}`, `{"identifier":""}`, `[]`} {
		resp := doRequest(t, http.MethodPost, h.srv.URL+"/auth/login", "", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		var f api.FailureResponse
		decodeInto(t, resp, &f)
		assert.False(t, f.Success)
		assert.NotEmpty(t, f.Error)
	}
	assert.Equal(t, 0, h.up.count())
}

func TestDefaultSessionID(t *testing.T) {
	h := setupServer(t, erp)
	resp := doRequest(t, http.MethodPost, h.srv.URL+"/auth/login", "", []byte(`{"identifier":"MR004"}`), nil)
	readBody(t, resp)
	assert.True(t, h.store.IsAuthenticated(session.DefaultID))
}

func TestStatusLogoutAndSessions(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")
	login(t, h, "bob")

	resp := doRequest(t, http.MethodGet, h.srv.URL+"/auth/status", "alice", nil, nil)
	raw := readBody(t, resp)
	assert.NotContains(t, string(raw), "T1", "token must not be disclosed")
	var status api.StatusResponse
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.True(t, status.Authenticated)
	require.NotNil(t, status.SessionInfo)
	assert.True(t, status.SessionInfo.HasToken)
	assert.JSONEq(t, `{"id":"u1","name":"Alice"}`, string(status.SessionInfo.User))
	assert.NotZero(t, status.SessionInfo.LoginTime)

	resp = doRequest(t, http.MethodGet, h.srv.URL+"/sessions", "", nil, nil)
	var list api.SessionsResponse
	decodeInto(t, resp, &list)
	assert.Equal(t, 2, list.TotalSessions)
	assert.Equal(t, []string{"alice", "bob"}, list.SessionIDs)
	assert.Equal(t, "memory", list.StorageFile)

	before := h.up.count()
	resp = doRequest(t, http.MethodPost, h.srv.URL+"/auth/logout", "alice", nil, nil)
	assert.JSONEq(t, `{"success":true,"message":"Logged out successfully"}`, string(readBody(t, resp)))
	assert.Equal(t, before, h.up.count(), "logout does not call upstream")
	assert.False(t, h.store.IsAuthenticated("alice"))

	// Logging out twice is fine.
	resp = doRequest(t, http.MethodPost, h.srv.URL+"/auth/logout", "alice", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)
}

func TestValidate(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")

	resp := doRequest(t, http.MethodGet, h.srv.URL+"/auth/validate", "alice", nil, nil)
	var v api.ValidateResponse
	decodeInto(t, resp, &v)
	assert.True(t, v.Valid)
	upReq, _ := h.up.last()
	assert.Equal(t, "/api/threads", upReq.URL.Path)
	assert.Equal(t, "limit=1", upReq.URL.RawQuery)
	assert.Equal(t, "auth-token=T1", upReq.Header.Get("Cookie"))

	h.up.setHandler(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	resp = doRequest(t, http.MethodGet, h.srv.URL+"/auth/validate", "alice", nil, nil)
	decodeInto(t, resp, &v)
	assert.False(t, v.Valid)
	assert.False(t, h.store.IsAuthenticated("alice"))
}

func TestValidateUpstreamDownKeepsSession(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")
	h.up.Close()

	resp := doRequest(t, http.MethodGet, h.srv.URL+"/auth/validate", "alice", nil, nil)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.True(t, h.store.IsAuthenticated("alice"))
}

func TestHealth(t *testing.T) {
	h := setupServer(t, erp)
	resp := doRequest(t, http.MethodGet, h.srv.URL+"/health", "", nil, nil)
	var health api.HealthResponse
	decodeInto(t, resp, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "mikoproxy", health.Server)
	assert.Equal(t, api.Version, health.Version)
	assert.NotZero(t, health.Timestamp)
}

func TestRuntimeTargetChanges(t *testing.T) {
	h := setupServer(t, erp)
	login(t, h, "alice")

	api0 := h.targets.Snapshot()["/api"]
	stripped := api0
	stripped.StripPrefix = true
	stripped.PathPrefix = "/api/v2"
	require.NoError(t, h.targets.Set("/files", stripped))

	resp := doRequest(t, http.MethodGet, h.srv.URL+"/files/42?x=1", "alice", nil, nil)
	var echo map[string]string
	decodeInto(t, resp, &echo)
	assert.Equal(t, "/api/v2/42?x=1", echo["path"])

	removed, err := h.targets.Remove("/files")
	require.NoError(t, err)
	assert.True(t, removed)
	resp = doRequest(t, http.MethodGet, h.srv.URL+"/files/42", "alice", nil, nil)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
