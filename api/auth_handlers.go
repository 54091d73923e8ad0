package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikoworkspace/mikoproxy/session"
)

const (
	maxAuthBodySize = 1 << 20

	loginPath    = "/api/auth/login"
	validatePath = "/api/threads?limit=1"

	msgInvalidResponse = "Invalid response format"
)

// Login handles POST /auth/login. The request body is forwarded verbatim to
// the ERP; a successful answer mints a local session under the caller's
// X-Session-Id and is returned unchanged.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	sessionID := session.IDFromHeader(r.Header)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAuthBodySize))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req LoginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		writeFailure(w, http.StatusBadRequest, "identifier is required")
		return
	}

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, a.upstream+loginPath, bytes.NewReader(body))
	if err != nil {
		writeFailure(w, http.StatusOK, "Request failed: "+err.Error())
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(upReq)
	if err != nil {
		a.audit.logFailure(AuditLoginFailure, r, sessionID, "upstream unreachable", slog.String("error", err.Error()))
		writeFailure(w, http.StatusOK, "Request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		a.audit.logFailure(AuditLoginFailure, r, sessionID, "reading upstream response", slog.String("error", err.Error()))
		writeFailure(w, http.StatusOK, "Failed to read response")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.audit.logFailure(AuditLoginFailure, r, sessionID, "upstream status", slog.Int("status", resp.StatusCode))
		writeFailure(w, http.StatusOK, fmt.Sprintf("Login failed with status %s: %s", resp.Status, text))
		return
	}

	var result loginResult
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &result) != nil {
		a.audit.logFailure(AuditLoginFailure, r, sessionID, "unparseable upstream response")
		writeFailure(w, http.StatusOK, msgInvalidResponse)
		return
	}

	if result.Success != nil && *result.Success {
		var token string
		if err := json.Unmarshal(result.Token, &token); err != nil || token == "" || len(result.User) == 0 {
			a.audit.logFailure(AuditLoginFailure, r, sessionID, "success without token or user")
			writeFailure(w, http.StatusOK, msgInvalidResponse)
			return
		}
		a.sessions.Put(sessionID, token, result.User)
		a.audit.log(AuditLoginSuccess, r, sessionID)
	} else {
		a.audit.logFailure(AuditLoginFailure, r, sessionID, "rejected by upstream")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(text)
}

// Logout handles POST /auth/logout. The ERP is not contacted.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := session.IDFromHeader(r.Header)
	a.sessions.Clear(sessionID)
	a.audit.log(AuditLogout, r, sessionID)
	writeJSON(w, http.StatusOK, LogoutResponse{Success: true, Message: "Logged out successfully"})
}

// Status handles GET /auth/status.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := session.IDFromHeader(r.Header)
	resp := StatusResponse{SessionID: sessionID}
	if sess, ok := a.sessions.Get(sessionID); ok && sess.Token != "" {
		resp.Authenticated = true
		resp.SessionInfo = &SessionInfo{
			LoginTime: sess.LoginTime.Unix(),
			User:      sess.User,
			HasToken:  true,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sessions handles GET /sessions.
func (a *API) Sessions(w http.ResponseWriter, r *http.Request) {
	ids := a.sessions.IDs()
	writeJSON(w, http.StatusOK, SessionsResponse{
		TotalSessions: len(ids),
		SessionIDs:    ids,
		StorageFile:   a.sessions.Location(),
	})
}

// Validate handles GET /auth/validate. It probes the ERP with the stored
// token and drops the session when the ERP no longer accepts it.
func (a *API) Validate(w http.ResponseWriter, r *http.Request) {
	sessionID := session.IDFromHeader(r.Header)
	token, ok := a.sessions.Token(sessionID)
	if !ok {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, SessionID: sessionID})
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.upstream+validatePath, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Validation request failed: "+err.Error())
		return
	}
	req.Header.Set("Cookie", authCookie(token))

	resp, err := a.client.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Validation request failed: "+err.Error())
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.sessions.Clear(sessionID)
		a.audit.logFailure(AuditTokenRejected, r, sessionID, "upstream status", slog.Int("status", resp.StatusCode))
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, SessionID: sessionID})
		return
	}
	a.audit.log(AuditTokenValidated, r, sessionID)
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true, SessionID: sessionID})
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Server:    ServerName,
		Timestamp: time.Now().Unix(),
		Version:   Version,
	})
}

func authCookie(token string) string {
	return "auth-token=" + token
}
