package api

import "encoding/json"

// ErrorResponse is the generic error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FailureResponse is the auth endpoints' failure envelope.
type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// LoginRequest is the body accepted by POST /auth/login. It is validated
// locally and then forwarded to the ERP byte for byte.
type LoginRequest struct {
	Identifier     string  `json:"identifier"`
	Password       *string `json:"password,omitempty"`
	CreatePassword *bool   `json:"createPassword,omitempty"`
}

// LogoutResponse is returned by POST /auth/logout.
type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse is returned by GET /auth/status.
type StatusResponse struct {
	Authenticated bool         `json:"authenticated"`
	SessionID     string       `json:"sessionId"`
	SessionInfo   *SessionInfo `json:"sessionInfo"`
}

// SessionInfo describes a session without disclosing its token.
type SessionInfo struct {
	LoginTime int64           `json:"loginTime"`
	User      json.RawMessage `json:"user"`
	HasToken  bool            `json:"hasToken"`
}

// SessionsResponse is returned by GET /sessions.
type SessionsResponse struct {
	TotalSessions int      `json:"totalSessions"`
	SessionIDs    []string `json:"sessionIds"`
	StorageFile   string   `json:"storageFile"`
}

// ValidateResponse is returned by GET /auth/validate.
type ValidateResponse struct {
	Valid     bool   `json:"valid"`
	SessionID string `json:"sessionId"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Server    string `json:"server"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// loginResult holds the fields of an upstream login response the proxy
// inspects. Everything else passes through untouched.
type loginResult struct {
	Success *bool           `json:"success"`
	Token   json.RawMessage `json:"token"`
	User    json.RawMessage `json:"user"`
}
