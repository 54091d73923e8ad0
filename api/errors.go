package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeFailure writes the {success:false, error} envelope used by the auth
// endpoints.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, FailureResponse{Success: false, Error: msg})
}
