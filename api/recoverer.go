package api

import (
	"errors"
	"net/http"
	"runtime/debug"
)

// Recoverer turns a handler panic into a JSON 500 with CORS headers, where
// chi's middleware.Recoverer would write a bare 500. http.ErrAbortHandler is
// re-panicked so net/http can abort the connection.
func (a *API) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			a.logger.Error("handler panic",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			setCORSHeaders(w.Header())
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
		}()
		next.ServeHTTP(w, r)
	})
}
