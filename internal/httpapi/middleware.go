package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

func readBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return strings.TrimSpace(k)
	}
	return ""
}

// requireIngestToken rejects the request before any payload parsing when
// the presented credential is absent, empty, or not an exact match for
// the configured token. The comparison is constant-time and exact.
func (s *Server) requireIngestToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ingestToken == "" {
			writeError(w, http.StatusUnauthorized, "ingestion disabled: no token configured")
			return
		}

		given := readBearer(r)
		if given == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.ingestToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
