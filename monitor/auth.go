package monitor

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

const apiKeyHeader = "X-API-Key"

// requireAuth admits requests carrying a configured API key. With no key
// configured every request is admitted.
func (m *Monitor) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(m.cfg.APIKeys) == 0 {
			next(w, r)
			return
		}

		if key := r.Header.Get(apiKeyHeader); key != "" {
			if name := m.matchAPIKey(key); name != "" {
				m.logger.Debug("api request", "key", name, "path", r.URL.Path)
				next(w, r)
				return
			}
		}

		writeError(w, http.StatusUnauthorized, "unauthorized", "UNAUTHORIZED")
	}
}

// matchAPIKey compares key against every configured key in constant time
// and returns the matching key name. Keys are hashed first so inputs of
// different lengths compare in the same time, and no early return is taken.
func (m *Monitor) matchAPIKey(key string) string {
	keyHash := sha256.Sum256([]byte(key))
	var matched string
	for _, ak := range m.cfg.APIKeys {
		akHash := sha256.Sum256([]byte(ak.Key))
		if subtle.ConstantTimeCompare(keyHash[:], akHash[:]) == 1 {
			matched = ak.Name
		}
	}
	return matched
}
