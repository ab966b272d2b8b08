// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package middleware

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/avkuzmin/serplens/internal/logging"
)

// AdminAuth protects mutating endpoints with HTTP basic auth. The
// expected password is a bcrypt hash, never plaintext. With an empty
// username the middleware is a no-op, matching the single-operator
// deployments where the dashboard sits on a private network.
func AdminAuth(username, passwordHash string) func(http.Handler) http.Handler {
	enabled := username != "" && passwordHash != ""
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !credentialsMatch(user, pass, username, passwordHash) {
				logging.Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("admin auth rejected")
				w.Header().Set("WWW-Authenticate", `Basic realm="serplens admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credentialsMatch(user, pass, wantUser, wantHash string) bool {
	// Constant-time username compare; bcrypt handles the password.
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(wantHash), []byte(pass)) == nil
	return userOK && passOK
}
