// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit caps per-IP requests to the API at requests per window.
// A zero or negative request count disables limiting.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(requests, window, httprate.WithKeyFuncs(httprate.KeyByIP))
}
