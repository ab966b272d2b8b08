// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package gsc

import "errors"

// ErrUnauthorized is wrapped into errors returned when the backend
// rejects the configured credentials. Callers branch on it with
// errors.Is to distinguish bad credentials from an unreachable backend.
var ErrUnauthorized = errors.New("backend rejected credentials")
