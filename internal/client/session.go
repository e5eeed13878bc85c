// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

package client

import "sync"

// Credentials identifies the staff session and device to the backend.
// A Credentials value is immutable once handed to the client: login,
// logout and 401 handling replace the whole value, never individual
// fields, so concurrent readers never observe a torn state.
type Credentials struct {
	// SessionID is the backend-issued session token.
	SessionID string

	// DeviceID uniquely identifies this device.
	DeviceID string

	// DeviceType is the device class (e.g. "handheld", "terminal").
	DeviceType string

	// Platform is the device platform (e.g. "linux", "android").
	Platform string

	// DeviceName is an optional human-readable device label.
	DeviceName string

	// AppVersion is the optional client application version.
	AppVersion string
}

// Session headers injected into every authenticated request.
const (
	headerSessionID  = "X-Session-Id"
	headerDeviceID   = "X-Device-Id"
	headerDeviceType = "X-Device-Type"
	headerPlatform   = "X-Device-Platform"
	headerDeviceName = "X-Device-Name"
	headerAppVersion = "X-App-Version"
)

// sessionStore holds the current credentials behind a RWMutex.
// Reads happen on every request; writes only on login/logout/401.
type sessionStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// get returns the current credentials, or nil when unauthenticated.
func (s *sessionStore) get() *Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// set replaces the credentials wholesale. Pass nil to clear.
func (s *sessionStore) set(creds *Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

// clearIfCurrent clears the credentials only if they are still the ones
// the caller observed, so a 401 from a stale request cannot wipe a
// session established by a concurrent re-login.
func (s *sessionStore) clearIfCurrent(observed *Credentials) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds != observed {
		return false
	}
	s.creds = nil
	return true
}
