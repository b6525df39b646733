// Package auth holds the client-side auth state and the OTP sign-in client.
// Token persistence and refresh are out of scope: the state lives for the
// process.
package auth

import "sync"

// Navigator is how auth failures route the user back to sign-in.
type Navigator interface {
	ToLogin()
}

// State is the in-memory auth state shared by the chat session and the HTTP
// clients.
type State struct {
	mu    sync.Mutex
	token string
	phone string
}

func NewState() *State {
	return &State{}
}

// Authenticated reports whether a token is held.
func (s *State) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// Token returns the bearer token, or "" when signed out.
func (s *State) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SignIn records a verified token for the given phone.
func (s *State) SignIn(phone, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phone = phone
	s.token = token
}

// Phone returns the signed-in phone number, or "".
func (s *State) Phone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phone
}

// Clear drops the token, e.g. after the backend rejects it.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.phone = ""
}
