// Package tokenstore is the process-wide, concurrency-safe store of
// per-user OAuth access tokens and in-flight authorization sessions
// (spec.md §5, "the token store is process-wide with its own
// concurrency guarantees").
package tokenstore

import (
	"sync"

	"github.com/google/uuid"
)

// tokenKey composes (user, providerPrefix, authProviderID)
// the same way the coordinator composes the authorization-provider id
// with an optional userctx suffix before ever reaching this package.
type tokenKey struct {
	user           string
	providerPrefix string
	authProviderID string
}

// Store holds access tokens and pending authorization sessions in
// memory, guarded by a single RWMutex. A real deployment might back
// this with Redis; nothing above this package depends on that choice.
type Store struct {
	mu       sync.RWMutex
	tokens   map[tokenKey]string
	sessions map[string]sessionState
}

type sessionState struct {
	spec           string
	user           string
	providerPrefix string
	authProviderID string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tokens:   make(map[tokenKey]string),
		sessions: make(map[string]sessionState),
	}
}

// GetAccessTokenFor returns the stored access token for (user,
// providerPrefix, authProviderID), or "" if none is stored.
func (s *Store) GetAccessTokenFor(user, providerPrefix, authProviderID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[tokenKey{user, providerPrefix, authProviderID}]
}

// NewSession starts a new authorization handshake and returns an
// opaque CSRF state value to embed in the authorization URL.
func (s *Store) NewSession(spec, user, providerPrefix, authProviderID string) string {
	state := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state] = sessionState{
		spec:           spec,
		user:           user,
		providerPrefix: providerPrefix,
		authProviderID: authProviderID,
	}
	return state
}

// RegisterToken associates token with the session that requested state,
// making it available to future GetAccessTokenFor calls for that
// session's (user, providerPrefix, authProviderID). If no session matches
// state, the token is stored under (user, authProviderID) with an empty
// providerPrefix, where only GetAccessTokenFor(user, "", authProviderID)
// finds it.
func (s *Store) RegisterToken(user, state, token, authProviderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[state]; ok {
		s.tokens[tokenKey{sess.user, sess.providerPrefix, sess.authProviderID}] = token
		delete(s.sessions, state)
		return
	}
	s.tokens[tokenKey{user: user, authProviderID: authProviderID}] = token
}
