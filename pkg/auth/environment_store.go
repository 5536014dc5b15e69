package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements SessionStore using environment variables.
// Useful for headless deployments where a keychain is unavailable.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based session store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(session *Session) error {
	return ErrStoreUnavailable
}

// Retrieve gets the session from environment variables
func (e *EnvironmentStore) Retrieve() (*Session, error) {
	cookie := os.Getenv("KEMONOD_SESSION_COOKIE")
	userAgent := os.Getenv("KEMONOD_USER_AGENT")

	if cookie == "" {
		return nil, ErrSessionNotFound
	}

	return &Session{
		Cookie:       cookie,
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete() error {
	return ErrStoreUnavailable
}

// Exists checks if an environment session exists
func (e *EnvironmentStore) Exists() bool {
	return os.Getenv("KEMONOD_SESSION_COOKIE") != ""
}
