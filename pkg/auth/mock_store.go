package auth

import (
	"sync"
)

// MockStore implements SessionStore for testing purposes
type MockStore struct {
	session *Session
	mu      sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
	DeleteError   error
}

// NewMockStore creates a new mock session store
func NewMockStore() *MockStore {
	return &MockStore{}
}

// Store saves the session to the mock store
func (m *MockStore) Store(session *Session) error {
	if m.StoreError != nil {
		return m.StoreError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session == nil || session.Cookie == "" {
		return ErrInvalidSession
	}

	sessionCopy := *session
	m.session = &sessionCopy

	return nil
}

// Retrieve gets the session from the mock store
func (m *MockStore) Retrieve() (*Session, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return nil, ErrSessionNotFound
	}

	sessionCopy := *m.session
	return &sessionCopy, nil
}

// Delete removes the session from the mock store
func (m *MockStore) Delete() error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrSessionNotFound
	}

	m.session = nil
	return nil
}

// Exists checks if a session exists in the mock store
func (m *MockStore) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.session != nil
}

// Clear removes the session from the mock store (useful for test cleanup)
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
}

// NewMockManager creates a Manager with a mock store for testing
func NewMockManager() (*Manager, *MockStore) {
	mockStore := NewMockStore()
	manager := &Manager{
		stores: []SessionStore{mockStore},
	}
	return manager, mockStore
}

// NewMockManagerWithStores creates a Manager with multiple stores for testing
func NewMockManagerWithStores(stores ...SessionStore) *Manager {
	return &Manager{
		stores: stores,
	}
}
