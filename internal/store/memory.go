package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the reference in-memory store. It satisfies both contracts and
// reproduces their atomicity guarantees under concurrent callers, which makes
// it suitable for tests and single-process deployments.
type Memory struct {
	mu     sync.Mutex
	states map[string]OAuthState
	insts  map[instKey]Installation
	now    func() time.Time
}

type instKey struct {
	teamID       string
	enterpriseID string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		states: make(map[string]OAuthState),
		insts:  make(map[instKey]Installation),
		now:    time.Now,
	}
}

// Put stores a state token.
func (m *Memory) Put(_ context.Context, state OAuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.State] = state
	return nil
}

// Consume atomically checks and deletes a state token. The single mutex makes
// the check-and-delete linearizable: of any number of racing calls for the
// same token, exactly one observes it.
func (m *Memory) Consume(_ context.Context, state string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[state]
	if !ok {
		return false, nil
	}
	delete(m.states, state)

	if m.now().After(st.ExpiresAt) {
		// Expired tokens are swept on contact but never validate.
		return false, nil
	}
	return true, nil
}

// Save upserts an installation. The stored value is a copy, so later mutation
// of the caller's struct cannot produce a partially-visible record.
func (m *Memory) Save(_ context.Context, inst *Installation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inst
	cp.Scopes = append([]string(nil), inst.Scopes...)
	m.insts[instKey{inst.TeamID, inst.EnterpriseID}] = cp
	return nil
}

// Find returns a copy of the installation for a team, or nil.
func (m *Memory) Find(_ context.Context, teamID, enterpriseID string) (*Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.insts[instKey{teamID, enterpriseID}]
	if !ok {
		return nil, nil
	}
	cp := inst
	cp.Scopes = append([]string(nil), inst.Scopes...)
	return &cp, nil
}

// Delete removes a team's installation.
func (m *Memory) Delete(_ context.Context, teamID, enterpriseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.insts, instKey{teamID, enterpriseID})
	return nil
}
