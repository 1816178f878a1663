// Package memory holds process-local stores for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"

	"cpay-gateway/internal/core/domain"
)

// SessionRepo implements ports.SessionRepository in memory. Sessions are
// copied on the way in and out so callers never share state with the store.
type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*domain.PaymentSession
	byCart   map[string][]string // session ids per cart, oldest first
}

// NewSessionRepo creates an empty in-memory store.
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		sessions: make(map[string]*domain.PaymentSession),
		byCart:   make(map[string][]string),
	}
}

func (r *SessionRepo) Create(_ context.Context, s *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return domain.ErrSessionExists
	}
	r.sessions[s.ID] = clone(s)
	if cart := s.CartID(); cart != "" {
		r.byCart[cart] = append(r.byCart[cart], s.ID)
	}
	return nil
}

func (r *SessionRepo) Get(_ context.Context, id string) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return clone(s), nil
}

// GetByCartID returns the cart's session with the best CartPriority,
// newest first among equals.
func (r *SessionRepo) GetByCartID(_ context.Context, cartID string) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCart[cartID]
	var best *domain.PaymentSession
	for i := len(ids) - 1; i >= 0; i-- {
		s := r.sessions[ids[i]]
		if best == nil || s.State.CartPriority() < best.State.CartPriority() {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (r *SessionRepo) Update(_ context.Context, id string, patch domain.SessionPatch) (*domain.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.Version != patch.ExpectedVersion {
		return nil, domain.ErrVersionConflict
	}
	patch.Apply(s)
	s.SignedPayload = clonePayload(s.SignedPayload)
	return clone(s), nil
}

// Len returns the number of stored sessions.
func (r *SessionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func clone(s *domain.PaymentSession) *domain.PaymentSession {
	cp := *s
	if s.Context != nil {
		c := *s.Context
		if c.Billing != nil {
			b := *c.Billing
			c.Billing = &b
		}
		cp.Context = &c
	}
	cp.SignedPayload = clonePayload(s.SignedPayload)
	cp.AuthorizedAt = cloneTime(s.AuthorizedAt)
	cp.CapturedAt = cloneTime(s.CapturedAt)
	cp.ClosedAt = cloneTime(s.ClosedAt)
	return &cp
}

func clonePayload(p *domain.SignedPayload) *domain.SignedPayload {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Fields = append([]domain.Field(nil), p.Fields...)
	return &cp
}

func cloneTime[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
