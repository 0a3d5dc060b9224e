package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	auditdomain "smartdrive/user-service/internal/audit/domain"
	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/profile/domain"
)

// MemoryStore is an in-memory Store with all-or-nothing transactions. It backs unit
// tests of the packages that depend on Store.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
	// FailNext, when set, is returned by the next write and then cleared.
	FailNext error
}

type memState struct {
	profiles map[string]*domain.Profile // by AuthUserID
	roles    map[string][]domain.UserRole
	audit    []*auditdomain.AuditLog
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		profiles: make(map[string]*domain.Profile),
		roles:    make(map[string][]domain.UserRole),
	}}
}

func (s memState) clone() memState {
	c := memState{
		profiles: make(map[string]*domain.Profile, len(s.profiles)),
		roles:    make(map[string][]domain.UserRole, len(s.roles)),
		audit:    append([]*auditdomain.AuditLog(nil), s.audit...),
	}
	for k, p := range s.profiles {
		cp := *p
		c.profiles[k] = &cp
	}
	for k, r := range s.roles {
		c.roles[k] = append([]domain.UserRole(nil), r...)
	}
	return c
}

// Audit returns the audit entries committed through transactions.
func (s *MemoryStore) Audit() []*auditdomain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*auditdomain.AuditLog(nil), s.state.audit...)
}

// Len returns the number of stored profiles.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.profiles)
}

func (s *MemoryStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *MemoryStore) GetByAuthUserID(_ context.Context, authUserID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.get(authUserID), nil
}

func (st memState) get(authUserID string) *domain.Profile {
	p, ok := st.profiles[authUserID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, p := range s.state.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) sorted() []*domain.Profile {
	out := make([]*domain.Profile, 0, len(s.state.profiles))
	for _, p := range s.state.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListAfter(_ context.Context, afterID string, limit int) ([]*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Profile
	for _, p := range s.sorted() {
		if p.ID <= afterID {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, offset, limit int) ([]*domain.Profile, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted()
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) Search(_ context.Context, q SearchQuery, limit int) ([]*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contains := func(field, term string) bool {
		return term != "" && strings.Contains(strings.ToLower(field), strings.ToLower(strings.TrimSpace(term)))
	}
	nameMatch := func(p *domain.Profile, term string) bool {
		return contains(p.FirstName, term) || contains(p.LastName, term) || contains(p.DisplayName, term)
	}
	var out []*domain.Profile
	for _, p := range s.sorted() {
		var ok bool
		switch {
		case q.Any != "":
			ok = contains(p.Email, q.Any) || nameMatch(p, q.Any)
		case q.Email != "":
			ok = contains(p.Email, q.Email)
		case q.Name != "":
			ok = nameMatch(p, q.Name)
		}
		if ok {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Stats(context.Context) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var verified int64
	for _, p := range s.state.profiles {
		if p.EmailVerified {
			verified++
		}
	}
	return domain.NewStats(int64(len(s.state.profiles)), verified), nil
}

func (s *MemoryStore) ListRoles(_ context.Context, profileID string) ([]domain.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UserRole(nil), s.state.roles[profileID]...), nil
}

func (s *MemoryStore) Create(ctx context.Context, p *domain.Profile) error {
	return s.WithinTx(ctx, func(tx Tx) error { return tx.Create(ctx, p) })
}

func (s *MemoryStore) Update(ctx context.Context, p *domain.Profile) error {
	return s.WithinTx(ctx, func(tx Tx) error { return tx.Update(ctx, p) })
}

func (s *MemoryStore) Delete(ctx context.Context, authUserID string) error {
	return s.WithinTx(ctx, func(tx Tx) error { return tx.Delete(ctx, authUserID) })
}

func (s *MemoryStore) ReplaceRoles(ctx context.Context, profileID string, roles []domain.UserRole) error {
	return s.WithinTx(ctx, func(tx Tx) error { return tx.ReplaceRoles(ctx, profileID, roles) })
}

// WithinTx runs fn against a copy of the state and commits it only if fn succeeds.
// Transactions are serialized.
func (s *MemoryStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

type memTx struct {
	store *MemoryStore
	state memState
}

func (t *memTx) GetByAuthUserID(_ context.Context, authUserID string) (*domain.Profile, error) {
	return t.state.get(authUserID), nil
}

func (t *memTx) Create(_ context.Context, p *domain.Profile) error {
	if err := t.store.takeFailure(); err != nil {
		return err
	}
	if _, ok := t.state.profiles[p.AuthUserID]; ok {
		return fmt.Errorf("profile for auth user %s: %w", p.AuthUserID, errs.ErrConflict)
	}
	cp := *p
	t.state.profiles[p.AuthUserID] = &cp
	return nil
}

func (t *memTx) Update(_ context.Context, p *domain.Profile) error {
	if err := t.store.takeFailure(); err != nil {
		return err
	}
	cur, ok := t.state.profiles[p.AuthUserID]
	if !ok || cur.ID != p.ID {
		return fmt.Errorf("profile %s: %w", p.ID, errs.ErrNotFound)
	}
	cp := *p
	cp.CreatedAt = cur.CreatedAt
	t.state.profiles[p.AuthUserID] = &cp
	return nil
}

func (t *memTx) Delete(_ context.Context, authUserID string) error {
	if err := t.store.takeFailure(); err != nil {
		return err
	}
	p, ok := t.state.profiles[authUserID]
	if !ok {
		return fmt.Errorf("profile for auth user %s: %w", authUserID, errs.ErrNotFound)
	}
	delete(t.state.profiles, authUserID)
	delete(t.state.roles, p.ID)
	return nil
}

func (t *memTx) ReplaceRoles(_ context.Context, profileID string, roles []domain.UserRole) error {
	if err := t.store.takeFailure(); err != nil {
		return err
	}
	out := make([]domain.UserRole, len(roles))
	for i, r := range roles {
		r.ProfileID = profileID
		out[i] = r
	}
	t.state.roles[profileID] = out
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, entry *auditdomain.AuditLog) error {
	if err := t.store.takeFailure(); err != nil {
		return err
	}
	t.state.audit = append(t.state.audit, entry)
	return nil
}
