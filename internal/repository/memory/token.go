package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
)

type tokenRepo struct{ s *Store }

// LockPrincipal only checks the principal exists; the store mutex already
// serializes transactions.
func (r *tokenRepo) LockPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) error {
	defer r.s.lock()()
	var ok bool
	switch kind {
	case model.PrincipalClinic:
		_, ok = r.s.st.clinics[principalID]
	case model.PrincipalAccount:
		_, ok = r.s.st.accounts[principalID]
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

// Create enforces one token per principal like the auth_tokens_principal_key index.
func (r *tokenRepo) Create(ctx context.Context, t *model.AuthToken) error {
	defer r.s.lock()()
	if _, ok := r.s.st.tokens[t.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, other := range r.s.st.tokens {
		if other.PrincipalKind == t.PrincipalKind && other.PrincipalID == t.PrincipalID {
			return repository.ErrDuplicate
		}
	}
	r.s.st.tokens[t.ID] = *t
	return nil
}

func (r *tokenRepo) Get(ctx context.Context, id uuid.UUID) (*model.AuthToken, error) {
	defer r.s.lock()()
	t, ok := r.s.st.tokens[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *tokenRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if _, ok := r.s.st.tokens[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.tokens, id)
	return nil
}

func (r *tokenRepo) DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, t := range r.s.st.tokens {
		if t.PrincipalKind == kind && t.PrincipalID == principalID {
			delete(r.s.st.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *tokenRepo) CountByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, t := range r.s.st.tokens {
		if t.PrincipalKind == kind && t.PrincipalID == principalID {
			n++
		}
	}
	return n, nil
}
