package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
)

type accountRepo struct{ s *Store }

func (r *accountRepo) Create(ctx context.Context, a *model.Account) error {
	defer r.s.lock()()
	for _, existing := range r.s.st.accounts {
		if existing.Email == a.Email {
			return repository.ErrDuplicate
		}
	}
	r.s.st.accounts[a.ID] = *a
	return nil
}

func (r *accountRepo) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	defer r.s.lock()()
	a, ok := r.s.st.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	defer r.s.lock()()
	for _, a := range r.s.st.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepo) Update(ctx context.Context, a *model.Account) error {
	defer r.s.lock()()
	if _, ok := r.s.st.accounts[a.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.s.st.accounts {
		if id != a.ID && existing.Email == a.Email {
			return repository.ErrDuplicate
		}
	}
	r.s.st.accounts[a.ID] = *a
	return nil
}

func (r *accountRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	if _, ok := r.s.st.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.accounts, id)
	// pruebas.user_id cascades
	for rid, rec := range r.s.st.records {
		if rec.UserID == id {
			delete(r.s.st.records, rid)
		}
	}
	return nil
}

func (r *accountRepo) List(ctx context.Context, f model.AccountFilter) (model.Page[*model.Account], error) {
	defer r.s.lock()()
	items := make([]*model.Account, 0, len(r.s.st.accounts))
	for _, a := range r.s.st.accounts {
		if f.Search != "" && !containsFold(a.Name, f.Search) && !containsFold(a.Email, f.Search) {
			continue
		}
		a := a
		items = append(items, &a)
	}
	newestFirst(items, func(a *model.Account) int64 { return a.CreatedAt.UnixNano() })
	return paginate(items, f.Pagination), nil
}

func (r *accountRepo) EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	defer r.s.lock()()
	for id, a := range r.s.st.accounts {
		if id != exclude && a.Email == email {
			return true, nil
		}
	}
	return false, nil
}
