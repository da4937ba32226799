package memory

import (
	"context"
	"time"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
)

type passwordResetRepo struct{ s *Store }

func (r *passwordResetRepo) Upsert(ctx context.Context, reset *model.PasswordReset) error {
	defer r.s.lock()()
	r.s.st.resets[reset.Email] = *reset
	return nil
}

func (r *passwordResetRepo) Get(ctx context.Context, email string) (*model.PasswordReset, error) {
	defer r.s.lock()()
	reset, ok := r.s.st.resets[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &reset, nil
}

func (r *passwordResetRepo) Delete(ctx context.Context, email string) error {
	defer r.s.lock()()
	delete(r.s.st.resets, email)
	return nil
}

func (r *passwordResetRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	defer r.s.lock()()
	var n int64
	for email, reset := range r.s.st.resets {
		if reset.CreatedAt.Before(cutoff) {
			delete(r.s.st.resets, email)
			n++
		}
	}
	return n, nil
}
