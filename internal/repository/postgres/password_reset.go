package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kapixcr/BioNote/internal/model"
)

type passwordResetRepository struct {
	q sqlx.ExtContext
}

func (r *passwordResetRepository) Upsert(ctx context.Context, reset *model.PasswordReset) error {
	query := `
		INSERT INTO password_resets (email, token_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE
		SET token_hash = EXCLUDED.token_hash, created_at = EXCLUDED.created_at
	`
	if _, err := r.q.ExecContext(ctx, query, reset.Email, reset.TokenHash, reset.CreatedAt); err != nil {
		return fmt.Errorf("failed to store password reset: %w", err)
	}
	return nil
}

func (r *passwordResetRepository) Get(ctx context.Context, email string) (*model.PasswordReset, error) {
	var reset model.PasswordReset
	err := sqlx.GetContext(ctx, r.q, &reset,
		`SELECT email, token_hash, created_at FROM password_resets WHERE email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get password reset: %w", mapError(err))
	}
	return &reset, nil
}

func (r *passwordResetRepository) Delete(ctx context.Context, email string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM password_resets WHERE email = $1`, email); err != nil {
		return fmt.Errorf("failed to delete password reset: %w", err)
	}
	return nil
}

func (r *passwordResetRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM password_resets WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune password resets: %w", err)
	}
	return res.RowsAffected()
}
