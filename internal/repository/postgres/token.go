package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kapixcr/BioNote/internal/model"
)

const tokenColumns = `id, principal_kind, principal_id, scope, token_hash, expires_at, created_at`

var principalTables = map[model.PrincipalKind]string{
	model.PrincipalClinic:  "veterinarias",
	model.PrincipalAccount: "users",
}

type tokenRepository struct {
	q sqlx.ExtContext
}

// LockPrincipal takes a row lock on the principal. Outside a transaction the
// lock is released as soon as the statement ends.
func (r *tokenRepository) LockPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) error {
	table, ok := principalTables[kind]
	if !ok {
		return fmt.Errorf("unknown principal kind %q", kind)
	}
	var id uuid.UUID
	if err := sqlx.GetContext(ctx, r.q, &id, `SELECT id FROM `+table+` WHERE id = $1 FOR UPDATE`, principalID); err != nil {
		return fmt.Errorf("failed to lock principal: %w", mapError(err))
	}
	return nil
}

func (r *tokenRepository) Create(ctx context.Context, t *model.AuthToken) error {
	query := `
		INSERT INTO auth_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.PrincipalKind, t.PrincipalID, t.Scope, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store token: %w", mapError(err))
	}
	return nil
}

func (r *tokenRepository) Get(ctx context.Context, id uuid.UUID) (*model.AuthToken, error) {
	var t model.AuthToken
	if err := sqlx.GetContext(ctx, r.q, &t, `SELECT `+tokenColumns+` FROM auth_tokens WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get token: %w", mapError(err))
	}
	return &t, nil
}

func (r *tokenRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM auth_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return checkAffected(res)
}

func (r *tokenRepository) DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE principal_kind = $1 AND principal_id = $2`, kind, principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return res.RowsAffected()
}

func (r *tokenRepository) CountByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		`SELECT COUNT(*) FROM auth_tokens WHERE principal_kind = $1 AND principal_id = $2`, kind, principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return n, nil
}
