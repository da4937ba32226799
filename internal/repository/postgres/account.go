package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kapixcr/BioNote/internal/model"
)

const accountColumns = `id, name, email, password_hash, role, created_at, updated_at`

type accountRepository struct {
	q sqlx.ExtContext
}

func (r *accountRepository) Create(ctx context.Context, account *model.Account) error {
	query := `
		INSERT INTO users (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.ExecContext(ctx, query,
		account.ID,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", mapError(err))
	}
	return nil
}

func (r *accountRepository) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var account model.Account
	err := sqlx.GetContext(ctx, r.q, &account, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", mapError(err))
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := sqlx.GetContext(ctx, r.q, &account, `SELECT `+accountColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", mapError(err))
	}
	return &account, nil
}

func (r *accountRepository) Update(ctx context.Context, account *model.Account) error {
	query := `
		UPDATE users
		SET name = $1, email = $2, password_hash = $3, role = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := r.q.ExecContext(ctx, query,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", mapError(err))
	}
	return checkAffected(res)
}

func (r *accountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return checkAffected(res)
}

func (r *accountRepository) List(ctx context.Context, filter model.AccountFilter) (model.Page[*model.Account], error) {
	var page model.Page[*model.Account]

	w := &where{}
	if filter.Search != "" {
		p := contains(filter.Search)
		w.add(`(name ILIKE ? OR email ILIKE ?)`, p, p)
	}

	if err := sqlx.GetContext(ctx, r.q, &page.Total, `SELECT COUNT(*) FROM users`+w.String(), w.args...); err != nil {
		return page, fmt.Errorf("failed to count accounts: %w", err)
	}

	query := `SELECT ` + accountColumns + ` FROM users` + w.String() +
		` ORDER BY created_at DESC LIMIT ` + w.next(filter.PerPage) + ` OFFSET ` + w.next(filter.Offset())
	page.Items = []*model.Account{}
	if err := sqlx.SelectContext(ctx, r.q, &page.Items, query, w.args...); err != nil {
		return page, fmt.Errorf("failed to list accounts: %w", err)
	}
	return page, nil
}

func (r *accountRepository) EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := sqlx.GetContext(ctx, r.q, &taken,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`, email, exclude)
	if err != nil {
		return false, fmt.Errorf("failed to check account email: %w", err)
	}
	return taken, nil
}
