package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrMissingReference is returned when a row points at a parent that does not exist.
	ErrMissingReference = errors.New("referenced record does not exist")
)

// All repository interfaces in one file
type (
	AccountRepository interface {
		Create(ctx context.Context, account *model.Account) error
		Get(ctx context.Context, id uuid.UUID) (*model.Account, error)
		GetByEmail(ctx context.Context, email string) (*model.Account, error)
		Update(ctx context.Context, account *model.Account) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.AccountFilter) (model.Page[*model.Account], error)
		// EmailTaken reports whether email belongs to an account other than exclude.
		EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error)
	}

	ClinicRepository interface {
		Create(ctx context.Context, clinic *model.Clinic) error
		Get(ctx context.Context, id uuid.UUID) (*model.Clinic, error)
		GetByEmail(ctx context.Context, email string) (*model.Clinic, error)
		GetByUsuario(ctx context.Context, usuario string) (*model.Clinic, error)
		Update(ctx context.Context, clinic *model.Clinic) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.ClinicFilter) (model.Page[*model.Clinic], error)
		EmailTaken(ctx context.Context, email string, exclude uuid.UUID) (bool, error)
		UsuarioTaken(ctx context.Context, usuario string, exclude uuid.UUID) (bool, error)
	}

	TokenRepository interface {
		// LockPrincipal blocks other transactions issuing tokens for the same
		// principal until the current one ends. ErrNotFound when the principal is gone.
		LockPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) error
		Create(ctx context.Context, token *model.AuthToken) error
		Get(ctx context.Context, id uuid.UUID) (*model.AuthToken, error)
		Delete(ctx context.Context, id uuid.UUID) error
		// DeleteByPrincipal revokes every token of a principal and returns how many were removed.
		DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) (int64, error)
		CountByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID uuid.UUID) (int, error)
	}

	TestRecordRepository interface {
		Create(ctx context.Context, record *model.TestRecord) error
		Get(ctx context.Context, id uuid.UUID) (*model.TestRecord, error)
		Update(ctx context.Context, record *model.TestRecord) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.TestRecordFilter) (model.Page[*model.TestRecord], error)
	}

	PasswordResetRepository interface {
		// Upsert replaces any pending reset for the email.
		Upsert(ctx context.Context, reset *model.PasswordReset) error
		Get(ctx context.Context, email string) (*model.PasswordReset, error)
		Delete(ctx context.Context, email string) error
		DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}

	// Store groups the repositories so that a set of writes can share one transaction.
	Store interface {
		Accounts() AccountRepository
		Clinics() ClinicRepository
		Tokens() TokenRepository
		TestRecords() TestRecordRepository
		PasswordResets() PasswordResetRepository
		// WithTx runs fn against a transactional Store. A returned error or a panic
		// rolls back every write made through tx; otherwise it commits.
		WithTx(ctx context.Context, fn func(tx Store) error) error
		Ping(ctx context.Context) error
	}
)
