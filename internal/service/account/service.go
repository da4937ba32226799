package account

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/security"
)

// CreateInput is a standalone account. Role defaults to user.
type CreateInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Service manages accounts on behalf of administrators. Changes to an
// account that mirrors a clinic go through the pairing service.
type Service struct {
	store   repository.Store
	pairing *pairing.Service
	hasher  security.PasswordHasher
	perPage int
	log     *logger.Logger
	now     func() time.Time
}

func NewService(store repository.Store, pairing *pairing.Service, hasher security.PasswordHasher, perPage int, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		pairing: pairing,
		hasher:  hasher,
		perPage: perPage,
		log:     log.With("service", "account"),
		now:     time.Now,
	}
}

func (s *Service) List(ctx context.Context, filter model.AccountFilter) (model.Page[*model.Account], model.Pagination, error) {
	filter.Pagination = filter.Pagination.Normalize(s.perPage)
	page, err := s.store.Accounts().List(ctx, filter)
	if err != nil {
		return page, filter.Pagination, errors.Internal(err)
	}
	return page, filter.Pagination, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	account, err := s.store.Accounts().Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return account, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Account, error) {
	account := &model.Account{
		Name:  strings.TrimSpace(in.Name),
		Email: model.NormalizeEmail(in.Email),
		Role:  in.Role,
	}
	if account.Role == "" {
		account.Role = model.RoleUser
	}

	fields := map[string][]string{}
	if err := s.pairing.CheckEmail(ctx, fields, account.Email, uuid.Nil, uuid.Nil); err != nil {
		return nil, errors.Internal(err)
	}
	if len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if stderrors.Is(err, security.ErrPasswordTooShort) {
			return nil, errors.Field("password", fmt.Sprintf("The password must be at least %d characters.", security.MinPasswordLen))
		}
		return nil, errors.Internal(err)
	}
	account.PasswordHash = hash
	account.Touch(s.now())

	if err := s.store.Accounts().Create(ctx, account); err != nil {
		if stderrors.Is(err, repository.ErrDuplicate) {
			return nil, errors.Conflict("email", "The email has already been taken.", err)
		}
		return nil, errors.Internal(err)
	}
	s.log.Info("account created", "account_id", account.ID.String(), "role", account.Role)
	return account, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in pairing.AccountUpdate) (*model.Account, error) {
	return s.pairing.UpdateFromAccount(ctx, id, in)
}

// Delete removes the account together with the clinic it mirrors. An
// administrator cannot delete their own account.
func (s *Service) Delete(ctx context.Context, p *model.Principal, id uuid.UUID) error {
	if p.Kind == model.PrincipalAccount && p.Account.ID == id {
		return errors.Forbidden("you cannot delete your own account")
	}
	return s.pairing.DeleteByAccount(ctx, id)
}

// EnsureAdmin creates the bootstrap administrator when no account uses email.
// An existing account is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) error {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil
	}

	existing, err := s.store.Accounts().GetByEmail(ctx, email)
	if err == nil {
		if !existing.IsAdmin() {
			s.log.Warn("bootstrap admin email belongs to a non-admin account", "account_id", existing.ID.String())
		}
		return nil
	}
	if !stderrors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}

	if _, err := s.Create(ctx, CreateInput{Name: name, Email: email, Password: password, Role: model.RoleAdmin}); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

func mapError(err error) error {
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NotFound("user", err)
	}
	return errors.Internal(err)
}
