package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
	"github.com/kapixcr/BioNote/internal/throttle"
	"github.com/kapixcr/BioNote/internal/upload"
	"github.com/kapixcr/BioNote/pkg/auth"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
	"github.com/kapixcr/BioNote/pkg/security"
)

const TokenType = "Bearer"

// Limits bounds login attempts per usuario and client address.
type Limits struct {
	Max    int
	Window time.Duration
}

// TokenResult is returned by login and refresh. Exactly one profile is set on login.
type TokenResult struct {
	Token     string         `json:"token"`
	TokenType string         `json:"token_type"`
	Clinic    *model.Clinic  `json:"veterinaria,omitempty"`
	Account   *model.Account `json:"user,omitempty"`
}

// Profile is the public view of the authenticated principal.
type Profile struct {
	Kind    model.PrincipalKind `json:"type"`
	Scope   string              `json:"scope"`
	Clinic  *model.Clinic       `json:"veterinaria,omitempty"`
	Account *model.Account      `json:"user,omitempty"`
}

type Service struct {
	store   repository.Store
	jwt     auth.JWTService
	hasher  security.PasswordHasher
	limiter throttle.Limiter
	limits  Limits
	intake  *upload.Intake
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time

	// dummyHash is compared against when the principal does not exist so
	// that unknown and known usernames cost the same.
	dummyHash string
}

func NewService(store repository.Store, jwtSvc auth.JWTService, hasher security.PasswordHasher,
	limiter throttle.Limiter, limits Limits, intake *upload.Intake, m *metrics.Metrics, log *logger.Logger) *Service {
	if limits.Max <= 0 {
		limits.Max = 10
	}
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	dummy, _ := hasher.Hash(uuid.NewString())
	return &Service{
		store:     store,
		jwt:       jwtSvc,
		hasher:    hasher,
		limiter:   limiter,
		limits:    limits,
		intake:    intake,
		metrics:   m,
		log:       log.With("service", "auth"),
		now:       time.Now,
		dummyHash: dummy,
	}
}

// LoginClinic authenticates a clinic by usuario and issues a clinic-scoped
// token, revoking every token the clinic held before.
func (s *Service) LoginClinic(ctx context.Context, usuario, password, ip string) (*TokenResult, error) {
	key := loginKey(usuario, ip)
	if err := s.throttle(ctx, key, model.ScopeClinic); err != nil {
		return nil, err
	}

	clinic, err := s.store.Clinics().GetByUsuario(ctx, strings.TrimSpace(usuario))
	if err != nil {
		if !stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Internal(err)
		}
		_ = s.hasher.Compare(s.dummyHash, password)
		s.metrics.ObserveLogin(model.ScopeClinic, "failure")
		return nil, errors.InvalidCredentials()
	}
	if err := s.hasher.Compare(clinic.PasswordHash, password); err != nil {
		s.metrics.ObserveLogin(model.ScopeClinic, "failure")
		return nil, errors.InvalidCredentials()
	}

	token, err := s.issue(ctx, model.PrincipalClinic, clinic.ID, model.ScopeClinic, uuid.Nil)
	if err != nil {
		return nil, err
	}
	s.resetThrottle(ctx, key)
	s.metrics.ObserveLogin(model.ScopeClinic, "success")
	s.log.Info("clinic logged in", "clinic_id", clinic.ID.String())

	clinic.ResolveLogo(s.intake.Resolver(upload.SubdirLogos))
	return &TokenResult{Token: token, TokenType: TokenType, Clinic: clinic}, nil
}

// LoginAdmin authenticates an administrator account by email. Accounts
// without the admin role fail exactly like a wrong password.
func (s *Service) LoginAdmin(ctx context.Context, email, password, ip string) (*TokenResult, error) {
	key := loginKey(email, ip)
	if err := s.throttle(ctx, key, model.ScopeAdmin); err != nil {
		return nil, err
	}

	account, err := s.store.Accounts().GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if !stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Internal(err)
		}
		_ = s.hasher.Compare(s.dummyHash, password)
		s.metrics.ObserveLogin(model.ScopeAdmin, "failure")
		return nil, errors.InvalidCredentials()
	}
	if err := s.hasher.Compare(account.PasswordHash, password); err != nil || !account.IsAdmin() {
		s.metrics.ObserveLogin(model.ScopeAdmin, "failure")
		return nil, errors.InvalidCredentials()
	}

	token, err := s.issue(ctx, model.PrincipalAccount, account.ID, model.ScopeAdmin, uuid.Nil)
	if err != nil {
		return nil, err
	}
	s.resetThrottle(ctx, key)
	s.metrics.ObserveLogin(model.ScopeAdmin, "success")
	s.log.Info("admin logged in", "account_id", account.ID.String())

	return &TokenResult{Token: token, TokenType: TokenType, Account: account}, nil
}

// Authenticate resolves a bearer token to its principal. Every failure is
// reported as the same unauthenticated error.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*model.Principal, error) {
	claims, err := s.jwt.Validate(bearer)
	if err != nil {
		return nil, errors.Unauthorized(err)
	}
	tokenID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, errors.Unauthorized(err)
	}

	row, err := s.store.Tokens().Get(ctx, tokenID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Unauthorized(err)
		}
		return nil, errors.Internal(err)
	}
	if !security.VerifyToken(bearer, row.TokenHash) ||
		row.PrincipalID.String() != claims.Subject ||
		string(row.PrincipalKind) != claims.Kind ||
		!row.ExpiresAt.After(s.now()) {
		return nil, errors.Unauthorized(nil)
	}

	p := &model.Principal{Kind: row.PrincipalKind, Scope: row.Scope, TokenID: row.ID}
	switch row.PrincipalKind {
	case model.PrincipalClinic:
		p.Clinic, err = s.store.Clinics().Get(ctx, row.PrincipalID)
	case model.PrincipalAccount:
		p.Account, err = s.store.Accounts().Get(ctx, row.PrincipalID)
	default:
		return nil, errors.Unauthorized(fmt.Errorf("unknown principal kind %q", row.PrincipalKind))
	}
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Unauthorized(err)
		}
		return nil, errors.Internal(err)
	}
	return p, nil
}

// Logout revokes the token the request was made with.
func (s *Service) Logout(ctx context.Context, p *model.Principal) error {
	if err := s.store.Tokens().Delete(ctx, p.TokenID); err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		return errors.Internal(err)
	}
	return nil
}

// Refresh replaces the current token with a new one of the same scope.
func (s *Service) Refresh(ctx context.Context, p *model.Principal) (*TokenResult, error) {
	token, err := s.issue(ctx, p.Kind, p.ID(), p.Scope, p.TokenID)
	if err != nil {
		return nil, err
	}
	return &TokenResult{Token: token, TokenType: TokenType}, nil
}

func (s *Service) Me(p *model.Principal) *Profile {
	profile := &Profile{Kind: p.Kind, Scope: p.Scope}
	if p.IsClinic() {
		clinic := *p.Clinic
		clinic.ResolveLogo(s.intake.Resolver(upload.SubdirLogos))
		profile.Clinic = &clinic
	} else {
		profile.Account = p.Account
	}
	return profile
}

// issue signs a token and persists its hash in one transaction with the
// revocation of the previous token(s). A nil replace revokes every token of
// the principal; otherwise only that one.
func (s *Service) issue(ctx context.Context, kind model.PrincipalKind, id uuid.UUID, scope string, replace uuid.UUID) (string, error) {
	signed, claims, err := s.jwt.Generate(id, string(kind), scope)
	if err != nil {
		return "", errors.Internal(err)
	}
	tokenID, err := uuid.Parse(claims.ID)
	if err != nil {
		return "", errors.Internal(err)
	}

	row := &model.AuthToken{
		ID:            tokenID,
		PrincipalKind: kind,
		PrincipalID:   id,
		Scope:         scope,
		TokenHash:     security.HashToken(signed),
		ExpiresAt:     claims.ExpiresAt.Time,
		CreatedAt:     s.now(),
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		// Concurrent logins of one principal must not both see an empty slot.
		if err := tx.Tokens().LockPrincipal(ctx, kind, id); err != nil {
			return err
		}
		if replace == uuid.Nil {
			if _, err := tx.Tokens().DeleteByPrincipal(ctx, kind, id); err != nil {
				return err
			}
		} else if err := tx.Tokens().Delete(ctx, replace); err != nil {
			return err
		}
		return tx.Tokens().Create(ctx, row)
	})
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return "", errors.Unauthorized(err)
		}
		s.log.Error(err, "issue token failed", "principal_kind", string(kind))
		return "", errors.Internal(err)
	}
	return signed, nil
}

// throttle fails open when the limiter backend is unavailable.
func (s *Service) throttle(ctx context.Context, key, scope string) error {
	res, err := s.limiter.Attempt(ctx, key, s.limits.Max, s.limits.Window)
	if err != nil {
		s.log.Error(err, "login throttle unavailable")
		return nil
	}
	if !res.Allowed {
		s.metrics.ObserveLogin(scope, "throttled")
		s.metrics.ObserveThrottled("login")
		return errors.RateLimited(res.RetryAfter)
	}
	return nil
}

func (s *Service) resetThrottle(ctx context.Context, key string) {
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.log.Error(err, "failed to reset login throttle")
	}
}

func loginKey(usuario, ip string) string {
	return "login:" + strings.ToLower(strings.TrimSpace(usuario)) + "|" + ip
}
