package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository/memory"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	"github.com/kapixcr/BioNote/internal/storage"
	"github.com/kapixcr/BioNote/internal/throttle"
	"github.com/kapixcr/BioNote/internal/upload"
	"github.com/kapixcr/BioNote/pkg/auth"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
	"github.com/kapixcr/BioNote/pkg/security"
)

type fixture struct {
	svc    *Service
	store  *memory.Store
	clinic *model.Clinic
	admin  *model.Account
}

func newFixture(t *testing.T, limits Limits) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	files := storage.New(afero.NewMemMapFs(), "http://localhost/storage")
	m := metrics.New("test", prometheus.NewRegistry())
	intake := upload.NewIntake(files, upload.Config{}, m, logger.Nop())
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	jwtSvc := auth.NewJWTService("secret", "bionote", time.Hour)

	pairs := pairing.NewService(store, hasher, intake, m, logger.Nop())
	clinic, err := pairs.CreatePair(ctx, pairing.RegisterInput{
		Clinic: model.Clinic{
			Veterinaria: "Clinica Central", Responsable: "Ana", Email: "vet@example.com",
			Usuario: "vet1", Pais: "GUATEMALA", AceptaTerminos: true, AceptaTratamientoDatos: true,
		},
		Password:             "secret123",
		PasswordConfirmation: "secret123",
	})
	require.NoError(t, err)

	hash, err := hasher.Hash("adminpass")
	require.NoError(t, err)
	admin := &model.Account{Name: "Admin", Email: "admin@example.com", PasswordHash: hash, Role: model.RoleAdmin}
	admin.Touch(time.Now())
	require.NoError(t, store.Accounts().Create(ctx, admin))

	return &fixture{
		svc:    NewService(store, jwtSvc, hasher, throttle.NewMemory(), limits, intake, m, logger.Nop()),
		store:  store,
		clinic: clinic,
		admin:  admin,
	}
}

func TestLoginClinic(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	res, err := f.svc.LoginClinic(ctx, "vet1", "secret123", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, TokenType, res.TokenType)
	assert.Equal(t, f.clinic.ID, res.Clinic.ID)
	assert.Nil(t, res.Account)

	p, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, model.PrincipalClinic, p.Kind)
	assert.Equal(t, model.ScopeClinic, p.Scope)
	assert.Equal(t, f.clinic.ID, p.Clinic.ID)
}

func TestLoginClinicKeepsSingleToken(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := f.svc.LoginClinic(ctx, "vet1", "secret123", "10.0.0.1")
		require.NoError(t, err)
		tokens = append(tokens, res.Token)
	}

	n, err := f.store.Tokens().CountByPrincipal(ctx, model.PrincipalClinic, f.clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.Authenticate(ctx, tokens[0])
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
	_, err = f.svc.Authenticate(ctx, tokens[2])
	assert.NoError(t, err)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	_, wrongPassword := f.svc.LoginClinic(ctx, "vet1", "wrong-pass", "10.0.0.1")
	_, unknownUser := f.svc.LoginClinic(ctx, "nobody", "secret123", "10.0.0.1")
	// The clinic's mirrored account is not an administrator.
	_, notAdmin := f.svc.LoginAdmin(ctx, "vet@example.com", "secret123", "10.0.0.1")

	for _, err := range []error{wrongPassword, unknownUser, notAdmin} {
		require.Error(t, err)
		assert.Equal(t, errors.InvalidCredentials().Message, errors.From(err).Message)
		assert.Equal(t, 401, errors.From(err).Status())
	}
}

func TestLoginThrottle(t *testing.T) {
	f := newFixture(t, Limits{Max: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.LoginClinic(ctx, "vet1", "wrong-pass", "10.0.0.1")
		assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
	}

	// Even the right password is refused until the window passes.
	_, err := f.svc.LoginClinic(ctx, "VET1", "secret123", "10.0.0.1")
	require.Error(t, err)
	appErr := errors.From(err)
	assert.Equal(t, errors.KindRateLimited, appErr.Kind)
	assert.Greater(t, appErr.RetryAfter, time.Duration(0))

	_, err = f.svc.LoginClinic(ctx, "vet1", "secret123", "10.0.0.2")
	assert.NoError(t, err)
}

func TestLoginAdmin(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	res, err := f.svc.LoginAdmin(ctx, "ADMIN@example.com", "adminpass", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, res.Account.ID)

	p, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	profile := f.svc.Me(p)
	assert.Equal(t, model.PrincipalAccount, profile.Kind)
	assert.Equal(t, "admin@example.com", profile.Account.Email)
	assert.Nil(t, profile.Clinic)
}

func TestConcurrentLoginsLeaveOneToken(t *testing.T) {
	f := newFixture(t, Limits{Max: 100, Window: time.Minute})
	ctx := context.Background()

	const n = 8
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.LoginClinic(ctx, "vet1", "secret123", "10.0.0.1")
			errs[i] = err
			if err == nil {
				tokens[i] = res.Token
			}
		}(i)
	}
	wg.Wait()

	valid := 0
	for i := range tokens {
		require.NoError(t, errs[i])
		if _, err := f.svc.Authenticate(ctx, tokens[i]); err == nil {
			valid++
		}
	}
	assert.Equal(t, 1, valid)

	count, err := f.store.Tokens().CountByPrincipal(ctx, model.PrincipalClinic, f.clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRefreshOfRevokedToken(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	res, err := f.svc.LoginClinic(ctx, "vet1", "secret123", "10.0.0.1")
	require.NoError(t, err)
	p, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)

	_, err = f.svc.LoginClinic(ctx, "vet1", "secret123", "10.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, p)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}

func TestLogoutAndRefresh(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	res, err := f.svc.LoginClinic(ctx, "vet1", "secret123", "10.0.0.1")
	require.NoError(t, err)
	p, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(ctx, p)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))

	p, err = f.svc.Authenticate(ctx, refreshed.Token)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, p))

	_, err = f.svc.Authenticate(ctx, refreshed.Token)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}

func TestAuthenticateRejectsForeignTokens(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	other := auth.NewJWTService("other-secret", "bionote", time.Hour)
	signed, _, err := other.Generate(f.clinic.ID, string(model.PrincipalClinic), model.ScopeClinic)
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, signed)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))

	// Correctly signed but never issued.
	signed, _, err = auth.NewJWTService("secret", "bionote", time.Hour).Generate(f.clinic.ID, string(model.PrincipalClinic), model.ScopeClinic)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, signed)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}
