package password

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
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
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
	"github.com/kapixcr/BioNote/pkg/security"
)

type sentMail struct {
	to, name, link string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendPasswordReset(ctx context.Context, to, name, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, name, link})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	mailer *fakeMailer
	hasher security.PasswordHasher
	clinic *model.Clinic
}

func newFixture(t *testing.T, limits Limits) *fixture {
	t.Helper()
	store := memory.NewStore()
	files := storage.New(afero.NewMemMapFs(), "http://localhost/storage")
	m := metrics.New("test", prometheus.NewRegistry())
	intake := upload.NewIntake(files, upload.Config{}, m, logger.Nop())
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	pairs := pairing.NewService(store, hasher, intake, m, logger.Nop())

	clinic, err := pairs.CreatePair(context.Background(), pairing.RegisterInput{
		Clinic: model.Clinic{
			Responsable: "Ana", Email: "vet@example.com", Usuario: "vet1", Pais: "GUATEMALA",
			AceptaTerminos: true, AceptaTratamientoDatos: true,
		},
		Password:             "secret123",
		PasswordConfirmation: "secret123",
	})
	require.NoError(t, err)

	mailer := &fakeMailer{}
	return &fixture{
		svc:    NewService(store, pairs, mailer, throttle.NewMemory(), limits, "http://app.example.com/", m, logger.Nop()),
		store:  store,
		mailer: mailer,
		hasher: hasher,
		clinic: clinic,
	}
}

// forgot runs Forgot and waits for the mail it hands off.
func (f *fixture) forgot(ctx context.Context, addr, ip string) {
	f.svc.Forgot(ctx, addr, ip)
	f.svc.Wait()
}

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/reset-password", u.Path)
	return u.Query().Get("token")
}

func TestForgotAndReset(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	require.NoError(t, f.store.Tokens().Create(ctx, &model.AuthToken{
		ID: uuid.New(), PrincipalKind: model.PrincipalClinic, PrincipalID: f.clinic.ID, ExpiresAt: time.Now().Add(time.Hour),
	}))

	f.forgot(ctx, " VET@example.com", "10.0.0.1")
	mail := f.mailer.last(t)
	assert.Equal(t, "vet@example.com", mail.to)
	assert.Equal(t, "Ana", mail.name)
	token := tokenFrom(t, mail.link)
	require.NotEmpty(t, token)

	// Only the hash is persisted.
	pending, err := f.store.PasswordResets().Get(ctx, "vet@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, token, pending.TokenHash)

	require.NoError(t, f.svc.Reset(ctx, "vet@example.com", token, "brandnew1", "brandnew1", "10.0.0.1"))

	clinic, err := f.store.Clinics().Get(ctx, f.clinic.ID)
	require.NoError(t, err)
	assert.NoError(t, f.hasher.Compare(clinic.PasswordHash, "brandnew1"))
	account, err := f.store.Accounts().GetByEmail(ctx, "vet@example.com")
	require.NoError(t, err)
	assert.Equal(t, clinic.PasswordHash, account.PasswordHash)

	n, err := f.store.Tokens().CountByPrincipal(ctx, model.PrincipalClinic, f.clinic.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Tokens are single use.
	err = f.svc.Reset(ctx, "vet@example.com", token, "another12", "another12", "10.0.0.1")
	assert.Equal(t, []string{msgInvalidToken}, errors.From(err).Fields["email"])
}

func TestForgotUnknownEmailSendsNothing(t *testing.T) {
	f := newFixture(t, Limits{})
	f.forgot(context.Background(), "nobody@example.com", "10.0.0.1")
	assert.Empty(t, f.mailer.sent)
}

type gatedMailer struct {
	fakeMailer
	gate chan struct{}
}

func (m *gatedMailer) SendPasswordReset(ctx context.Context, to, name, link string) error {
	select {
	case <-m.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.fakeMailer.SendPasswordReset(ctx, to, name, link)
}

func TestForgotDoesNotWaitForMail(t *testing.T) {
	f := newFixture(t, Limits{})
	mailer := &gatedMailer{gate: make(chan struct{})}
	f.svc.mailer = mailer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Forgot(ctx, "vet@example.com", "10.0.0.1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Forgot blocked on the mailer")
	}

	// The request context ending does not abort the handed-off send.
	cancel()
	close(mailer.gate)
	f.svc.Wait()
	assert.Equal(t, "vet@example.com", mailer.last(t).to)
}

func TestForgotPurgesExpiredResets(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	require.NoError(t, f.store.PasswordResets().Upsert(ctx, &model.PasswordReset{
		Email: "stale@example.com", TokenHash: "x", CreatedAt: time.Now().Add(-TokenTTL - time.Hour),
	}))

	f.forgot(ctx, "vet@example.com", "10.0.0.1")

	_, err := f.store.PasswordResets().Get(ctx, "stale@example.com")
	assert.Error(t, err)
	_, err = f.store.PasswordResets().Get(ctx, "vet@example.com")
	assert.NoError(t, err)
}

func TestForgotThrottleIsSilent(t *testing.T) {
	f := newFixture(t, Limits{ForgotMax: 1, ForgotWindow: time.Hour})
	ctx := context.Background()

	f.forgot(ctx, "vet@example.com", "10.0.0.1")
	f.forgot(ctx, "vet@example.com", "10.0.0.1")
	assert.Len(t, f.mailer.sent, 1)
}

func TestResetRejects(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	f.forgot(ctx, "vet@example.com", "10.0.0.1")
	token := tokenFrom(t, f.mailer.last(t).link)

	err := f.svc.Reset(ctx, "vet@example.com", token, "brandnew1", "brandnew2", "10.0.0.1")
	assert.Contains(t, errors.From(err).Fields, "password")

	err = f.svc.Reset(ctx, "vet@example.com", "wrong-token", "brandnew1", "brandnew1", "10.0.0.1")
	assert.Equal(t, []string{msgInvalidToken}, errors.From(err).Fields["email"])

	err = f.svc.Reset(ctx, "other@example.com", token, "brandnew1", "brandnew1", "10.0.0.1")
	assert.Equal(t, []string{msgInvalidToken}, errors.From(err).Fields["email"])
}

func TestResetExpired(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	f.forgot(ctx, "vet@example.com", "10.0.0.1")
	token := tokenFrom(t, f.mailer.last(t).link)

	f.svc.now = func() time.Time { return time.Now().Add(TokenTTL + time.Minute) }
	err := f.svc.Reset(ctx, "vet@example.com", token, "brandnew1", "brandnew1", "10.0.0.1")
	assert.Equal(t, []string{msgInvalidToken}, errors.From(err).Fields["email"])

	_, err = f.store.PasswordResets().Get(ctx, "vet@example.com")
	assert.Error(t, err)
}

func TestResetThrottle(t *testing.T) {
	f := newFixture(t, Limits{ResetMax: 2, ResetWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := f.svc.Reset(ctx, "vet@example.com", "guess", "brandnew1", "brandnew1", "10.0.0.1")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	}
	err := f.svc.Reset(ctx, "vet@example.com", "guess", "brandnew1", "brandnew1", "10.0.0.1")
	assert.True(t, errors.IsKind(err, errors.KindRateLimited))
}
