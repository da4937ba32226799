// Package password implements the forgot/reset password flow for accounts
// and their clinics.
package password

import (
	"context"
	stderrors "errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kapixcr/BioNote/internal/email"
	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	"github.com/kapixcr/BioNote/internal/throttle"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
	"github.com/kapixcr/BioNote/pkg/security"
)

// TokenTTL is how long a reset link stays valid.
const TokenTTL = 24 * time.Hour

const msgInvalidToken = "This password reset token is invalid."

const (
	maxPendingMails = 16
	mailTimeout     = 30 * time.Second
)

type Limits struct {
	ForgotMax    int
	ForgotWindow time.Duration
	ResetMax     int
	ResetWindow  time.Duration
}

type Service struct {
	store    repository.Store
	pairing  *pairing.Service
	mailer   email.Service
	limiter  throttle.Limiter
	limits   Limits
	resetURL string
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time

	senders chan struct{}
	pending sync.WaitGroup
}

func NewService(store repository.Store, pairing *pairing.Service, mailer email.Service, limiter throttle.Limiter,
	limits Limits, resetURL string, m *metrics.Metrics, log *logger.Logger) *Service {
	if limits.ForgotMax <= 0 {
		limits.ForgotMax = 5
	}
	if limits.ForgotWindow <= 0 {
		limits.ForgotWindow = time.Hour
	}
	if limits.ResetMax <= 0 {
		limits.ResetMax = 10
	}
	if limits.ResetWindow <= 0 {
		limits.ResetWindow = 10 * time.Minute
	}
	return &Service{
		store:    store,
		pairing:  pairing,
		mailer:   mailer,
		limiter:  limiter,
		limits:   limits,
		resetURL: strings.TrimRight(resetURL, "/"),
		metrics:  m,
		log:      log.With("service", "password"),
		now:      time.Now,
		senders:  make(chan struct{}, maxPendingMails),
	}
}

// Forgot sends a reset link when an account uses addr. The outcome is never
// reported to the caller, so a throttled, unknown or failed request looks
// the same as a successful one.
func (s *Service) Forgot(ctx context.Context, addr, ip string) {
	addr = model.NormalizeEmail(addr)
	log := s.log.With("email_hash", emailHash(addr))

	res, err := s.limiter.Attempt(ctx, "forgot:"+addr+"|"+ip, s.limits.ForgotMax, s.limits.ForgotWindow)
	if err != nil {
		log.Error(err, "forgot throttle unavailable")
	} else if !res.Allowed {
		s.metrics.ObserveThrottled("password_forgot")
		log.Warn("password reset throttled")
		return
	}

	account, err := s.store.Accounts().GetByEmail(ctx, addr)
	if err != nil {
		if !stderrors.Is(err, repository.ErrNotFound) {
			log.Error(err, "look up account for password reset")
		}
		return
	}

	token, err := security.RandomToken(32)
	if err != nil {
		log.Error(err, "generate reset token")
		return
	}
	now := s.now()
	if _, err := s.store.PasswordResets().DeleteOlderThan(ctx, now.Add(-TokenTTL)); err != nil {
		log.Error(err, "purge expired password resets")
	}
	reset := &model.PasswordReset{Email: addr, TokenHash: security.HashToken(token), CreatedAt: now}
	if err := s.store.PasswordResets().Upsert(ctx, reset); err != nil {
		log.Error(err, "store password reset")
		return
	}

	link := s.resetURL + "/reset-password?" + url.Values{"token": {token}, "email": {addr}}.Encode()
	s.deliver(ctx, log, addr, account.Name, link)
}

// deliver sends the mail off the request path, so Forgot takes as long for
// a registered address as for an unknown one. At most maxPendingMails sends
// run at once; beyond that the mail is dropped.
func (s *Service) deliver(ctx context.Context, log *logger.Logger, to, name, link string) {
	select {
	case s.senders <- struct{}{}:
	default:
		log.Warn("password reset mail dropped", "pending", maxPendingMails)
		return
	}
	s.pending.Add(1)
	go func() {
		defer func() {
			<-s.senders
			s.pending.Done()
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()
		if err := s.mailer.SendPasswordReset(ctx, to, name, link); err != nil {
			log.Error(err, "send password reset mail")
			return
		}
		log.Info("password reset link sent")
	}()
}

// Wait blocks until every mail handed off by Forgot has been sent or has failed.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Reset sets a new password for the account and clinic sharing addr when
// token matches a pending reset younger than TokenTTL.
func (s *Service) Reset(ctx context.Context, addr, token, password, confirmation, ip string) error {
	addr = model.NormalizeEmail(addr)
	log := s.log.With("email_hash", emailHash(addr))

	res, err := s.limiter.Attempt(ctx, "reset:"+addr+"|"+ip, s.limits.ResetMax, s.limits.ResetWindow)
	if err != nil {
		log.Error(err, "reset throttle unavailable")
	} else if !res.Allowed {
		s.metrics.ObserveThrottled("password_reset")
		return errors.RateLimited(res.RetryAfter)
	}

	if password != confirmation {
		return errors.Field("password", "The password and password_confirmation must match.")
	}

	reset, err := s.store.PasswordResets().Get(ctx, addr)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return errors.Field("email", msgInvalidToken)
		}
		return errors.Internal(err)
	}
	if s.now().Sub(reset.CreatedAt) > TokenTTL {
		if err := s.store.PasswordResets().Delete(ctx, addr); err != nil && !stderrors.Is(err, repository.ErrNotFound) {
			log.Error(err, "delete expired password reset")
		}
		return errors.Field("email", msgInvalidToken)
	}
	if !security.VerifyToken(token, reset.TokenHash) {
		return errors.Field("email", msgInvalidToken)
	}

	if err := s.pairing.SetPasswordByEmail(ctx, addr, password); err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return errors.Field("email", "We can't find a user with that email address.")
		}
		return err
	}

	if err := s.store.PasswordResets().Delete(ctx, addr); err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		log.Error(err, "consume password reset")
	}
	log.Info("password reset completed")
	return nil
}

func emailHash(addr string) string {
	return security.HashToken(addr)[:16]
}
