package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/kapixcr/BioNote/internal/config"
	"github.com/kapixcr/BioNote/pkg/circuitbreaker"
	"github.com/kapixcr/BioNote/pkg/logger"
)

type Service interface {
	SendPasswordReset(ctx context.Context, to, name, link string) error
}

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hola {{.Name}},</p>
<p>Recibimos una solicitud para restablecer la contraseña de tu cuenta.</p>
<p><a href="{{.Link}}">Restablecer contraseña</a></p>
<p>El enlace vence en 24 horas. Si no solicitaste el cambio, ignora este mensaje.</p>
</body>
</html>`))

// SMTPService delivers mail through an SMTP relay.
type SMTPService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg config.MailConfig) *SMTPService {
	return &SMTPService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPService) SendPasswordReset(ctx context.Context, to, name, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := resetTemplate.Execute(&body, struct{ Name, Link string }{name, link}); err != nil {
		return fmt.Errorf("render reset mail: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Restablecer contraseña")
	msg.SetBody("text/plain", fmt.Sprintf("Hola %s,\n\nRestablece tu contraseña en: %s\n\nEl enlace vence en 24 horas.\n", name, link))
	msg.AddAlternative("text/html", body.String())

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// LogService stands in when no SMTP host is configured. It never logs the link.
type LogService struct {
	log *logger.Logger
}

func NewLogService(log *logger.Logger) *LogService {
	return &LogService{log: log.With("component", "email")}
}

func (s *LogService) SendPasswordReset(ctx context.Context, to, name, link string) error {
	s.log.Info("password reset mail suppressed, no smtp host configured")
	return nil
}

// BreakerService stops dialing a failing relay for a while instead of
// stalling every forgot request on the SMTP timeout.
type BreakerService struct {
	next    Service
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

func NewBreakerService(next Service, breaker *circuitbreaker.CircuitBreaker, log *logger.Logger) *BreakerService {
	return &BreakerService{next: next, breaker: breaker, log: log.With("component", "email").With("breaker", breaker.Name())}
}

func (s *BreakerService) SendPasswordReset(ctx context.Context, to, name, link string) error {
	err := s.breaker.Execute(func() error {
		return s.next.SendPasswordReset(ctx, to, name, link)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		s.log.Warn("mail relay unavailable, reset mail skipped")
	}
	return err
}
