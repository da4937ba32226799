package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", "bionote", time.Hour)
	subject := uuid.New()

	signed, claims, err := svc.Generate(subject, "clinic", "clinic:access")
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	got, err := svc.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, subject.String(), got.Subject)
	assert.Equal(t, claims.ID, got.ID)
	assert.Equal(t, "clinic", got.Kind)
	assert.Equal(t, "clinic:access", got.Scope)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", "bionote", time.Hour)
	signed, _, err := svc.Generate(uuid.New(), "account", "admin:access")
	require.NoError(t, err)

	tests := []struct {
		name  string
		svc   JWTService
		token string
	}{
		{"wrong secret", NewJWTService("other", "bionote", time.Hour), signed},
		{"wrong issuer", NewJWTService("secret", "someone-else", time.Hour), signed},
		{"garbage", svc, "not-a-token"},
		{"tampered", svc, signed + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateExpired(t *testing.T) {
	svc := NewJWTService("secret", "bionote", time.Minute).(*jwtService)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }

	signed, _, err := svc.Generate(uuid.New(), "clinic", "clinic:access")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
