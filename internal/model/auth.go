package model

import (
	"time"

	"github.com/google/uuid"
)

// Token scopes
const (
	ScopeClinic = "clinic:access"
	ScopeAdmin  = "admin:access"
)

type PrincipalKind string

const (
	PrincipalAccount PrincipalKind = "account"
	PrincipalClinic  PrincipalKind = "clinic"
)

// AuthToken is the persisted side of a bearer token. Only the hash is stored.
type AuthToken struct {
	ID            uuid.UUID     `db:"id"`
	PrincipalKind PrincipalKind `db:"principal_kind"`
	PrincipalID   uuid.UUID     `db:"principal_id"`
	Scope         string        `db:"scope"`
	TokenHash     string        `db:"token_hash"`
	ExpiresAt     time.Time     `db:"expires_at"`
	CreatedAt     time.Time     `db:"created_at"`
}

// Principal is the authenticated caller. Exactly one of Account and Clinic is set,
// according to Kind.
type Principal struct {
	Kind    PrincipalKind
	Scope   string
	TokenID uuid.UUID
	Account *Account
	Clinic  *Clinic
}

func (p *Principal) ID() uuid.UUID {
	if p.Kind == PrincipalClinic {
		return p.Clinic.ID
	}
	return p.Account.ID
}

func (p *Principal) Email() string {
	if p.Kind == PrincipalClinic {
		return p.Clinic.Email
	}
	return p.Account.Email
}

// IsAdmin is true only for an admin account holding an admin-scoped token.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Kind == PrincipalAccount && p.Scope == ScopeAdmin && p.Account.IsAdmin()
}

func (p *Principal) IsClinic() bool {
	return p != nil && p.Kind == PrincipalClinic
}

// CanAccessClinic reports whether the caller may read or modify the clinic id.
func (p *Principal) CanAccessClinic(id uuid.UUID) bool {
	return p.IsAdmin() || (p.IsClinic() && p.Clinic.ID == id)
}

// PasswordReset is a pending reset for an account email. Only the token hash is stored.
type PasswordReset struct {
	Email     string    `db:"email"`
	TokenHash string    `db:"token_hash"`
	CreatedAt time.Time `db:"created_at"`
}
