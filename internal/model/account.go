package model

import "strings"

// Account roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account is a login identity. Clinic registration creates one with the clinic's email.
type Account struct {
	Base
	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         string `json:"role" db:"role"`
}

func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

type AccountFilter struct {
	Search string
	Pagination
}

// NormalizeEmail is applied to every email before it is stored or compared.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
