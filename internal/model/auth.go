package model

import (
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleWorker   Role = "worker"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleWorker:
		return true
	}
	return false
}

// Identity is the validated caller behind a bearer token.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// TokenClaims represents JWT claims issued by the external auth service.
// The subject carries the user id.
type TokenClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}
