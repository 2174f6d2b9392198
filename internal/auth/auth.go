// Package auth issues and verifies session tokens and decides what a caller
// may act on.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/models"
)

const bcryptCost = 10

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Name   string
	Role   models.Role
}

// IsAdmin reports whether the caller holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role.IsAdmin() }

// CanActOn returns an authorization error unless the caller is an admin or
// assigned to dept.
func (p Principal) CanActOn(dept models.Department) error {
	if p.IsAdmin() {
		return nil
	}
	if own, ok := p.Role.Department(); ok && own == dept {
		return nil
	}
	return apperr.Forbidden(apperr.CodeDepartmentMismatch, "role %s may not act on department %s", p.Role, dept)
}

// RequireAdmin returns an authorization error unless the caller is an admin.
func (p Principal) RequireAdmin() error {
	if p.IsAdmin() {
		return nil
	}
	return apperr.Forbidden(apperr.CodeAdminOnly, "admin role required")
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(bytes), errors.Wrap(err, "hash password")
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type claims struct {
	Name string      `json:"name"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for user valid for ttl.
func IssueToken(user *models.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: user.Name,
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	return signed, errors.Wrap(err, "sign token")
}

// ParseToken validates a token and returns its principal.
func ParseToken(tokenString, secret string) (Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, errors.Wrap(err, "parse token")
	}
	if !token.Valid {
		return Principal{}, errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, errors.Wrap(err, "token subject")
	}
	role, err := models.ParseRole(string(c.Role))
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: id, Name: c.Name, Role: role}, nil
}
