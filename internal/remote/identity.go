package remote

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
)

// Identity is the session owner, extracted from the bearer token. Events and
// orders addressed to a different identity are discarded by the engine.
type Identity struct {
	Email   string
	Subject string
}

// IdentityFromToken reads the identity claims from a JWT without verifying
// its signature. Verification belongs to the backend; locally the token is
// only a label for which session's orders this process holds.
func IdentityFromToken(token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(trimmed, jwt.MapClaims{})
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "unexpected claim type")
	}

	identity := Identity{}
	if email, ok := claims["email"].(string); ok {
		identity.Email = strings.ToLower(strings.TrimSpace(email))
	}
	if sub, err := claims.GetSubject(); err == nil {
		identity.Subject = sub
	}
	if identity.Email == "" && identity.Subject == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "token carries no identity claims")
	}
	return identity, nil
}

// Matches reports whether the record belongs to this identity. Records with
// no customer email are kept; they are locally created drafts that have not
// been attributed yet.
func (i Identity) Matches(customerEmail string) bool {
	if customerEmail == "" {
		return true
	}
	if i.Email == "" {
		return true
	}
	return strings.EqualFold(i.Email, customerEmail)
}
