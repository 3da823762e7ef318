package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Realm-101/unbuilt-collab/internal/database"
	"github.com/Realm-101/unbuilt-collab/internal/types"
)

// ErrUnauthorized is returned when no credential on the request resolves
// to an account. Authentication is attempted exactly once per connection.
var ErrUnauthorized = errors.New("unauthorized")

const TokenCookieKey = "token"

// Authenticator resolves an inbound upgrade request to a user descriptor.
type Authenticator interface {
	Authenticate(r *http.Request) (types.User, error)
}

// TokenAuthenticator validates a bearer collab token carried in the
// Authorization header or the token query parameter.
type TokenAuthenticator struct {
	SigningKey []byte
	DB         database.AccountRepository
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (types.User, error) {
	tokenString := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tokenString = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		tokenString = q
	}

	if tokenString == "" {
		return types.User{}, fmt.Errorf("no bearer token: %w", ErrUnauthorized)
	}

	return resolveUser(a.DB, a.SigningKey, tokenString)
}

// SessionAuthenticator validates the legacy session cookie.
type SessionAuthenticator struct {
	SigningKey []byte
	DB         database.AccountRepository
}

func (a *SessionAuthenticator) Authenticate(r *http.Request) (types.User, error) {
	cookie, err := r.Cookie(TokenCookieKey)
	if err != nil {
		return types.User{}, fmt.Errorf("no session cookie: %w", ErrUnauthorized)
	}

	return resolveUser(a.DB, a.SigningKey, cookie.Value)
}

func resolveUser(db database.AccountRepository, signingKey []byte, tokenString string) (types.User, error) {
	userId, err := VerifyToken(tokenString, signingKey)
	if err != nil {
		return types.User{}, fmt.Errorf("verify token: %w", err)
	}

	account, err := db.GetAccountById(userId)
	if err != nil {
		return types.User{}, fmt.Errorf("resolve account %d: %w", userId, err)
	}

	return types.User{
		Id:           account.Id,
		Username:     account.Username,
		EmailAddress: account.EmailAddress,
		Role:         account.Role,
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.UpdatedAt,
	}, nil
}

// Chain tries each authenticator in order; the first to succeed wins.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) (types.User, error) {
	for _, a := range c {
		user, err := a.Authenticate(r)
		if err == nil {
			return user, nil
		}
	}

	return types.User{}, ErrUnauthorized
}
