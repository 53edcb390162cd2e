package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Authenticator resolves identity tokens to stored users.
type Authenticator struct {
	jwt      *JWTManager
	sessions *SessionStore
	users    store.Store
}

// NewAuthenticator builds an Authenticator. sessions may be nil when redis is
// not configured; only JWTs are accepted then.
func NewAuthenticator(jwt *JWTManager, sessions *SessionStore, users store.Store) *Authenticator {
	return &Authenticator{jwt: jwt, sessions: sessions, users: users}
}

// Resolve returns the user a token stands for. Tokens with three dot-separated
// segments are treated as JWTs, anything else as a session id. Invalid tokens
// and tokens naming a deleted user fail with ErrInvalidToken; datastore and
// redis failures are returned as they are.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*store.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	userID, err := a.userIDFor(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.FindUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d no longer exists", ErrInvalidToken, userID)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Authenticator) userIDFor(ctx context.Context, token string) (uint, error) {
	if strings.Count(token, ".") == 2 {
		claims, err := a.jwt.ValidateToken(token)
		if err != nil {
			return 0, err
		}
		return claims.UserID, nil
	}

	if a.sessions == nil {
		return 0, fmt.Errorf("%w: session tokens are not enabled", ErrInvalidToken)
	}
	return a.sessions.Lookup(ctx, token)
}
