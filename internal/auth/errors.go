package auth

import "errors"

var (
	// ErrInvalidToken is returned for a token that is malformed, expired,
	// unknown or names a user that no longer exists.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrInvalidCredentials is returned when a username/password pair does not match.
	ErrInvalidCredentials = errors.New("auth: invalid username or password")

	// ErrUserExists is returned when registering a taken username or e-mail.
	ErrUserExists = errors.New("auth: user already exists")
)
