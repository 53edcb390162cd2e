package chat

import (
	"crypto/md5" //nolint:gosec // gravatar keys are md5 by definition
	"encoding/hex"
	"strings"

	"github.com/Tyrowin/roomchat/internal/store"
)

// ConnID identifies one live transport connection.
type ConnID string

// Identity is the public view of an authenticated user.
type Identity struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Gravatar string `json:"gravatar"`
}

// IdentityFromUser projects a stored user onto its public identity.
func IdentityFromUser(u *store.User) Identity {
	var email string
	if u.Email != nil {
		email = *u.Email
	}
	return Identity{
		ID:       u.ID,
		Username: u.Username,
		Color:    u.Color,
		Gravatar: GravatarURL(email),
	}
}

// GravatarURL returns the avatar URL for an e-mail address.
func GravatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email)))) //nolint:gosec
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "/"
}
