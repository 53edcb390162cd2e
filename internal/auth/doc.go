// Package auth turns identity tokens into users and issues those tokens.
//
// Two token kinds are accepted on the websocket "authenticate" event:
//
//   - a signed HS256 JWT issued by POST /api/login, carrying the user id
//   - an opaque session id stored in redis, issued alongside the JWT when a
//     redis address is configured
//
// Authenticator tries the JWT first and falls back to the session store.
// Handlers serves the registration and login endpoints; passwords are kept as
// bcrypt hashes and never leave the store.
package auth
