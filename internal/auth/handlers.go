package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/validation"
)

const maxRequestBody = 1 << 14

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,notblank,max=64"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// TokenResponse is returned by both endpoints on success. Session is empty
// unless redis-backed sessions are enabled.
type TokenResponse struct {
	Token     string       `json:"token"`
	Session   string       `json:"session,omitempty"`
	ExpiresIn int64        `json:"expires_in"`
	User      UserResponse `json:"user"`
}

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// Handlers serves local account registration and login.
type Handlers struct {
	users    store.Store
	hasher   *PasswordHasher
	jwt      *JWTManager
	sessions *SessionStore
}

// NewHandlers builds the handlers. sessions may be nil.
func NewHandlers(users store.Store, hasher *PasswordHasher, jwt *JWTManager, sessions *SessionStore) *Handlers {
	return &Handlers{users: users, hasher: hasher, jwt: jwt, sessions: sessions}
}

// Register creates an account with a random blue display colour and logs it in.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		metrics.AuthRequests.WithLabelValues("register", "bad_request").Inc()
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := validation.Struct(&req); err != nil {
		metrics.AuthRequests.WithLabelValues("register", "invalid").Inc()
		writeValidationError(w, err)
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		logging.Error().Err(err).Msg("password hashing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	email := req.Email
	user := &store.User{
		Username: req.Username,
		Email:    &email,
		Password: hash,
		Color:    RandomBlue(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.AuthRequests.WithLabelValues("register", "conflict").Inc()
			writeError(w, http.StatusConflict, ErrUserExists.Error())
			return
		}
		h.storeFailure(w, "register", err)
		return
	}

	logging.Info().Uint("user", user.ID).Str("username", user.Username).Msg("user registered")
	metrics.AuthRequests.WithLabelValues("register", "ok").Inc()
	h.issue(r.Context(), w, http.StatusCreated, user)
}

// Login checks a username/password pair and returns fresh tokens.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		metrics.AuthRequests.WithLabelValues("login", "bad_request").Inc()
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	if err := validation.Struct(&req); err != nil {
		metrics.AuthRequests.WithLabelValues("login", "invalid").Inc()
		writeValidationError(w, err)
		return
	}

	user, err := h.users.FindUserByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.storeFailure(w, "login", err)
		return
	}
	if user == nil || !h.hasher.Verify(req.Password, user.Password) {
		logging.Warn().Str("username", req.Username).Str("addr", r.RemoteAddr).Msg("login rejected")
		metrics.AuthRequests.WithLabelValues("login", "rejected").Inc()
		writeError(w, http.StatusUnauthorized, ErrInvalidCredentials.Error())
		return
	}

	metrics.AuthRequests.WithLabelValues("login", "ok").Inc()
	h.issue(r.Context(), w, http.StatusOK, user)
}

func (h *Handlers) issue(ctx context.Context, w http.ResponseWriter, status int, user *store.User) {
	token, err := h.jwt.GenerateToken(user.ID, user.Username)
	if err != nil {
		logging.Error().Err(err).Uint("user", user.ID).Msg("token signing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := TokenResponse{
		Token:     token,
		ExpiresIn: int64(h.jwt.Timeout().Seconds()),
		User:      UserResponse{ID: user.ID, Username: user.Username, Color: user.Color},
	}

	if h.sessions != nil {
		session, err := h.sessions.Create(ctx, user.ID)
		if err != nil {
			// the JWT alone is still usable
			logging.Warn().Err(err).Uint("user", user.ID).Msg("session creation failed")
		} else {
			resp.Session = session
		}
	}

	writeJSON(w, status, resp)
}

func (h *Handlers) storeFailure(w http.ResponseWriter, endpoint string, err error) {
	logging.Warn().Err(err).Str("endpoint", endpoint).Msg("datastore call failed")
	metrics.AuthRequests.WithLabelValues(endpoint, "unavailable").Inc()
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var verr *validation.Error
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("writing JSON response failed")
	}
}
