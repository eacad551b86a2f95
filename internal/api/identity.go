package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calico0/parley/internal/history"
)

const (
	identityCookieName = "parley_uid"
	identityCookieTTL  = 30 * 24 * time.Hour

	maxUsernameLength = 64
)

// UserStore resolves and creates stable user identities.
// Implemented by *history.Store.
type UserStore interface {
	EnsureUser(ctx context.Context, username string) (*history.User, error)
	UserByID(ctx context.Context, id int64) (*history.User, error)
}

// identity signs and verifies the uid cookie. The cookie value is
// "<id>.<base64url(hmac-sha256(id))>"; a forged or truncated value fails
// verification and the request is treated as unauthenticated.
type identity struct {
	secret []byte
	secure bool
}

func newIdentity(secret string, secure bool) *identity {
	return &identity{secret: []byte(secret), secure: secure}
}

func (i *identity) sign(id int64) string {
	payload := strconv.FormatInt(id, 10)
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payload))
	return payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (i *identity) verify(value string) (int64, bool) {
	payload, sig, ok := strings.Cut(value, ".")
	if !ok {
		return 0, false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return 0, false
	}
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payload))
	if subtle.ConstantTimeCompare(got, mac.Sum(nil)) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// userID extracts the authenticated user id from the request cookie.
// Returns 0 when the request carries no valid identity.
func (i *identity) userID(r *http.Request) int64 {
	c, err := r.Cookie(identityCookieName)
	if err != nil {
		return 0
	}
	id, ok := i.verify(c.Value)
	if !ok {
		return 0
	}
	return id
}

func (i *identity) setCookie(w http.ResponseWriter, id int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     identityCookieName,
		Value:    i.sign(id),
		Path:     "/",
		MaxAge:   int(identityCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (i *identity) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     identityCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type loginRequest struct {
	Username string `json:"username"`
}

type userResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u *history.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// handleLogin resolves (or creates) the named user and sets the signed
// identity cookie. There is no password; identity is a named session only.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username is required")
		return
	}
	if len(username) > maxUsernameLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "username too long")
		return
	}

	u, err := s.users.EnsureUser(r.Context(), username)
	if err != nil {
		s.logger.Error("ensuring user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not resolve user")
		return
	}

	s.identity.setCookie(w, u.ID)
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.identity.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the authenticated user's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := s.identity.userID(r)
	if id == 0 {
		writeError(w, http.StatusUnauthorized, "auth_required", "login required")
		return
	}

	u, err := s.users.UserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrUserNotFound) {
			// Stale cookie for a deleted user. Clear it.
			s.identity.clearCookie(w)
			writeError(w, http.StatusUnauthorized, "auth_required", "login required")
			return
		}
		s.logger.Error("looking up user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load user")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}
