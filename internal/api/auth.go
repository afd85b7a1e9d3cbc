package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/authz"
	"github.com/ernie/warden/internal/domain"
)

type actorKey struct{}

// LoginRequest is the request body for login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for successful login
type LoginResponse struct {
	Token       string   `json:"token"`
	Username    string   `json:"username"`
	Groups      []string `json:"groups"`
	Power       int      `json:"power"`
	Permissions []string `json:"permissions"`
}

// handleLogin authenticates a user and returns a JWT token
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var login LoginRequest
	if err := decodeBody(req, &login); err != nil {
		writeError(w, err)
		return
	}
	if login.Username == "" || login.Password == "" {
		writeError(w, badRequest("username and password are required"))
		return
	}

	invalid := domain.Wrap(domain.CodeUnauthorized, "invalid credentials", auth.ErrInvalidCredentials)
	user, err := r.Store.GetUserByUsername(req.Context(), login.Username)
	if err != nil || !auth.CheckPassword(login.Password, user.PasswordHash) {
		log.Info().Str("username", login.Username).Str("ip", clientIP(req)).Msg("Failed login")
		writeError(w, invalid)
		return
	}

	groups, err := r.Store.UserGroups(req.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := r.Auth.GenerateToken(user.ID, user.Username, user.Groups)
	if err != nil {
		writeError(w, domain.Wrap(domain.CodeInternal, "failed to generate token", err))
		return
	}
	if err := r.Store.UpdateUserLastLogin(req.Context(), user.ID); err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to record last login")
	}

	actor := domain.NewActor("", user.Username, domain.SourceWeb, groups)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:       token,
		Username:    user.Username,
		Groups:      user.Groups,
		Power:       actor.Power,
		Permissions: actor.PermissionList(),
	})
}

// handleAuthCheck reports the caller's effective power and permissions
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	actor := actorFrom(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          actor.ID,
		"username":    actor.Name,
		"power":       actor.Power,
		"permissions": actor.PermissionList(),
		"commands":    r.Engine.Available(actor),
	})
}

// requireAuth validates the bearer token and puts the caller's actor in
// the request context
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		actor, err := r.authenticate(req, bearerToken(req))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, req.WithContext(context.WithValue(req.Context(), actorKey{}, actor)))
	}
}

// requirePermission is requireAuth plus a permission check
func (r *Router) requirePermission(perm string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		if err := authz.RequirePermission(actorFrom(req.Context()), perm); err != nil {
			writeError(w, err)
			return
		}
		next(w, req)
	})
}

// authenticate turns a token into an actor. Groups are loaded fresh so
// membership changes apply without a new login.
func (r *Router) authenticate(req *http.Request, token string) (domain.Actor, error) {
	if token == "" {
		return domain.Actor{}, domain.Errorf(domain.CodeUnauthorized, "authentication required")
	}
	claims, err := r.Auth.ValidateToken(token)
	if err != nil {
		return domain.Actor{}, domain.Wrap(domain.CodeUnauthorized, "invalid or expired token", err)
	}
	groups, err := r.Store.UserGroups(req.Context(), claims.UserID)
	if err != nil {
		return domain.Actor{}, err
	}
	actor := domain.NewActor(claims.ActorID(), claims.Username, domain.SourceWeb, groups)
	uid := claims.UserID
	actor.UserID = &uid
	return actor, nil
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}
