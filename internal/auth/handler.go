package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// MailRateLimit bounds mail-sending requests per client per minute.
const MailRateLimit = 5

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	mailLimit int
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		mailLimit: MailRateLimit,
	}
}

// WithMailLimit overrides the per-minute limit of mail-sending routes.
func (h *Handler) WithMailLimit(n int) *Handler {
	h.mailLimit = n
	return h
}

// MountRoutes registers auth routes on provided router. The Authenticator
// middleware must run before these routes.
func (h *Handler) MountRoutes(r chi.Router) {
	mailLimited := httprate.Limit(h.mailLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests")
		}),
	)

	r.Group(func(r chi.Router) {
		r.Use(rbac.DisallowAuth)
		r.With(mailLimited).Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
	})
	r.Post("/verify", h.handleVerify)
	r.With(mailLimited).Post("/verify/resend", h.handleResend)

	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireScopes())
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
		r.Get("/me/sessions", h.handleSessions)
		r.Delete("/me/sessions", h.handleClearSessions)
	})
}

type registerRequest struct {
	Username string `json:"username" validate:"omitempty,min=3,max=64,excludesall=/:@"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	Username string `json:"username" validate:"required"`
	Verifier string `json:"verifier" validate:"required"`
}

type resendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type userResponse struct {
	Username          string   `json:"username"`
	Email             string   `json:"email,omitempty"`
	Verified          bool     `json:"verified,omitempty"`
	Scopes            []string `json:"scopes"`
	AdminProjects     []string `json:"admin_projects"`
	ModeratorProjects []string `json:"moderator_projects"`
}

type sessionResponse struct {
	CreatedAt         time.Time `json:"created_at"`
	ExpiresIn         int64     `json:"expires_in"`
	Scopes            []string  `json:"scopes"`
	AdminProjects     []string  `json:"admin_projects"`
	ModeratorProjects []string  `json:"moderator_projects"`
}

func userView(u *shared.User) userResponse {
	return userResponse{
		Username:          u.Username,
		Scopes:            u.ScopeList(),
		AdminProjects:     u.AdminProjectList(),
		ModeratorProjects: u.ModeratorProjectList(),
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.service.Register(r.Context(), Registration{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Lang:     httpx.LanguageFromContext(r.Context()),
	})
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.Created(w, "/me", userResponse{
		Username:          acc.Username,
		Email:             acc.Email,
		Scopes:            []string{},
		AdminProjects:     []string{},
		ModeratorProjects: []string{},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	login := req.Username
	if login == "" {
		login = req.Email
	}
	token, user, err := h.service.Login(r.Context(), login, req.Password)
	if err != nil {
		h.respond(w, err)
		return
	}
	w.Header().Set("Authorization", "bearer "+token)
	httpx.JSON(w, http.StatusOK, userView(user))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.Verify(r.Context(), req.Username, req.Verifier); err != nil {
		h.respond(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ResendVerifier(r.Context(), req.Email, httpx.LanguageFromContext(r.Context())); err != nil {
		h.respond(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), shared.UserFromContext(r.Context())); err != nil {
		h.respond(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := shared.UserFromContext(r.Context())
	acc, err := h.service.Profile(r.Context(), user)
	if err != nil {
		h.respond(w, err)
		return
	}
	out := userView(user)
	out.Email = acc.Email
	out.Verified = acc.Verified
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.Sessions(r.Context(), shared.UserFromContext(r.Context()))
	if err != nil {
		h.respond(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			CreatedAt:         sess.CreatedAt,
			ExpiresIn:         int64(sess.TTL / time.Second),
			Scopes:            nonNil(sess.Data.Scopes),
			AdminProjects:     nonNil(sess.Data.Projects),
			ModeratorProjects: nonNil(sess.Data.ModeratorProjects),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearSessions(r.Context(), shared.UserFromContext(r.Context())); err != nil {
		h.respond(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Invalid Credentials")
	case errors.Is(err, ErrNotVerified):
		httpx.Problem(w, http.StatusForbidden, "Email Not Verified")
	case errors.Is(err, ErrUsernameTaken):
		httpx.Problem(w, http.StatusConflict, "Username already in use")
	case errors.Is(err, ErrEmailTaken):
		httpx.Problem(w, http.StatusConflict, "Email already in use")
	case errors.Is(err, ErrUnknownVerifier):
		httpx.Problem(w, http.StatusNotFound, "Unknown Verifier")
	case errors.Is(err, ErrVerifierCooldown):
		httpx.Problem(w, http.StatusTooManyRequests, "Verification recently sent", "try again in a few minutes")
	default:
		h.logger.Debug("auth request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
