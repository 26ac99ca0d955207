package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// AuthenticationError rejects a request's credentials. Reason and cause are
// logged only.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return "authentication failed: " + e.Reason
	}
	return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Authenticator turns bearer tokens into request principals.
type Authenticator struct {
	sessions *shared.SessionManager
	logger   *slog.Logger
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(sessions *shared.SessionManager, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{sessions: sessions, logger: logger}
}

// Authenticate resolves an Authorization header value. An empty header
// yields the null user.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*shared.User, error) {
	if header == "" {
		return shared.NullUser(), nil
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, &AuthenticationError{Reason: "Wrong Scheme"}
	}
	token := parts[1]
	if _, err := shared.DecodeToken(token); err != nil {
		return nil, &AuthenticationError{Reason: "Invalid Token", Err: err}
	}
	sess, err := a.sessions.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidSession) {
			return nil, &AuthenticationError{Reason: "Invalid Session", Err: err}
		}
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	user := shared.NewUser(token, sess)
	// A failed extension keeps the session at its previous TTL.
	if err := a.sessions.Extend(ctx, token); err != nil {
		a.logger.Warn("extend session", slog.String("username", user.Username), slog.Any("error", err))
	}
	return user, nil
}

// Middleware attaches the session manager and the principal to the request.
// Rejected credentials get a plain 401 and an unreachable store 503.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.ContextWithSessionManager(r.Context(), a.sessions)
		user, err := a.Authenticate(ctx, r.Header.Get("Authorization"))
		if err != nil {
			var authErr *AuthenticationError
			if !errors.As(err, &authErr) {
				a.logger.Error("authenticate", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable")
				return
			}
			a.logger.Debug("authentication rejected", slog.Any("error", err))
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUser(ctx, user)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}
