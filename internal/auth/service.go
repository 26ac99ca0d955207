package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/mailer"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

const nameAttempts = 3

// Config tunes the Service.
type Config struct {
	BcryptCost int
	Names      NameGenerator
	Mailer     mailer.Mailer
	Logger     *slog.Logger
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *shared.SessionManager
	cost     int
	names    NameGenerator
	mailer   mailer.Mailer
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionManager, cfg Config) *Service {
	s := &Service{
		repo:     repo,
		sessions: sessions,
		cost:     cfg.BcryptCost,
		names:    cfg.Names,
		mailer:   cfg.Mailer,
		logger:   cfg.Logger,
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.names == nil {
		s.names = RandomNameGenerator{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mailer == nil {
		s.mailer = mailer.NewLogMailer(s.logger)
	}
	return s
}

// Registration is the input of Register.
type Registration struct {
	Username string
	Email    string
	Password string
	Lang     string
}

// Register creates an unverified account and mails its verifier.
func (s *Service) Register(ctx context.Context, in Registration) (*Account, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	username := strings.TrimSpace(in.Username)
	generated := username == ""

	for attempt := 0; ; attempt++ {
		if generated {
			name, err := s.names.Generate(ctx)
			if err != nil {
				return nil, err
			}
			username = name
		}
		userTaken, emailTaken, err := s.repo.Taken(ctx, username, email)
		if err != nil {
			return nil, err
		}
		if emailTaken {
			return nil, ErrEmailTaken
		}
		if !userTaken {
			break
		}
		if !generated || attempt+1 >= nameAttempts {
			return nil, ErrUsernameTaken
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	acc := Account{Username: username, Email: email, PasswordHash: string(hash)}
	verifier := uuid.NewString()
	if acc.ID, err = s.repo.CreateAccount(ctx, acc, verifier); err != nil {
		if errors.Is(err, db.ErrIntegrity) {
			return nil, s.conflict(ctx, username, email, err)
		}
		return nil, err
	}
	s.sendVerifier(ctx, acc, verifier, in.Lang)
	return &acc, nil
}

// conflict names the unique column a concurrent registration claimed first.
func (s *Service) conflict(ctx context.Context, username, email string, cause error) error {
	userTaken, emailTaken, err := s.repo.Taken(ctx, username, email)
	switch {
	case err != nil:
		return cause
	case emailTaken:
		return ErrEmailTaken
	case userTaken:
		return ErrUsernameTaken
	}
	return cause
}

// Verify consumes a verifier and marks the account verified.
func (s *Service) Verify(ctx context.Context, username, verifier string) error {
	ok, err := s.repo.ConsumeVerifier(ctx, username, verifier)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownVerifier
	}
	return nil
}

// ResendVerifier mails a fresh verifier to an unverified account. Unknown or
// verified addresses succeed silently.
func (s *Service) ResendVerifier(ctx context.Context, email, lang string) error {
	acc, err := s.repo.FindByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if acc.Verified {
		return nil
	}
	verifier := uuid.NewString()
	renewed, err := s.repo.RenewVerifier(ctx, acc.ID, verifier)
	if err != nil {
		return err
	}
	if !renewed {
		return ErrVerifierCooldown
	}
	s.sendVerifier(ctx, *acc, verifier, lang)
	return nil
}

func (s *Service) sendVerifier(ctx context.Context, acc Account, verifier, lang string) {
	msg := mailer.VerificationMessage(acc.Email, acc.Username, verifier, lang)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("send verification mail", slog.String("username", acc.Username), slog.Any("error", err))
	}
}

// Authenticate validates credentials. login is a username or an email;
// emails are matched case-insensitively.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*Account, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		login = strings.ToLower(login)
	}
	acc, err := s.repo.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !acc.Verified {
		return nil, ErrNotVerified
	}
	return acc, nil
}

// Login authenticates and starts a session carrying the account's grants.
func (s *Service) Login(ctx context.Context, login, password string) (string, *shared.User, error) {
	acc, err := s.Authenticate(ctx, login, password)
	if err != nil {
		return "", nil, err
	}
	grants, err := s.repo.LoadGrants(ctx, acc.ID)
	if err != nil {
		return "", nil, err
	}
	sess := shared.Session{User: acc.Username, Data: SessionData(grants)}
	token, err := s.sessions.StartSession(ctx, sess)
	if err != nil {
		return "", nil, err
	}
	s.logger.Info("login", slog.String("username", acc.Username))
	return token, shared.NewUser(token, sess), nil
}

// SessionData converts grants into session scopes. Superusers also carry the
// admin and moderator scopes.
func SessionData(g Grants) shared.SessionData {
	data := shared.SessionData{
		Scopes:            []string{},
		Projects:          append([]string{}, g.AdminProjects...),
		ModeratorProjects: append([]string{}, g.ModeratorProjects...),
	}
	if g.Superuser || len(g.AdminProjects) > 0 {
		data.Scopes = append(data.Scopes, string(shared.ScopeAdmin))
	}
	if g.Superuser || len(g.ModeratorProjects) > 0 {
		data.Scopes = append(data.Scopes, string(shared.ScopeModerator))
	}
	if g.Superuser {
		data.Scopes = append(data.Scopes, string(shared.ScopeSuperuser))
	}
	return data
}

// Logout ends the session the user authenticated with.
func (s *Service) Logout(ctx context.Context, user *shared.User) error {
	return s.sessions.EndSession(ctx, user.Token)
}

// Profile loads the account behind user.
func (s *Service) Profile(ctx context.Context, user *shared.User) (*Account, error) {
	name, err := user.Identity()
	if err != nil {
		return nil, err
	}
	return s.repo.FindByLogin(ctx, name)
}

// Sessions lists the user's live sessions.
func (s *Service) Sessions(ctx context.Context, user *shared.User) ([]shared.Session, error) {
	name, err := user.Identity()
	if err != nil {
		return nil, err
	}
	return s.sessions.GetSessions(ctx, name)
}

// ClearSessions ends every session of the user.
func (s *Service) ClearSessions(ctx context.Context, user *shared.User) error {
	name, err := user.Identity()
	if err != nil {
		return err
	}
	return s.sessions.ClearSessions(ctx, name)
}
