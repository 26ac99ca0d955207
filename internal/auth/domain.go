package auth

import (
	"errors"
	"time"
)

// Account is a registered user.
type Account struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
}

// Grants are the privileges loaded into a session at login.
type Grants struct {
	Superuser         bool
	AdminProjects     []string
	ModeratorProjects []string
}

var (
	// ErrUsernameTaken indicates a registration with an existing username.
	ErrUsernameTaken = errors.New("auth: username already in use")
	// ErrEmailTaken indicates a registration with an existing email.
	ErrEmailTaken = errors.New("auth: email already in use")
	// ErrNotVerified indicates a login before email verification.
	ErrNotVerified = errors.New("auth: email not verified")
	// ErrUnknownVerifier indicates a verification code that does not match.
	ErrUnknownVerifier = errors.New("auth: unknown verifier")
	// ErrVerifierCooldown indicates a resend inside the cool-down window.
	ErrVerifierCooldown = errors.New("auth: verifier recently sent")
)

// VerifierCooldown is the minimum age of a verifier before it can be replaced.
const VerifierCooldown = 5 * time.Minute
