package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession indicates the token has no live session.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidToken indicates a bearer token that can not be decoded.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidState indicates identity access on the null user.
	ErrInvalidState = errors.New("invalid state")
)
