package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Sentinel kinds surfaced to callers. Match them with errors.Is.
var (
	ErrOperational = errors.New("operational error")
	ErrIntegrity   = errors.New("integrity error")
	ErrInterface   = errors.New("interface error")
	ErrDatabase    = errors.New("database error")
)

// Kind classifies a database failure.
type Kind int

const (
	KindDatabase Kind = iota
	KindOperational
	KindIntegrity
	KindInterface
)

func (k Kind) sentinel() error {
	switch k {
	case KindOperational:
		return ErrOperational
	case KindIntegrity:
		return ErrIntegrity
	case KindInterface:
		return ErrInterface
	default:
		return ErrDatabase
	}
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// Error wraps a driver failure with its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("platform/db: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("platform/db: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel matching e.Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify wraps err in an *Error. Errors already classified are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return err
	}
	return newError(classify(err), op, err)
}

func classify(err error) Kind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindOperational
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindOperational
	case errors.As(err, &netErr):
		return KindOperational
	case pgconn.Timeout(err):
		return KindOperational
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return KindOperational
	}
	return KindDatabase
}

// classifySQLState maps SQLSTATE classes onto the taxonomy.
func classifySQLState(code string) Kind {
	if code == "08P01" {
		return KindInterface
	}
	if len(code) < 2 {
		return KindDatabase
	}
	switch code[:2] {
	case "23":
		return KindIntegrity
	case "08", "53", "57":
		return KindOperational
	default:
		return KindDatabase
	}
}
