package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrIntegrity},
		{"fk violation via pq", &pq.Error{Code: "23503"}, ErrIntegrity},
		{"connection failure", &pgconn.PgError{Code: "08006"}, ErrOperational},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, ErrOperational},
		{"protocol violation", &pgconn.PgError{Code: "08P01"}, ErrInterface},
		{"syntax error", &pgconn.PgError{Code: "42601"}, ErrDatabase},
		{"eof", io.EOF, ErrOperational},
		{"bad conn", driver.ErrBadConn, ErrOperational},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ErrOperational},
		{"other", errors.New("weird"), ErrDatabase},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("op", tc.err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassifyKeepsExistingClassification(t *testing.T) {
	original := newError(KindIntegrity, "insert", errors.New("dup"))
	assert.Same(t, original, Classify("outer", original))
	assert.Nil(t, Classify("op", nil))
}
