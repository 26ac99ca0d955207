package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/MuistotKartalla/muistot-backend-sub001/testing"
)

type recorded struct {
	calls []string
	err   error
}

func (r *recorded) migrator(direction string) migrator {
	return func(dsn string) error {
		r.calls = append(r.calls, direction+" "+dsn)
		return r.err
	}
}

func run(r *recorded, args ...string) error {
	root := newRootCmd("postgres://db", r.migrator("up"), r.migrator("down"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{}, args...))
	return root.Execute()
}

func TestMigrateDirections(t *testing.T) {
	r := &recorded{}
	require.NoError(t, run(r, "up"))
	require.NoError(t, run(r, "down"))
	assert.Equal(t, []string{"up postgres://db", "down postgres://db"}, r.calls)
}

func TestMigrateRejectsBadArguments(t *testing.T) {
	r := &recorded{}
	assert.Error(t, run(r, "sideways"))
	assert.Error(t, run(r, "up", "extra"))
	assert.Empty(t, r.calls)
}

func TestMigrateReturnsApplyError(t *testing.T) {
	r := &recorded{err: errors.New("dirty database")}
	assert.EqualError(t, run(r, "up"), "dirty database")
}
