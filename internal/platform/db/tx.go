package db

import (
	"context"
	"errors"
	"sync"
)

// ErrNoRows is returned by FetchOne and FetchVal when the query yields nothing.
var ErrNoRows = errors.New("platform/db: no rows")

var errTxDone = errors.New("transaction already finished")

// Querier is the query surface shared by Pool and Tx.
type Querier interface {
	FetchOne(ctx context.Context, query string, args Args) (Row, error)
	FetchVal(ctx context.Context, query string, args Args) (any, error)
	FetchAll(ctx context.Context, query string, args Args) ([]Row, error)
	Execute(ctx context.Context, query string, args Args) (int64, error)
}

// Database is a Querier that can also scope several statements in one transaction.
type Database interface {
	Querier
	Begin(ctx context.Context, fn TxFunc) error
}

// Tx is a transaction on a leased connection. Statements on one Tx are
// serialised even when issued from several goroutines.
type Tx struct {
	pool *Pool
	slot *slot

	mu   sync.Mutex
	done bool
}

// FetchOne returns the first row or ErrNoRows.
func (tx *Tx) FetchOne(ctx context.Context, query string, args Args) (Row, error) {
	rows, err := tx.query(ctx, "fetch one", query, args)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, ErrNoRows
	}
	return rows[0], nil
}

// FetchVal returns the first column of the first row or ErrNoRows.
func (tx *Tx) FetchVal(ctx context.Context, query string, args Args) (any, error) {
	row, err := tx.FetchOne(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return row.At(0), nil
}

// FetchAll returns every row.
func (tx *Tx) FetchAll(ctx context.Context, query string, args Args) ([]Row, error) {
	return tx.query(ctx, "fetch all", query, args)
}

// Execute runs a statement and returns the affected row count.
func (tx *Tx) Execute(ctx context.Context, query string, args Args) (int64, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return 0, newError(KindInterface, "execute", errTxDone)
	}
	text, values, err := tx.prepare(query, args)
	if err != nil {
		return 0, err
	}
	n, err := tx.slot.conn.Exec(ctx, text, values...)
	if err != nil {
		return 0, tx.fail("execute", err)
	}
	return n, nil
}

func (tx *Tx) query(ctx context.Context, op, query string, args Args) ([]Row, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, newError(KindInterface, op, errTxDone)
	}
	text, values, err := tx.prepare(query, args)
	if err != nil {
		return nil, err
	}
	columns, raw, err := tx.slot.conn.Query(ctx, text, values...)
	if err != nil {
		return nil, tx.fail(op, err)
	}
	rows := make([]Row, len(raw))
	for i, values := range raw {
		rows[i] = NewRow(columns, values)
	}
	return rows, nil
}

func (tx *Tx) prepare(query string, args Args) (string, []any, error) {
	text, names := Translate(query, tx.pool.driver.Style())
	values, err := Bind(names, args)
	if err != nil {
		return "", nil, err
	}
	return text, values, nil
}

// statement issues a transaction control statement.
func (tx *Tx) statement(ctx context.Context, op, stmt string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if _, err := tx.slot.conn.Exec(ctx, stmt); err != nil {
		return tx.fail(op, err)
	}
	return nil
}

// end issues COMMIT or ROLLBACK exactly once.
func (tx *Tx) end(ctx context.Context, op, stmt string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true
	if _, err := tx.slot.conn.Exec(ctx, stmt); err != nil {
		return tx.fail(op, err)
	}
	return nil
}

// fail classifies err and marks the connection for reconnect on transport loss.
func (tx *Tx) fail(op string, err error) error {
	classified := Classify(op, err)
	if errors.Is(classified, ErrOperational) || tx.slot.conn.IsClosed() {
		tx.slot.alive = false
	}
	return classified
}

var _ Querier = (*Tx)(nil)
