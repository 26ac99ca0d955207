package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	_ "github.com/lib/pq"
)

// DriverPQ is the name of the database/sql driver backed by lib/pq.
const DriverPQ = "pq"

func init() {
	RegisterDriver(DriverPQ, SQLDriver{})
}

// SQLDriver adapts database/sql to Driver. Each Conn owns a dedicated *sql.Conn
// drawn from a private *sql.DB limited to one open connection.
type SQLDriver struct {
	// OpenDB opens the handle for a DSN. Defaults to sql.Open("postgres", dsn).
	OpenDB func(dsn string) (*sql.DB, error)
}

func (SQLDriver) Style() Style { return StyleDollar }

func (d SQLDriver) Open(ctx context.Context, cfg Config) (Conn, error) {
	open := d.OpenDB
	if open == nil {
		open = func(dsn string) (*sql.DB, error) { return sql.Open("postgres", dsn) }
	}
	handle, err := open(cfg.DSN())
	if err != nil {
		return nil, newError(KindInterface, "open", err)
	}
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)
	conn, err := handle.Conn(ctx)
	if err != nil {
		_ = handle.Close()
		return nil, Classify("connect", err)
	}
	return &sqlConn{db: handle, conn: conn}, nil
}

type sqlConn struct {
	db     *sql.DB
	conn   *sql.Conn
	closed bool
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		c.observe(err)
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) ([]string, [][]any, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		c.observe(err)
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		c.observe(err)
		return nil, nil, err
	}
	return columns, out, nil
}

func (c *sqlConn) Ping(ctx context.Context) error {
	err := c.conn.PingContext(ctx)
	c.observe(err)
	return err
}

func (c *sqlConn) Close(context.Context) error {
	c.closed = true
	return errors.Join(c.conn.Close(), c.db.Close())
}

func (c *sqlConn) IsClosed() bool { return c.closed }

func (c *sqlConn) observe(err error) {
	if err != nil && (errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)) {
		c.closed = true
	}
}
