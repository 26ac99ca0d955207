package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// DriverPgx is the name of the pgx driver, the default.
const DriverPgx = "pgx"

func init() {
	RegisterDriver(DriverPgx, pgxDriver{})
}

type pgxDriver struct{}

func (pgxDriver) Style() Style { return StyleDollar }

func (pgxDriver) Open(ctx context.Context, cfg Config) (Conn, error) {
	connConfig, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, newError(KindInterface, "parse config", err)
	}
	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return nil, Classify("connect", err)
	}
	return &pgxConn{conn: conn}, nil
}

type pgxConn struct {
	conn *pgx.Conn
}

func (c *pgxConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Query(ctx context.Context, query string, args ...any) ([]string, [][]any, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

func (c *pgxConn) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

func (c *pgxConn) Close(ctx context.Context) error { return c.conn.Close(ctx) }

func (c *pgxConn) IsClosed() bool { return c.conn.IsClosed() }
