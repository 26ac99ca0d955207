// Package db provides a bounded, fair connection pool with named-parameter
// queries and transaction scoping over pluggable drivers.
package db

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var errNotConnected = errors.New("pool not connected")

// Pool owns workers × cpw long-lived connections. Worker w holds the slots
// (w, 0..cpw-1); free slots are offered in interleaved order
// w0c0, w1c0, ..., w0c1, w1c1, ... so no worker group is drained first.
type Pool struct {
	cfg     Config
	driver  Driver
	logger  *slog.Logger
	metrics *PoolMetrics

	workers [][]*slot

	mu        sync.Mutex
	order     []*slot
	waiters   list.List
	connected bool
}

type slot struct {
	worker int
	index  int

	// conn and alive are touched only by the lessee, or under Pool.mu while unleased.
	conn  Conn
	alive bool

	leased bool
}

type waiter struct {
	ch chan *slot
}

// Option customises a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics attaches pool metrics.
func WithMetrics(m *PoolMetrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithDriver overrides the driver named by Config.Driver.
func WithDriver(d Driver) Option {
	return func(p *Pool) { p.driver = d }
}

// New validates cfg and lays out the slots. No connection is opened until Connect.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if cfg.Workers < 1 || cfg.CPW < 1 {
		return nil, fmt.Errorf("platform/db: workers and cpw must be positive (got %d, %d)", cfg.Workers, cfg.CPW)
	}
	if cfg.MaxWait <= 0 {
		return nil, fmt.Errorf("platform/db: max wait must be positive (got %s)", cfg.MaxWait)
	}
	p := &Pool{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.driver == nil {
		name := cfg.Driver
		if name == "" {
			name = DriverPgx
		}
		d, err := LookupDriver(name)
		if err != nil {
			return nil, err
		}
		p.driver = d
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	p.workers = make([][]*slot, cfg.Workers)
	for w := range p.workers {
		p.workers[w] = make([]*slot, cfg.CPW)
		for c := range p.workers[w] {
			p.workers[w][c] = &slot{worker: w, index: c}
		}
	}
	p.order = make([]*slot, 0, cfg.Size())
	for c := 0; c < cfg.CPW; c++ {
		for w := 0; w < cfg.Workers; w++ {
			p.order = append(p.order, p.workers[w][c])
		}
	}
	return p, nil
}

// Connect opens every connection, one goroutine per worker. On failure all
// opened connections are closed and the pool stays unconnected.
func (p *Pool) Connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, slots := range p.workers {
		g.Go(func() error {
			for _, s := range slots {
				conn, err := p.driver.Open(gctx, p.cfg)
				if err != nil {
					return Classify("connect", err)
				}
				s.conn = conn
				s.alive = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range p.order {
			if s.conn != nil {
				_ = s.conn.Close(ctx)
				s.conn = nil
				s.alive = false
			}
		}
		return err
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.logger.Info("database pool connected",
		slog.Int("workers", p.cfg.Workers), slog.Int("cpw", p.cfg.CPW), slog.String("max_wait", p.cfg.MaxWait.String()))
	return nil
}

// Close closes idle connections and marks the pool unconnected. Leased
// connections are closed when they are returned.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	for _, s := range p.order {
		if !s.leased {
			p.closeSlot(ctx, s)
		}
	}
}

// Size returns the total number of connections.
func (p *Pool) Size() int { return len(p.order) }

// Free returns the number of unleased connections.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for _, s := range p.order {
		if !s.leased {
			free++
		}
	}
	return free
}

// Waiting returns the number of callers blocked in acquire.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}

func (p *Pool) acquire(ctx context.Context) (*slot, error) {
	start := time.Now()
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil, newError(KindOperational, "acquire", errNotConnected)
	}
	for _, s := range p.order {
		if !s.leased {
			s.leased = true
			p.mu.Unlock()
			p.metrics.lease(1)
			return s, nil
		}
	}
	w := &waiter{ch: make(chan *slot, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()
	p.metrics.waiter(1)
	defer p.metrics.waiter(-1)

	timer := time.NewTimer(p.cfg.MaxWait)
	defer timer.Stop()

	var cause error
	select {
	case s := <-w.ch:
		p.metrics.observeWait(time.Since(start))
		return s, nil
	case <-timer.C:
		p.metrics.timeout()
		cause = fmt.Errorf("no connection available within %s", p.cfg.MaxWait)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	// A release may have handed us a slot between the wake-up and this lock.
	p.mu.Lock()
	select {
	case s := <-w.ch:
		p.mu.Unlock()
		p.release(s)
	default:
		p.waiters.Remove(elem)
		p.mu.Unlock()
	}
	return nil, newError(KindOperational, "acquire", cause)
}

func (p *Pool) release(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		p.closeSlot(context.Background(), s)
		s.leased = false
		p.metrics.lease(-1)
		return
	}
	if front := p.waiters.Front(); front != nil {
		w := p.waiters.Remove(front).(*waiter)
		w.ch <- s
		return
	}
	s.leased = false
	p.metrics.lease(-1)
}

func (p *Pool) closeSlot(ctx context.Context, s *slot) {
	if s.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.conn.Close(ctx); err != nil {
		p.logger.Warn("close database connection", slog.Int("worker", s.worker), slog.Any("error", err))
	}
	s.conn = nil
	s.alive = false
}

// ensureAlive reconnects a leased slot whose connection was lost.
func (p *Pool) ensureAlive(ctx context.Context, s *slot) error {
	if s.alive && s.conn != nil && !s.conn.IsClosed() {
		return nil
	}
	if s.conn != nil {
		_ = s.conn.Close(ctx)
		s.conn = nil
	}
	conn, err := p.driver.Open(ctx, p.cfg)
	if err != nil {
		s.alive = false
		return Classify("reconnect", err)
	}
	s.conn = conn
	s.alive = true
	p.metrics.reconnect()
	p.logger.Info("database connection re-established", slog.Int("worker", s.worker), slog.Int("index", s.index))
	return nil
}

// TxFunc runs inside a transaction. Returning an error rolls the transaction back.
type TxFunc func(ctx context.Context, tx *Tx) error

// Begin leases a connection, issues BEGIN and runs fn. The transaction is
// committed when fn returns nil and rolled back otherwise, or always rolled
// back when the pool is in rollback mode. The connection is returned to the
// pool on every path, including panics and context cancellation.
func (p *Pool) Begin(ctx context.Context, fn TxFunc) error {
	s, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(s)

	if err := p.ensureAlive(ctx, s); err != nil {
		return err
	}
	tx := &Tx{pool: p, slot: s}
	if err := tx.statement(ctx, "begin", "BEGIN"); err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			// fn panicked.
			_ = tx.end(context.WithoutCancel(ctx), "rollback", "ROLLBACK")
		}
	}()

	if err := fn(ctx, tx); err != nil {
		finished = true
		if rbErr := tx.end(context.WithoutCancel(ctx), "rollback", "ROLLBACK"); rbErr != nil {
			p.logger.Warn("rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	finished = true
	if p.cfg.Rollback {
		return tx.end(ctx, "rollback", "ROLLBACK")
	}
	return tx.end(ctx, "commit", "COMMIT")
}

// Ping checks a leased connection.
func (p *Pool) Ping(ctx context.Context) error {
	s, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(s)
	if err := p.ensureAlive(ctx, s); err != nil {
		return err
	}
	if err := s.conn.Ping(ctx); err != nil {
		s.alive = false
		return Classify("ping", err)
	}
	return nil
}

// FetchOne runs query in its own transaction and returns the first row.
func (p *Pool) FetchOne(ctx context.Context, query string, args Args) (Row, error) {
	var row Row
	err := p.Begin(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		row, err = tx.FetchOne(ctx, query, args)
		return err
	})
	return row, err
}

// FetchVal runs query in its own transaction and returns the first column of the first row.
func (p *Pool) FetchVal(ctx context.Context, query string, args Args) (any, error) {
	var val any
	err := p.Begin(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		val, err = tx.FetchVal(ctx, query, args)
		return err
	})
	return val, err
}

// FetchAll runs query in its own transaction and returns every row.
func (p *Pool) FetchAll(ctx context.Context, query string, args Args) ([]Row, error) {
	var rows []Row
	err := p.Begin(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		rows, err = tx.FetchAll(ctx, query, args)
		return err
	})
	return rows, err
}

// Execute runs a statement in its own transaction and returns the affected row count.
func (p *Pool) Execute(ctx context.Context, query string, args Args) (int64, error) {
	var n int64
	err := p.Begin(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		n, err = tx.Execute(ctx, query, args)
		return err
	})
	return n, err
}

var _ Database = (*Pool)(nil)
