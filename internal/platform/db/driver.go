package db

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"
)

// Config describes the pool and the server it connects to.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseSSL   bool
	// Rollback ends every transaction with ROLLBACK, including successful ones.
	Rollback bool
	Driver   string
	Workers  int
	CPW      int
	MaxWait  time.Duration
}

// Size returns the total number of connections, workers × cpw.
func (c Config) Size() int {
	return c.Workers * c.CPW
}

// DSN renders a postgres:// connection URL.
func (c Config) DSN() string {
	sslmode := "disable"
	if c.UseSSL {
		sslmode = "require"
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		User:   url.UserPassword(c.User, c.Password),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Conn is a single synchronous driver connection. A Conn is used by one
// goroutine at a time.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) ([]string, [][]any, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
}

// Driver opens connections and declares the placeholder style its SQL uses.
type Driver interface {
	Open(ctx context.Context, cfg Config) (Conn, error)
	Style() Style
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a driver available by name. Registering a name twice panics.
func RegisterDriver(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("platform/db: register nil driver")
	}
	if _, dup := drivers[name]; dup {
		panic("platform/db: driver registered twice: " + name)
	}
	drivers[name] = d
}

// LookupDriver returns the named driver.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("platform/db: unknown driver %q (have %v)", name, driverNames())
	}
	return d, nil
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
