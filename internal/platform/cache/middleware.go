package cache

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type contextKey struct{}

// WithBackend attaches client to ctx.
func WithBackend(ctx context.Context, client redis.UniversalClient) context.Context {
	return context.WithValue(ctx, contextKey{}, client)
}

// BackendFromContext returns the attached backend or nil.
func BackendFromContext(ctx context.Context) redis.UniversalClient {
	client, _ := ctx.Value(contextKey{}).(redis.UniversalClient)
	return client
}

// Attach makes client available to cache decorations further down the chain.
// Without it every decoration passes through.
func Attach(client redis.UniversalClient) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client != nil {
				r = r.WithContext(WithBackend(r.Context(), client))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Entry is a stored response.
type Entry struct {
	Status          int    `json:"status"`
	ContentType     string `json:"content_type,omitempty"`
	ContentLanguage string `json:"content_language,omitempty"`
	Body            []byte `json:"body"`
}

func (e Entry) write(w http.ResponseWriter) {
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	if e.ContentLanguage != "" {
		w.Header().Set("Content-Language", e.ContentLanguage)
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

// recorder buffers a response so it can be stored or held back until an
// eviction completes.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (rec *recorder) Header() http.Header { return rec.header }

func (rec *recorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
}

func (rec *recorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.body.Write(p)
}

func (rec *recorder) entry() Entry {
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	return Entry{
		Status:          status,
		ContentType:     rec.header.Get("Content-Type"),
		ContentLanguage: rec.header.Get("Content-Language"),
		Body:            append([]byte(nil), rec.body.Bytes()...),
	}
}

func (rec *recorder) flush(w http.ResponseWriter) {
	for k, v := range rec.header {
		w.Header()[k] = v
	}
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(rec.body.Bytes())
}

type populateConfig struct {
	parts   []func(*http.Request) any
	exclude []func(*http.Request) bool
}

// PopulateOption selects what a Populate decoration keys on.
type PopulateOption func(*populateConfig)

// Key adds route parameters to the key, in order.
func Key(params ...string) PopulateOption {
	return func(cfg *populateConfig) {
		for _, p := range params {
			cfg.parts = append(cfg.parts, func(r *http.Request) any { return chi.URLParam(r, p) })
		}
	}
}

// Args adds query parameters to the key, in order. Absent parameters key as null.
func Args(names ...string) PopulateOption {
	return func(cfg *populateConfig) {
		for _, n := range names {
			cfg.parts = append(cfg.parts, func(r *http.Request) any {
				values, ok := r.URL.Query()[n]
				if !ok || len(values) == 0 {
					return nil
				}
				return values[0]
			})
		}
	}
}

// Derive adds a computed value to the key.
func Derive(fn func(*http.Request) any) PopulateOption {
	return func(cfg *populateConfig) {
		cfg.parts = append(cfg.parts, fn)
	}
}

// Exclude skips the cache entirely when fn reports true.
func Exclude(fn func(*http.Request) bool) PopulateOption {
	return func(cfg *populateConfig) {
		cfg.exclude = append(cfg.exclude, fn)
	}
}

// Populate serves responses from this cache. On a miss the handler runs
// once per key even under concurrent requests, and 200 responses are stored.
func (c *Cache) Populate(opts ...PopulateOption) func(http.Handler) http.Handler {
	cfg := &populateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	r := c.registry
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			client := BackendFromContext(req.Context())
			if client == nil || r.Evicting() || cfg.excluded(req) {
				next.ServeHTTP(w, req)
				return
			}
			ctx := req.Context()
			key, err := c.Key(cfg.values(req)...)
			if err != nil {
				r.logger.Warn("cache key", slog.String("cache", c.name), slog.Any("error", err))
				next.ServeHTTP(w, req)
				return
			}
			if entry, ok, err := c.Get(ctx, client, key); err != nil {
				r.logger.Warn("cache read", slog.String("cache", c.name), slog.Any("error", err))
			} else if ok {
				r.metrics.hit(c.name)
				entry.write(w)
				return
			}
			r.metrics.miss(c.name)

			// Collapsed callers share this render, so it must outlive the
			// caller that happens to lead it.
			val, _, _ := r.group.Do(key, func() (any, error) {
				detached := context.WithoutCancel(ctx)
				rec := newRecorder()
				next.ServeHTTP(rec, req.WithContext(detached))
				entry := rec.entry()
				if entry.Status == http.StatusOK && !r.Evicting() {
					if err := c.Set(detached, client, key, entry); err != nil {
						r.logger.Warn("cache write", slog.String("cache", c.name), slog.Any("error", err))
					}
				}
				return entry, nil
			})
			val.(Entry).write(w)
		})
	}
}

func (cfg *populateConfig) excluded(r *http.Request) bool {
	for _, fn := range cfg.exclude {
		if fn(r) {
			return true
		}
	}
	return false
}

func (cfg *populateConfig) values(r *http.Request) []any {
	out := make([]any, len(cfg.parts))
	for i, fn := range cfg.parts {
		out[i] = fn(r)
	}
	return out
}

// Evict flushes this cache and its one-hop neighbours after the wrapped
// handler succeeds. The response is held back until the flush finishes.
func (c *Cache) Evict(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		client := BackendFromContext(req.Context())
		if client == nil {
			next.ServeHTTP(w, req)
			return
		}
		rec := newRecorder()
		next.ServeHTTP(rec, req)
		if status := rec.entry().Status; status < http.StatusBadRequest {
			if err := c.EvictAll(req.Context(), client); err != nil {
				c.registry.logger.Error("cache eviction failed", slog.String("cache", c.name), slog.Any("error", err))
			}
		}
		rec.flush(w)
	})
}
