package shared

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TokenPrefix namespaces session payload keys; the raw digest follows.
	TokenPrefix = "muistot:session:token:"
	// UserPrefix namespaces the per-user set of token keys.
	UserPrefix = "muistot:session:user:"

	scanBatch = 256
)

// SessionData is the open session payload. Scopes, Projects and
// ModeratorProjects are interpreted; any other field is kept verbatim.
type SessionData struct {
	Scopes            []string
	Projects          []string
	ModeratorProjects []string
	Extra             map[string]json.RawMessage
}

// MarshalJSON writes known fields next to the preserved unknown ones.
func (d SessionData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+3)
	for k, v := range d.Extra {
		out[k] = v
	}
	if d.Scopes != nil {
		out["scopes"] = d.Scopes
	}
	if d.Projects != nil {
		out["projects"] = d.Projects
	}
	if d.ModeratorProjects != nil {
		out["moderator_projects"] = d.ModeratorProjects
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads known fields and keeps the rest in Extra.
func (d *SessionData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]*[]string{
		"scopes":             &d.Scopes,
		"projects":           &d.Projects,
		"moderator_projects": &d.ModeratorProjects,
	}
	for key, dst := range known {
		value, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return fmt.Errorf("shared: session field %s: %w", key, err)
		}
		delete(raw, key)
	}
	if len(raw) > 0 {
		d.Extra = raw
	}
	return nil
}

// Session is the server-held state behind a token.
type Session struct {
	User      string      `json:"user"`
	Data      SessionData `json:"data"`
	CreatedAt time.Time   `json:"created_at"`
	// TTL is the remaining lifetime observed when the session was loaded.
	TTL time.Duration `json:"-"`
}

// SessionManager mints, validates, extends and revokes bearer tokens backed by Redis.
type SessionManager struct {
	client     redis.UniversalClient
	lifetime   time.Duration
	tokenBytes int
	now        func() time.Time
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client redis.UniversalClient, lifetime time.Duration, tokenBytes int) *SessionManager {
	if tokenBytes <= 0 {
		tokenBytes = DefaultTokenBytes
	}
	return &SessionManager{
		client:     client,
		lifetime:   lifetime,
		tokenBytes: tokenBytes,
		now:        time.Now,
	}
}

// Lifetime exposes the configured session lifetime.
func (sm *SessionManager) Lifetime() time.Duration {
	return sm.lifetime
}

// StartSession stores sess under a fresh token and indexes it for the user.
func (sm *SessionManager) StartSession(ctx context.Context, sess Session) (string, error) {
	if sess.User == "" {
		return "", fmt.Errorf("shared: start session: %w: empty user", ErrInvalidSession)
	}
	token, err := NewToken(sm.tokenBytes)
	if err != nil {
		return "", err
	}
	digest, err := DecodeToken(token)
	if err != nil {
		return "", err
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sm.now().UTC()
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("shared: encode session: %w", err)
	}
	key := tokenKey(digest)
	_, err = sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, sm.lifetime)
		pipe.SAdd(ctx, userKey(sess.User), key)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("shared: start session: %w", err)
	}
	return token, nil
}

// GetSession loads the session for token. Unknown or expired tokens yield ErrInvalidSession.
func (sm *SessionManager) GetSession(ctx context.Context, token string) (Session, error) {
	digest, err := DecodeToken(token)
	if err != nil {
		return Session{}, err
	}
	sess, err := sm.load(ctx, tokenKey(digest))
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Extend resets the token lifetime. Absent tokens are ignored.
func (sm *SessionManager) Extend(ctx context.Context, token string) error {
	digest, err := DecodeToken(token)
	if err != nil {
		return err
	}
	if err := sm.client.Expire(ctx, tokenKey(digest), sm.lifetime).Err(); err != nil {
		return fmt.Errorf("shared: extend session: %w", err)
	}
	return nil
}

// EndSession deletes the token and removes it from its user's index.
func (sm *SessionManager) EndSession(ctx context.Context, token string) error {
	digest, err := DecodeToken(token)
	if err != nil {
		return err
	}
	key := tokenKey(digest)
	sess, err := sm.load(ctx, key)
	if err != nil && !errors.Is(err, ErrInvalidSession) {
		return err
	}
	_, err = sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if sess.User != "" {
			pipe.SRem(ctx, userKey(sess.User), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("shared: end session: %w", err)
	}
	return nil
}

// ClearSessions deletes every session of user and the user index itself.
func (sm *SessionManager) ClearSessions(ctx context.Context, user string) error {
	index := userKey(user)
	members, err := sm.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("shared: list sessions: %w", err)
	}
	keys := append(members, index)
	if err := sm.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("shared: clear sessions: %w", err)
	}
	return nil
}

// ClearAllSessions wipes both session namespaces.
func (sm *SessionManager) ClearAllSessions(ctx context.Context) error {
	for _, prefix := range []string{TokenPrefix, UserPrefix} {
		if err := deleteByPrefix(ctx, sm.client, prefix); err != nil {
			return fmt.Errorf("shared: clear all sessions: %w", err)
		}
	}
	return nil
}

// GetSessions returns the live sessions of user. Index members whose payload
// has expired are removed from the index.
func (sm *SessionManager) GetSessions(ctx context.Context, user string) ([]Session, error) {
	index := userKey(user)
	members, err := sm.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: list sessions: %w", err)
	}
	sessions := make([]Session, 0, len(members))
	var stale []any
	for _, key := range members {
		sess, err := sm.load(ctx, key)
		switch {
		case errors.Is(err, ErrInvalidSession):
			stale = append(stale, key)
		case err != nil:
			return nil, err
		default:
			sessions = append(sessions, sess)
		}
	}
	if len(stale) > 0 {
		if err := sm.client.SRem(ctx, index, stale...).Err(); err != nil {
			return nil, fmt.Errorf("shared: cull sessions: %w", err)
		}
	}
	return sessions, nil
}

func (sm *SessionManager) load(ctx context.Context, key string) (Session, error) {
	if len(key) != len(TokenPrefix)+sha256.Size || key[:len(TokenPrefix)] != TokenPrefix {
		return Session{}, ErrInvalidSession
	}
	pipe := sm.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("shared: load session: %w", err)
	}
	payload, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrInvalidSession
		}
		return Session{}, fmt.Errorf("shared: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, fmt.Errorf("%w: corrupt payload: %w", ErrInvalidSession, err)
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		sess.TTL = ttl
	}
	return sess, nil
}

func tokenKey(digest []byte) string {
	return TokenPrefix + string(digest)
}

func userKey(user string) string {
	return UserPrefix + user
}

func deleteByPrefix(ctx context.Context, client redis.UniversalClient, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
