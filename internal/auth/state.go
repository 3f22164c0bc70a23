package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyOAuthState   = "oauth_state"
	sessionKeyOAuthExpires = "oauth_state_expires"

	stateKeyPrefix = "oauth_state:"
)

// StateStore は OAuth の state パラメーターを発行・検証します。
type StateStore interface {
	// Issue は新しい state を発行して保存します。
	Issue(c *gin.Context) (string, error)
	// Consume は state が発行済みかつ未使用であれば true を返し、使用済みにします。
	Consume(c *gin.Context, state string) (bool, error)
}

// SessionStateStore は state をセッションCookieに保存します。
type SessionStateStore struct {
	ttl time.Duration
	now func() time.Time
}

// NewSessionStateStore は SessionStateStore を作成します。
func NewSessionStateStore(ttl time.Duration) *SessionStateStore {
	return &SessionStateStore{ttl: ttl, now: time.Now}
}

func (s *SessionStateStore) Issue(c *gin.Context) (string, error) {
	state, err := generateToken()
	if err != nil {
		return "", err
	}
	session := sessions.Default(c)
	session.Set(sessionKeyOAuthState, state)
	session.Set(sessionKeyOAuthExpires, s.now().Add(s.ttl).Unix())
	if err := session.Save(); err != nil {
		return "", err
	}
	return state, nil
}

func (s *SessionStateStore) Consume(c *gin.Context, state string) (bool, error) {
	session := sessions.Default(c)
	expected, _ := session.Get(sessionKeyOAuthState).(string)
	expires := readUnix(session.Get(sessionKeyOAuthExpires))

	session.Delete(sessionKeyOAuthState)
	session.Delete(sessionKeyOAuthExpires)
	if err := session.Save(); err != nil {
		return false, err
	}

	if expected == "" || state == "" {
		return false, nil
	}
	if expires.IsZero() || s.now().After(expires) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(state)) == 1, nil
}

// stateKV は RedisStateStore が使う Redis コマンドです。
type stateKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// RedisStateStore はセッションとの突き合わせに加えて、state を Redis に
// TTL 付きで保存します。Cookie を再送されても同じ state は一度しか通りません。
type RedisStateStore struct {
	session *SessionStateStore
	rdb     stateKV
	ttl     time.Duration
}

// NewRedisStateStore は RedisStateStore を作成します。
func NewRedisStateStore(rdb redis.Cmdable, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{
		session: NewSessionStateStore(ttl),
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *RedisStateStore) Issue(c *gin.Context) (string, error) {
	state, err := s.session.Issue(c)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(c.Request.Context(), stateKey(state), "1", s.ttl).Err(); err != nil {
		return "", err
	}
	return state, nil
}

func (s *RedisStateStore) Consume(c *gin.Context, state string) (bool, error) {
	ok, err := s.session.Consume(c, state)
	if err != nil || !ok {
		return false, err
	}
	if err := s.rdb.GetDel(c.Request.Context(), stateKey(state)).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func stateKey(state string) string {
	return stateKeyPrefix + state
}
