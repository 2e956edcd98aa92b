package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager resolves API sessions stored in Redis. Sessions are issued by
// the login service; this service only reads them and extends their TTL.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
}

// Session is an authenticated API session.
type Session struct {
	ID     string
	UserID int64
}

type sessionPayload struct {
	UserID string `json:"user_id"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl}
}

// Load returns the session referenced by the request, or nil when the request
// carries no token or the token is unknown.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	token := sm.tokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("session: decode payload: %w", err)
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(stored.UserID), 10, 64)
	if err != nil || userID <= 0 {
		return nil, nil
	}
	if sm.ttl > 0 {
		_ = sm.client.Expire(ctx, sm.redisKey(token), sm.ttl).Err()
	}
	return &Session{ID: token, UserID: userID}, nil
}

// Issue stores a new session for userID. Used by operator tooling and tests.
func (sm *SessionManager) Issue(ctx context.Context, userID int64) (*Session, error) {
	if userID <= 0 {
		return nil, errors.New("session: user id required")
	}
	id := uuid.NewString()
	data, err := json.Marshal(sessionPayload{UserID: strconv.FormatInt(userID, 10)})
	if err != nil {
		return nil, err
	}
	if err := sm.client.Set(ctx, sm.redisKey(id), data, sm.ttl).Err(); err != nil {
		return nil, err
	}
	return &Session{ID: id, UserID: userID}, nil
}

// Destroy removes a session.
func (sm *SessionManager) Destroy(ctx context.Context, id string) error {
	if err := sm.client.Del(ctx, sm.redisKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if sm.cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}
