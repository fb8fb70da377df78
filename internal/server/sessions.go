package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxSessions bounds the session cache. The oldest session is evicted first.
const maxSessions = 10000

// Session is the server-side state behind a session cookie.
type Session struct {
	ID        string
	LoggedIn  bool
	Username  string
	CreatedAt time.Time
}

// SessionStore keeps sessions in memory with a sliding TTL. Cookie values
// are "<id>.<hmac>" so a forged id is rejected before the cache is consulted.
type SessionStore struct {
	// mu keeps Lookup's read and TTL refresh atomic with Destroy.
	mu     sync.Mutex
	cache  *expirable.LRU[string, Session]
	secret []byte
}

// NewSessionStore returns a store whose sessions expire after ttl without use.
func NewSessionStore(secret string, ttl time.Duration) *SessionStore {
	return &SessionStore{
		cache:  expirable.NewLRU[string, Session](maxSessions, nil, ttl),
		secret: []byte(secret),
	}
}

func signPayload(secret []byte, msg string) string {
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

// Create starts a logged-in session for username and returns it with the
// cookie value that identifies it.
func (s *SessionStore) Create(username string) (Session, string) {
	sess := Session{
		ID:        uuid.NewString(),
		LoggedIn:  true,
		Username:  username,
		CreatedAt: time.Now(),
	}
	s.cache.Add(sess.ID, sess)
	return sess, sess.ID + "." + signPayload(s.secret, sess.ID)
}

func (s *SessionStore) verify(cookieValue string) (string, bool) {
	i := strings.LastIndexByte(cookieValue, '.')
	if i <= 0 || i == len(cookieValue)-1 {
		return "", false
	}
	id, sig := cookieValue[:i], cookieValue[i+1:]
	want := signPayload(s.secret, id)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return id, true
}

// Lookup returns the session for a cookie value and restarts its TTL.
func (s *SessionStore) Lookup(cookieValue string) (Session, bool) {
	id, ok := s.verify(cookieValue)
	if !ok {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.cache.Get(id)
	if !ok {
		return Session{}, false
	}
	// Add on an existing key resets its expiry.
	s.cache.Add(id, sess)
	return sess, true
}

// Destroy drops the session behind a cookie value, if any.
func (s *SessionStore) Destroy(cookieValue string) {
	if id, ok := s.verify(cookieValue); ok {
		s.mu.Lock()
		s.cache.Remove(id)
		s.mu.Unlock()
	}
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int { return s.cache.Len() }
