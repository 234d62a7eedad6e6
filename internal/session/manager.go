package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrSecretRequired  = errors.New("session: signing secret required")
	ErrInvalidToken    = errors.New("session: invalid token")
	ErrSessionNotFound = errors.New("session: not found")
)

// Dependencies are shared by every session a Manager creates.
type Dependencies struct {
	DocumentsDir string
	Loader       KnowledgeLoader
	Generator    AnswerGenerator
}

// Manager keeps sessions in memory and hands out signed tokens naming them.
type Manager struct {
	secret []byte
	ttl    time.Duration
	deps   Dependencies
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(secret string, ttl time.Duration, deps Dependencies) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if deps.Loader == nil || deps.Generator == nil {
		return nil, errors.New("session: loader and generator are required")
	}

	return &Manager{
		secret:   []byte(secret),
		ttl:      ttl,
		deps:     deps,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Session),
	}, nil
}

// Issue starts a fresh session and returns it with its signed token.
func (m *Manager) Issue() (*Session, string, time.Time, error) {
	now := m.now()
	sess := newSession(uuid.NewString(), m.deps.DocumentsDir, m.deps.Loader, m.deps.Generator, now)

	token, expiresAt, err := m.generateToken(sess.ID, now)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	m.mu.Lock()
	m.pruneLocked(now)
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	return sess, token, expiresAt, nil
}

// Resolve maps a token back to its live session.
func (m *Manager) Resolve(token string) (*Session, error) {
	claims, err := m.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	sess, ok := m.sessions[claims.Subject]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	sess.touch(m.now())
	return sess, nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) VerifyToken(token string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (m *Manager) generateToken(sessionID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

func (m *Manager) pruneLocked(now time.Time) {
	for id, sess := range m.sessions {
		if now.Sub(sess.idleSince()) > m.ttl {
			delete(m.sessions, id)
		}
	}
}
