package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

const (
	cookieName = "postbox_session"
)

var (
	ErrSignedOut      = errors.New("not signed in")
	ErrInvalidSession = errors.New("invalid session token")
	ErrSessionExpired = errors.New("session expired")
)

// Identity is what the rest of the app knows about the caller. Address is the
// tenant key for every mailbox query.
type Identity struct {
	Loaded   bool
	SignedIn bool
	Address  string
}

// Require returns the primary address or ErrSignedOut.
func (i Identity) Require() (string, error) {
	if !i.Loaded || !i.SignedIn || i.Address == "" {
		return "", ErrSignedOut
	}
	return i.Address, nil
}

func SignedIn(address string) Identity {
	return Identity{Loaded: true, SignedIn: true, Address: address}
}

type Manager struct {
	secret []byte
	maxAge time.Duration
}

func New(secret string, maxAge time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(generated)
	}
	return &Manager{secret: []byte(secret), maxAge: maxAge}, nil
}

func (m *Manager) CookieName() string {
	return cookieName
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Issue signs a session for one address. The token is
// base64(address|unix|hmac).
func (m *Manager) Issue(email string, now time.Time) (string, error) {
	address, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	payload := address + "|" + strconv.FormatInt(now.Unix(), 10)
	token := payload + "|" + m.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Resolve turns a session token into an Identity. A missing token is a
// loaded, signed-out identity rather than an error.
func (m *Manager) Resolve(token string, now time.Time) (Identity, error) {
	if token == "" {
		return Identity{Loaded: true}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Identity{Loaded: true}, ErrInvalidSession
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return Identity{Loaded: true}, ErrInvalidSession
	}
	payload := parts[0] + "|" + parts[1]
	if !m.verify(payload, parts[2]) {
		return Identity{Loaded: true}, ErrInvalidSession
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Identity{Loaded: true}, ErrInvalidSession
	}
	if now.Sub(time.Unix(issued, 0)) > m.maxAge {
		return Identity{Loaded: true}, ErrSessionExpired
	}
	address, err := NormalizeEmail(parts[0])
	if err != nil {
		return Identity{Loaded: true}, ErrInvalidSession
	}
	return SignedIn(address), nil
}

func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be valid")
	}
	return strings.ToLower(addr.Address), nil
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(payload, signature string) bool {
	expected := m.sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
