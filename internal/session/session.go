package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Gate is the explicit authorization capability that driver-start
// logic checks. Account synchronization and trading only run while the
// gate is open; UI login state never reaches the drivers directly.
type Gate struct {
	mu         sync.RWMutex
	secret     []byte
	authorized bool
	subject    string
	tokenTTL   time.Duration
}

type claims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid session token")

// NewGate builds a closed gate. An empty secret gets a random one,
// which means tokens do not survive a restart.
func NewGate(secret string) *Gate {
	b := []byte(secret)
	if len(b) == 0 {
		r := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, r); err != nil {
			// No entropy means no safe signing secret is possible.
			panic("session: generating gate secret: " + err.Error())
		}
		b = []byte(hex.EncodeToString(r))
	}
	return &Gate{secret: b, tokenTTL: 12 * time.Hour}
}

// Open marks the session authorized and issues a signed token for API
// callers.
func (g *Gate) Open(subject string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenTTL)),
		},
	})

	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.authorized = true
	g.subject = subject
	g.mu.Unlock()
	return signed, nil
}

// Close revokes authorization. Drivers observe it on their next tick.
func (g *Gate) Close() {
	g.mu.Lock()
	g.authorized = false
	g.subject = ""
	g.mu.Unlock()
}

// Authorized reports whether account-level drivers may run.
func (g *Gate) Authorized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.authorized
}

// Verify checks a token issued by Open and returns its subject.
func (g *Gate) Verify(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	})
	if err != nil {
		return "", err
	}
	if c, ok := token.Claims.(*claims); ok && token.Valid {
		return c.Subject, nil
	}
	return "", ErrInvalidToken
}
