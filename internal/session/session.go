// Package session holds the current identity for the sync engine. Identity
// is minted by the external provider and handed over as a signed token; this
// package only verifies it and pushes changes to registered listeners.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/studykit/groupsync/internal/normalize"
)

// User is the identity the engine consumes read-only.
type User struct {
	UID string
}

// Claims is the session token payload.
type Claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// Verifier validates session tokens signed by the identity provider.
type Verifier struct {
	secret   string
	duration time.Duration
}

// NewVerifier returns a Verifier for HMAC-signed tokens. duration is used
// when issuing tokens (hosts and tests); verification honors the token's own
// expiry.
func NewVerifier(secret string, duration time.Duration) *Verifier {
	return &Verifier{secret: secret, duration: duration}
}

// IssueToken signs a session token for the given uid. The credential
// exchange itself lives with the external identity provider; this exists so
// hosts can mint tokens for already-authenticated users.
func (v *Verifier) IssueToken(uid string) (string, time.Time, error) {
	expiresAt := time.Now().Add(v.duration)
	claims := &Claims{
		UID: normalize.UID(uid),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UID == "" {
		return nil, errors.New("token carries no uid")
	}
	return claims, nil
}

// Context is the mutable session state. Changes are pushed to listeners, the
// way the original app's auth context pushed sign-in state, rather than
// being polled.
type Context struct {
	mu        sync.RWMutex
	user      *User
	listeners map[int64]func(User, bool)
	nextID    int64
}

// NewContext returns a signed-out session.
func NewContext() *Context {
	return &Context{listeners: make(map[int64]func(User, bool))}
}

// CurrentUser returns the signed-in identity, or ok=false when signed out.
func (c *Context) CurrentUser() (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return User{}, false
	}
	return *c.user, true
}

// SetUser installs (or, with nil, clears) the identity and notifies every
// listener.
func (c *Context) SetUser(u *User) {
	c.mu.Lock()
	c.user = u
	fns := make([]func(User, bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	var snapshot User
	ok := u != nil
	if ok {
		snapshot = *u
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot, ok)
	}
}

// SignInWithToken verifies the provider-issued token and installs its
// identity.
func (c *Context) SignInWithToken(v *Verifier, token string) error {
	claims, err := v.VerifyToken(token)
	if err != nil {
		return fmt.Errorf("verify session token: %w", err)
	}
	c.SetUser(&User{UID: claims.UID})
	return nil
}

// OnChange registers fn for identity changes and immediately delivers the
// current state. The returned cancel func unregisters it.
func (c *Context) OnChange(fn func(User, bool)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	var snapshot User
	ok := c.user != nil
	if ok {
		snapshot = *c.user
	}
	c.mu.Unlock()

	fn(snapshot, ok)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}
