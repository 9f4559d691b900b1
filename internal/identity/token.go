// Package identity adapts signed ID tokens to the access gate.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/franckalain/nutritrack/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid identity token")
	ErrSignedOut    = errors.New("no signed-in user")
)

// User is the identity provider's view of the signed-in account
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	DisplayName   string `json:"display_name"`
}

// AuthState projects u for the access gate. A nil user is signed out.
func (u *User) AuthState() models.AuthState {
	if u == nil {
		return models.AuthState{}
	}
	return models.AuthState{
		IsAuthenticated: true,
		IsEmailVerified: u.EmailVerified,
		HasDisplayName:  strings.TrimSpace(u.DisplayName) != "",
	}
}

// Claims are the ID token claims the provider reads
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenProvider verifies HS256 ID tokens and holds the resulting user
type TokenProvider struct {
	signingKey []byte
	issuer     string

	notifyMu sync.Mutex

	mu     sync.RWMutex
	user   *User
	nextID int
	subs   map[int]func(*User)
}

func NewTokenProvider(signingKey, issuer string) (*TokenProvider, error) {
	if signingKey == "" {
		return nil, errors.New("identity signing key is required")
	}
	return &TokenProvider{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		subs:       make(map[int]func(*User)),
	}, nil
}

// IssueToken signs an ID token for u. It backs local sign-in and tests.
func (p *TokenProvider) IssueToken(u User, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Name:          u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(p.signingKey)
}

func (p *TokenProvider) verify(tokenString string) (*User, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &User{
		ID:            claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		DisplayName:   strings.TrimSpace(claims.Name),
	}, nil
}

// SignIn starts a session from an ID token. A rejected token leaves the
// current user untouched.
func (p *TokenProvider) SignIn(ctx context.Context, idToken string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := p.verify(idToken)
	if err != nil {
		return nil, err
	}
	p.set(u)
	return u.clone(), nil
}

// SignOut ends the session. Signing out twice is a no-op for state but
// still notifies.
func (p *TokenProvider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.set(nil)
	return nil
}

// UpdateDisplayName sets the profile name of the signed-in user.
func (p *TokenProvider) UpdateDisplayName(ctx context.Context, name string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	cur := p.user.clone()
	p.mu.RUnlock()
	if cur == nil {
		return nil, ErrSignedOut
	}

	cur.DisplayName = strings.TrimSpace(name)
	p.set(cur)
	return cur.clone(), nil
}

// Current returns a copy of the signed-in user, or nil.
func (p *TokenProvider) Current() *User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user.clone()
}

// Subscribe registers fn for every user change. The returned func removes
// the subscription.
func (p *TokenProvider) Subscribe(fn func(*User)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

func (p *TokenProvider) set(u *User) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.user = u
	subs := make([]func(*User), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(u.clone())
	}
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
