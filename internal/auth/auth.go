// Package auth issues and verifies the bearer tokens used between a sync
// server and its clients.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultServiceIdentity is the principal the export driver signs as.
	DefaultServiceIdentity = "export-driver"
	DefaultTTL             = 5 * time.Minute
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrServiceIdentity = errors.New("service identity not allowed")
)

// Claims is the token payload.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Config drives Signer construction.
type Config struct {
	Secret          string
	ServiceIdentity string
	TTL             time.Duration
	Now             func() time.Time
}

// Signer issues and verifies HS256 tokens with a shared secret.
type Signer struct {
	secret  []byte
	service string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner builds a Signer.
func NewSigner(cfg Config) (*Signer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.ServiceIdentity == "" {
		cfg.ServiceIdentity = DefaultServiceIdentity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Signer{
		secret:  []byte(cfg.Secret),
		service: cfg.ServiceIdentity,
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}, nil
}

// ServiceIdentity returns the configured service principal.
func (s *Signer) ServiceIdentity() string {
	return s.service
}

// Issue signs a token for username.
func (s *Signer) Issue(username string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", errors.New("username is required")
	}
	now := s.now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// IssueService signs a token for the service identity.
func (s *Signer) IssueService() (string, error) {
	return s.Issue(s.service)
}

// Verify checks the signature, then the expiry against the local clock, and
// only then returns the embedded username. The service identity is accepted
// only when allowService is set.
func (s *Signer) Verify(tokenString string, allowService bool) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ExpiresAt == nil || !s.now().Before(claims.ExpiresAt.Time) {
		return "", ErrTokenExpired
	}
	if claims.Username == "" {
		return "", fmt.Errorf("%w: missing username", ErrInvalidToken)
	}
	if claims.Username == s.service && !allowService {
		return "", ErrServiceIdentity
	}
	return claims.Username, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
