package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/meschain/syncengine/internal/infrastructure/config"
)

// Operator scopes
const (
	ScopeRead    = "sync:read"
	ScopeTrigger = "sync:trigger"
	ScopeMap     = "sync:map"
)

// Common errors
var (
	ErrAuthDisabled     = errors.New("operator auth is disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingSubject   = errors.New("missing subject in claims")
)

// Claims are the claims of an operator bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the token carries scope. A token without scopes
// is a full operator token.
func (c *Claims) HasScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	return slices.Contains(c.Scopes, scope)
}

// JWTService issues and validates HS256 operator tokens.
type JWTService struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
}

// NewJWTService creates a new JWT service. It returns nil when no secret is
// configured, which leaves the operator API open.
func NewJWTService(cfg config.AuthConfig) *JWTService {
	if cfg.JWTSecret == "" {
		return nil
	}
	return &JWTService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		clock:  clockwork.NewRealClock(),
	}
}

// WithClock returns a copy of the service using clock for issue and
// validation times.
func (s *JWTService) WithClock(clock clockwork.Clock) *JWTService {
	cp := *s
	cp.clock = clock
	return &cp
}

// Issue signs a token for subject valid for ttl.
func (s *JWTService) Issue(subject string, ttl time.Duration, scopes ...string) (string, error) {
	if s == nil {
		return "", ErrAuthDisabled
	}
	if subject == "" {
		return "", ErrMissingSubject
	}
	now := s.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate validates a bearer token and returns its claims.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	if s == nil {
		return nil, ErrAuthDisabled
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
