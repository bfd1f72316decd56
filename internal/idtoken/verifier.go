package idtoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "monetra"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("idtoken: invalid token")

// Claims is the identity extracted from a verified ID token.
type Claims struct {
	UID      string
	Email    string
	Name     string
	PhotoURL string
}

// Verifier checks a bearer ID token and returns the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type staticClaims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// StaticVerifier validates HS256 tokens signed with a shared secret. Dev and
// test deployments use it in place of the Firebase Admin verifier.
type StaticVerifier struct {
	secret []byte
	now    func() time.Time
}

var _ Verifier = (*StaticVerifier)(nil)

// NewStaticVerifier constructs a verifier for the given shared secret.
func NewStaticVerifier(secret string) (*StaticVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("idtoken: secret is required")
	}
	return &StaticVerifier{secret: []byte(secret), now: time.Now}, nil
}

// WithClock overrides the time source (useful for tests).
func (v *StaticVerifier) WithClock(fn func() time.Time) *StaticVerifier {
	if fn != nil {
		v.now = fn
	}
	return v
}

// Verify checks the signature and the registered claims.
func (v *StaticVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &staticClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*staticClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != issuer || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{
		UID:      claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		PhotoURL: claims.PhotoURL,
	}, nil
}

// Mint signs an HS256 token carrying the given identity. Only the dev
// verifier accepts its output; smoke tooling and tests use it.
func (v *StaticVerifier) Mint(c Claims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(c.UID) == "" {
		return "", errors.New("idtoken: uid is required")
	}
	if ttl <= 0 {
		return "", errors.New("idtoken: ttl must be greater than zero")
	}

	now := v.now().UTC()
	claims := staticClaims{
		Email:    c.Email,
		Name:     c.Name,
		PhotoURL: c.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   c.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("idtoken: sign token: %w", err)
	}
	return signed, nil
}
