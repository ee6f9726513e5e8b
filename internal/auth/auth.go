// Package auth resolves the caller identity attached to a request.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when no valid identity is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// Actor identifies the caller.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Resolver turns an Authorization header value into an Actor.
type Resolver interface {
	Resolve(authorization string) (Actor, error)
}

// StaticResolver accepts every request as one fixed actor. Local use only.
type StaticResolver struct {
	Actor Actor
}

func (s StaticResolver) Resolve(string) (Actor, error) {
	if strings.TrimSpace(s.Actor.ID) == "" {
		return Actor{}, ErrUnauthenticated
	}
	return s.Actor, nil
}

type sageClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 bearer tokens and uses the subject as actor id.
type JWTResolver struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewJWTResolver(secret, issuer string) (*JWTResolver, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTResolver{secret: []byte(secret), issuer: strings.TrimSpace(issuer), leeway: 30 * time.Second}, nil
}

func (r *JWTResolver) Resolve(authorization string) (Actor, error) {
	raw, ok := bearerToken(authorization)
	if !ok {
		return Actor{}, ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(r.leeway),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &sageClaims{}, func(token *jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*sageClaims)
	if !ok || !parsed.Valid {
		return Actor{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Actor{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Actor{ID: subject, Name: claims.Name}, nil
}

// Sign issues a token for actor valid for ttl. Used by tooling and tests.
func (r *JWTResolver) Sign(actor Actor, ttl time.Duration, now time.Time) (string, error) {
	claims := sageClaims{
		Name: actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
