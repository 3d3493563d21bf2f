// Package usertoken validates access tokens issued by the identity provider
// that fronts this service. Tokens are HS256 JWTs over a shared secret and
// carry the caller's user id in the subject and the platform role in a
// custom claim.
package usertoken

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"auditdesk/pkg/domain"
)

const (
	defaultIssuer   = "auditdesk-idp"
	defaultAudience = "auditdesk-api"
	defaultLeeway   = 30 * time.Second
)

// Claims is the accepted token shape.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Config configures token verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates user access tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token verifier requires a signing secret")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}, nil
}

// Verify validates the token and returns the authenticated user.
func (v *Verifier) Verify(token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, errors.New("token required")
	}
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.User{}, err
	}
	if !parsed.Valid {
		return domain.User{}, errors.New("invalid token")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.User{}, errors.New("token subject missing")
	}
	role := domain.UserRole(strings.TrimSpace(claims.Role))
	switch role {
	case domain.RoleAdmin, domain.RoleUser:
	case "":
		role = domain.RoleUser
	default:
		return domain.User{}, errors.New("unknown role claim")
	}
	return domain.User{ID: subject, Role: role}, nil
}
