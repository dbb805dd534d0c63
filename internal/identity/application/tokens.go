// Package application resolves request credentials into identities.
package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = time.Hour

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenResolver turns HS256 bearer tokens into identities.
type TokenResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenResolver creates a resolver. An empty issuer skips the iss check.
func NewTokenResolver(secret, issuer string) *TokenResolver {
	return &TokenResolver{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Resolve parses an Authorization header value. No header means anonymous;
// a header that does not verify is an error, never anonymous.
func (r *TokenResolver) Resolve(header string) (domain.Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.Anonymous, nil
	}

	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return domain.Identity{}, fmt.Errorf("%w: malformed authorization header", domain.ErrInvalidToken)
	}
	if len(r.secret) == 0 {
		return domain.Identity{}, fmt.Errorf("%w: token verification is not configured", domain.ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: subject is not a user id", domain.ErrInvalidToken)
	}

	identity, err := domain.NewIdentity(userID, claims.Email)
	if err != nil {
		return domain.Identity{}, errors.Join(domain.ErrInvalidToken, err)
	}
	return identity, nil
}

// Issue signs a token for identity. Used by the CLI and tests; production
// tokens come from the site's login flow with the same secret.
func (r *TokenResolver) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if identity.IsAnonymous() {
		return "", fmt.Errorf("%w: cannot issue a token for an anonymous identity", domain.ErrInvalidToken)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := r.now().UTC()
	claims := tokenClaims{
		Email: identity.Email.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
