// Package identity verifies bearer credentials and turns them into the
// identity claims the gateway trusts for the lifetime of a connection.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

//go:generate go run go.uber.org/mock/mockgen -source=token.go -destination=../mocks/mock_verifier.go -package=mocks

// Verifier validates a bearer credential and yields the caller's identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// Claims is the payload carried inside gateway tokens.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer, now: time.Now}
}

// Verify parses and validates the signature, expiry and issuer of token.
// Every failure wraps domain.ErrAuthentication.
func (v *JWTVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("%w: credential is missing", domain.ErrAuthentication)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, fmt.Errorf("%w: token expired", domain.ErrAuthentication)
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, jwt.ErrSignatureInvalid)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
	}
	return domain.Identity{
		ID:          domain.UserID(claims.Subject),
		DisplayName: claims.Name,
		Email:       claims.Email,
	}, nil
}

// Issue signs a token for id that expires after ttl.
func (v *JWTVerifier) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Name:  id.DisplayName,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.ID),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
