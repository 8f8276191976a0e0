package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	errs "chat-relay/errors"
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-relay"

var _ contract.IIdentityResolver = (*TokenResolver)(nil)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenResolver turns a signed JWT into the identity of a session.
// Tokens are issued elsewhere; GenerateToken exists for tools and tests.
type TokenResolver struct {
	secret []byte
}

func NewTokenResolver(secret string) *TokenResolver {
	return &TokenResolver{secret: []byte(secret)}
}

// GenerateToken creates a signed HS256 JWT for userID.
func (r *TokenResolver) GenerateToken(userID domain.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// ResolveIdentity checks the signature, the expiration and the issuer of credential.
func (r *TokenResolver) ResolveIdentity(_ context.Context, credential string) (domain.UserID, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: credential is missing", errs.ErrAuth)
	}
	token, err := jwt.ParseWithClaims(credential, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrAuth, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: %w", errs.ErrAuth, jwt.ErrTokenInvalidClaims)
	}
	return domain.UserID(claims.UserID), nil
}
