package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tailoredletters/internal/types"
)

// Claims is the JWT payload issued on registration and login. The subject
// carries the account ID; Email is duplicated as a named claim because every
// authenticated handler keys account lookups by email.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  types.Clock
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret and
// token lifetime.
func NewTokenIssuer(secret types.SecretString, ttl time.Duration, clock types.Clock) *TokenIssuer {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TokenIssuer{
		secret: []byte(secret.Unmask()),
		ttl:    ttl,
		clock:  clock,
	}
}

// Issue signs a token for the given account.
func (t *TokenIssuer) Issue(accountID, email string) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims. Expired tokens
// map to auth_token_expired so clients can distinguish re-login from retry;
// every other failure is the generic auth_token_invalid.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return t.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}
	if claims.Email == "" || claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is missing required claims", nil)
	}
	return claims, nil
}

// TokenAuthenticator adapts a TokenIssuer to the server's auth middleware.
type TokenAuthenticator struct {
	Issuer *TokenIssuer
}

// ResolveToken verifies the bearer token and returns the acting user.
func (a *TokenAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	claims, err := a.Issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	return &types.Actor{
		ID:    claims.Subject,
		Email: claims.Email,
		Type:  types.ActorTypeUser,
	}, nil
}
