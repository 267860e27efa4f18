package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jogardn/fromentine-orders/internal/apperr"
)

// Claims mirrors the access tokens minted by the hosted auth provider.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies provider-issued HS256 tokens locally against
// the shared signing secret.
type JWTAuthenticator struct {
	secretKey []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secretKey: []byte(secret)}
}

func (a *JWTAuthenticator) GetUser(_ context.Context, bearerToken string) (*User, error) {
	const op = "auth.jwt"
	if bearerToken == "" {
		return nil, apperr.Unauthenticated(op, ErrMissingToken)
	}

	claims, err := a.validate(bearerToken)
	if err != nil {
		return nil, apperr.Unauthenticated(op, err)
	}
	return &User{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

func (a *JWTAuthenticator) validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
