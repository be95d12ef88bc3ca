package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"comicmap/pkg/utils"
)

const RoleAdmin = "admin"

var ErrDisabled = errors.New("admin tokens disabled: no jwt secret configured")

// TokenService signs and verifies HS256 admin tokens.
type TokenService struct {
	Secret   []byte
	Issuer   string
	Duration time.Duration
}

func NewTokenService(cfg utils.AuthConfig) TokenService {
	return TokenService{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Duration: cfg.JWTDuration,
	}
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (ts TokenService) Sign(subject, role string) (string, time.Time, error) {
	if len(ts.Secret) == 0 {
		return "", time.Time{}, ErrDisabled
	}
	now := time.Now()
	exp := now.Add(ts.Duration)

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(ts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

func (ts TokenService) Parse(tokenString string) (*Claims, error) {
	if len(ts.Secret) == 0 {
		return nil, ErrDisabled
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if ts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.Issuer))
	}

	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return ts.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
