package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrExpiredToken        = errors.New("auth: token has expired")
	ErrTokenSigningFailed  = errors.New("auth: failed to sign token")
	ErrInvalidSecretLength = errors.New("auth: JWT secret must be at least 32 characters")
)

// CookieName is the HTTP-only cookie the web tier sets on register/login
// and reads on every subsequent request (§6).
const CookieName = "sessionfleet_token"

// Config configures Service. Secret comes from config.Config.JWTSecret
// (env JWT_SECRET).
type Config struct {
	Secret        string
	Issuer        string
	TokenDuration time.Duration
}

// Service issues and validates HS256 bearer tokens for web-tier accounts.
type Service struct {
	cfg Config
}

// NewService builds a Service, applying defaults and rejecting a secret
// shorter than 32 characters the same way the teacher's JWTService does.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "sessionfleet"
	}
	if cfg.TokenDuration == 0 {
		cfg.TokenDuration = 24 * time.Hour
	}
	return &Service{cfg: cfg}, nil
}

// IssueToken signs a token binding userID/phone, valid for TokenDuration.
func (s *Service) IssueToken(userID, phone string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.TokenDuration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:      userID,
		PhoneNumber: phone,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, ErrTokenSigningFailed
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies a signed token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
