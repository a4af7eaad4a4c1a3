package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"houseparty-server/models"
	"houseparty-server/utils/logger"
)

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

type tokenClaims struct {
	UserID string    `json:"userId"`
	Kind   TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access and refresh tokens. Each kind has
// its own secret and lifetime.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

func (s *TokenService) secret(kind TokenKind) ([]byte, time.Duration) {
	if kind == RefreshToken {
		return s.refreshSecret, s.refreshTTL
	}
	return s.accessSecret, s.accessTTL
}

func (s *TokenService) issue(userID string, kind TokenKind) (string, error) {
	secret, ttl := s.secret(kind)
	now := s.now()
	claims := tokenClaims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (s *TokenService) IssueAccessToken(userID string) (string, error) {
	return s.issue(userID, AccessToken)
}

func (s *TokenService) IssueRefreshToken(userID string) (string, error) {
	return s.issue(userID, RefreshToken)
}

func (s *TokenService) IssuePair(userID string) (models.TokenPair, error) {
	access, err := s.IssueAccessToken(userID)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(userID)
	if err != nil {
		return models.TokenPair{}, err
	}
	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify returns the user id carried by token, or ok=false for any failure.
// The reason is only logged.
func (s *TokenService) Verify(ctx context.Context, token string, kind TokenKind) (string, bool) {
	secret, _ := s.secret(kind)
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	reason := ""
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		reason = "bad signature"
	case err != nil:
		reason = "malformed"
	case !parsed.Valid:
		reason = "invalid"
	case claims.Kind != kind:
		reason = "wrong kind"
	case claims.UserID == "":
		reason = "missing subject"
	}
	if reason != "" {
		logger.FromContext(ctx).WithField("kind", kind).WithField("reason", reason).Debug("token rejected")
		return "", false
	}
	return claims.UserID, true
}
