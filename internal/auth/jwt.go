package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/satriahrh/scribe/domain/entities"
)

// RoleScribe is the role carried by tokens the engine presents to the bridge
const RoleScribe = "scribe"

const defaultTokenTTL = 12 * time.Hour

// JWTClaims represents the claims the bridge sidecar checks
type JWTClaims struct {
	InviteID string            `json:"invite_id"`
	Platform entities.Platform `json:"platform"`
	Role     string            `json:"role"`
	jwt.RegisteredClaims
}

// Signer issues and validates HS256 bridge tokens
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer; ttl defaults to 12 hours
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateScribeToken generates a token scoped to one invite's session
func (s *Signer) GenerateScribeToken(inviteID string, platform entities.Platform) (string, error) {
	now := s.now()
	claims := &JWTClaims{
		InviteID: inviteID,
		Platform: platform,
		Role:     RoleScribe,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   inviteID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Signer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
