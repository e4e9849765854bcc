package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "teleclinic-backend/pkg/errors"
)

const issuer = "teleclinic-rooms"

// DefaultTTL is how long a room grant stays valid. Grants are consumed
// immediately on join, so the window only needs to cover the join handshake.
const DefaultTTL = 15 * time.Minute

// RoomGrantClaims is the payload of a room access token. The grant is scoped
// to exactly one identity/room pair; the media gateway rejects a join whose
// room or identity differs from the grant.
type RoomGrantClaims struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
	jwt.RegisteredClaims
}

// Service issues short-lived credentials authorizing one participant
// identity to join one named media room. Stateless per call.
type Service struct {
	signingKey []byte
	ttl        time.Duration
}

// NewService creates a token issuer with the given signing key and grant TTL.
// A zero ttl falls back to DefaultTTL; a negative ttl is taken as given and
// mints grants that are already expired.
func NewService(signingKey string, ttl time.Duration) *Service {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Service{
		signingKey: []byte(signingKey),
		ttl:        ttl,
	}
}

// IssueRoomToken mints a grant for the identity/room pair
func (s *Service) IssueRoomToken(identity, roomName string) (string, error) {
	if identity == "" {
		return "", apperrors.ValidationError("identity is required")
	}
	if roomName == "" {
		return "", apperrors.ValidationError("room name is required")
	}

	now := time.Now()
	claims := &RoomGrantClaims{
		Identity: identity,
		Room:     roomName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   identity,
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}

	return signed, nil
}

// ValidateRoomToken parses a grant and returns its claims. Used by the media
// gateway when a client presents the token at join time.
func (s *Service) ValidateRoomToken(tokenString string) (*RoomGrantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomGrantClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse room token: %w", err)
	}

	claims, ok := token.Claims.(*RoomGrantClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid room token")
	}

	return claims, nil
}
