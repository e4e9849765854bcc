package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"teleclinic-backend/internal/database"
)

// presenceTTL bounds how long a party counts as "in the room" without a
// refresh. A crashed client therefore disappears from dashboards within
// this window even though it never reported leaving.
const presenceTTL = 2 * time.Minute

// PresenceRepository tracks which parties are currently inside a
// consultation's media room. The persisted status stays SCHEDULED until an
// explicit end, so these markers are how dashboards tell "currently live"
// from "not yet started".
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// MarkJoined records that the given participant identity entered the room
func (r *PresenceRepository) MarkJoined(ctx context.Context, consultationID uuid.UUID, identity string) error {
	key := presenceKey(consultationID)

	if err := r.client.SafeSAdd(ctx, key, identity).Err(); err != nil {
		return fmt.Errorf("failed to mark joined: %w", err)
	}

	if err := r.client.SafeExpire(ctx, key, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence expiry: %w", err)
	}

	return nil
}

// Refresh extends the presence window while a party stays in the call
func (r *PresenceRepository) Refresh(ctx context.Context, consultationID uuid.UUID) error {
	return r.client.SafeExpire(ctx, presenceKey(consultationID), presenceTTL).Err()
}

// MarkLeft records that the given participant identity left the room
func (r *PresenceRepository) MarkLeft(ctx context.Context, consultationID uuid.UUID, identity string) error {
	if err := r.client.SafeSRem(ctx, presenceKey(consultationID), identity).Err(); err != nil {
		return fmt.Errorf("failed to mark left: %w", err)
	}
	return nil
}

// ActiveParties returns the participant identities currently in the room
func (r *PresenceRepository) ActiveParties(ctx context.Context, consultationID uuid.UUID) ([]string, error) {
	members, err := r.client.SafeSMembers(ctx, presenceKey(consultationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active parties: %w", err)
	}
	return members, nil
}

// IsLive reports whether any party is currently inside the room
func (r *PresenceRepository) IsLive(ctx context.Context, consultationID uuid.UUID) (bool, error) {
	n, err := r.client.SafeExists(ctx, presenceKey(consultationID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check liveness: %w", err)
	}
	return n > 0, nil
}

func presenceKey(consultationID uuid.UUID) string {
	return fmt.Sprintf("call:presence:%s", consultationID)
}
