package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role of a call party inside a consultation
type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
)

// roomNamePrefix namespaces provider rooms so consultation rooms never
// collide with rooms created by other features sharing the provider account.
const roomNamePrefix = "consult_"

// RoomName returns the rendezvous room for a consultation. Both parties
// derive the same name from the record alone, so no signaling round-trip is
// needed to agree on where to meet. A persisted room name always wins; the
// derived fallback covers records created before the column existed.
func RoomName(c *Consultation) string {
	if c.RoomName != "" {
		return c.RoomName
	}
	return DeriveRoomName(c.ID)
}

// DeriveRoomName computes the canonical room name for a consultation id.
func DeriveRoomName(id uuid.UUID) string {
	return roomNamePrefix + id.String()
}

// ConsultationIDFromRoomName inverts DeriveRoomName. Fails on names that do
// not carry the consultation prefix or a well-formed id.
func ConsultationIDFromRoomName(roomName string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(roomName, roomNamePrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("room name %q is not a consultation room", roomName)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("room name %q carries an invalid consultation id: %w", roomName, err)
	}
	return id, nil
}

// ParticipantIdentity returns the provider identity string for one party.
// The media provider only uses it to tell local from remote tracks, so the
// format just has to be deterministic and collision-free across parties.
func ParticipantIdentity(role Role, userID uuid.UUID) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(string(role)), userID)
}

// Counterpart returns the other party's role.
func (r Role) Counterpart() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

// IsValid reports whether r names a known call party role
func (r Role) IsValid() bool {
	return r == RoleDoctor || r == RolePatient
}
