package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestStatusTransitions tests the consultation status machine edges
func TestStatusTransitions(t *testing.T) {
	// Forward edges
	assert.True(t, StatusScheduled.CanTransition(StatusOngoing))
	assert.True(t, StatusScheduled.CanTransition(StatusCancelled))
	assert.True(t, StatusScheduled.CanTransition(StatusCompleted)) // implicit ONGOING
	assert.True(t, StatusOngoing.CanTransition(StatusCompleted))
	assert.True(t, StatusOngoing.CanTransition(StatusCancelled))

	// No re-entry into SCHEDULED
	assert.False(t, StatusOngoing.CanTransition(StatusScheduled))
	assert.False(t, StatusCompleted.CanTransition(StatusScheduled))
	assert.False(t, StatusCancelled.CanTransition(StatusScheduled))
}

// TestTerminalStatesHaveNoOutgoingTransitions tests that COMPLETED and
// CANCELLED reject every transition target
func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	all := []ConsultationStatus{StatusScheduled, StatusOngoing, StatusCompleted, StatusCancelled}

	for _, terminal := range []ConsultationStatus{StatusCompleted, StatusCancelled} {
		assert.True(t, terminal.IsTerminal())
		for _, next := range all {
			assert.False(t, terminal.CanTransition(next),
				"terminal status %s must not transition to %s", terminal, next)
		}
	}
}

func TestStatusValidation(t *testing.T) {
	assert.True(t, StatusScheduled.IsValid())
	assert.True(t, StatusCancelled.IsValid())
	assert.False(t, ConsultationStatus("ringing").IsValid())
	assert.False(t, ConsultationStatus("").IsValid())
}

// TestRoomNameIdempotent tests that the room name is stable for a given record
func TestRoomNameIdempotent(t *testing.T) {
	c := &Consultation{ID: uuid.New()}

	first := RoomName(c)
	assert.Equal(t, first, RoomName(c))
	assert.Equal(t, "consult_"+c.ID.String(), first)
}

// TestRoomNamePrefersPersistedValue tests that a stored room name is never
// renegotiated even if the derivation rule would give something else
func TestRoomNamePrefersPersistedValue(t *testing.T) {
	c := &Consultation{ID: uuid.New(), RoomName: "consult_legacy-7"}

	assert.Equal(t, "consult_legacy-7", RoomName(c))
}

func TestParticipantIdentity(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	assert.Equal(t, "doctor-"+id.String(), ParticipantIdentity(RoleDoctor, id))
	assert.Equal(t, "patient-"+id.String(), ParticipantIdentity(RolePatient, id))

	// Same user id under different roles must not collide
	assert.NotEqual(t,
		ParticipantIdentity(RoleDoctor, id),
		ParticipantIdentity(RolePatient, id))
}

func TestRoleCounterpart(t *testing.T) {
	assert.Equal(t, RolePatient, RoleDoctor.Counterpart())
	assert.Equal(t, RoleDoctor, RolePatient.Counterpart())
}

func TestConsultationIDFromRoomName(t *testing.T) {
	id := uuid.New()

	parsed, err := ConsultationIDFromRoomName(DeriveRoomName(id))
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ConsultationIDFromRoomName("meeting_" + id.String())
	assert.Error(t, err)

	_, err = ConsultationIDFromRoomName("consult_not-a-uuid")
	assert.Error(t, err)
}
