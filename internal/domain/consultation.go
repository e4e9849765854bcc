package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConsultationStatus represents the lifecycle state of a consultation
type ConsultationStatus string

const (
	StatusScheduled ConsultationStatus = "SCHEDULED"
	StatusOngoing   ConsultationStatus = "ONGOING"
	StatusCompleted ConsultationStatus = "COMPLETED"
	StatusCancelled ConsultationStatus = "CANCELLED"
)

// DefaultDurationMins is the planned consultation length when none is given
const DefaultDurationMins = 30

// Consultation represents a scheduled video session between a doctor and a patient
type Consultation struct {
	ID           uuid.UUID          `json:"id"`
	DoctorID     uuid.UUID          `json:"doctor_id"`
	PatientID    uuid.UUID          `json:"patient_id"`
	ScheduledAt  time.Time          `json:"scheduled_at"`
	DurationMins int                `json:"duration_mins"`
	RoomName     string             `json:"room_name"`
	Status       ConsultationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// IsValid reports whether s is one of the known statuses
func (s ConsultationStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed out of s
func (s ConsultationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the status machine allows moving from s to next.
// Status only advances forward; terminal states have no outgoing edges.
func (s ConsultationStatus) CanTransition(next ConsultationStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusScheduled:
		// ONGOING is normally inferred from the first room join, but the
		// transition is still legal when requested explicitly.
		return next == StatusOngoing || next == StatusCancelled || next == StatusCompleted
	case StatusOngoing:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}
