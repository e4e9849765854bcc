package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teleclinic-backend/internal/domain"
	"teleclinic-backend/pkg/constants"
	apperrors "teleclinic-backend/pkg/errors"
	"teleclinic-backend/pkg/logger"
	"teleclinic-backend/pkg/metrics"
	"teleclinic-backend/pkg/push"
)

// ConsultationRepository defines the persistence operations the service needs
type ConsultationRepository interface {
	Create(ctx context.Context, c *domain.Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Consultation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]*domain.Consultation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConsultationStatus) error
}

// PresenceRepository reports which parties are currently inside a room
type PresenceRepository interface {
	ActiveParties(ctx context.Context, consultationID uuid.UUID) ([]string, error)
}

// Notifier sends consultation lifecycle notifications to a party's devices
type Notifier interface {
	NotifyConsultationScheduled(ctx context.Context, data *push.ConsultationNotificationData, recipient uuid.UUID) error
	NotifyConsultationCancelled(ctx context.Context, data *push.ConsultationNotificationData, recipient uuid.UUID) error
}

// Service handles consultation scheduling and status transitions
type Service struct {
	repo     ConsultationRepository
	presence PresenceRepository
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewService creates a new consultation service. notifier and metrics may be
// nil; both are best-effort side channels.
func NewService(repo ConsultationRepository, presence PresenceRepository, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		presence: presence,
		notifier: notifier,
		metrics:  m,
	}
}

// ScheduleInput contains consultation creation data
type ScheduleInput struct {
	DoctorID     uuid.UUID
	PatientID    uuid.UUID
	ScheduledAt  time.Time
	DurationMins int
	ScheduledBy  domain.Role
}

// Schedule creates a SCHEDULED consultation record. The room name is fixed
// here, at creation, and never renegotiated.
func (s *Service) Schedule(ctx context.Context, input *ScheduleInput) (*domain.Consultation, error) {
	if input.DoctorID == uuid.Nil || input.PatientID == uuid.Nil {
		return nil, apperrors.ValidationError("both doctor and patient are required")
	}
	if input.DoctorID == input.PatientID {
		return nil, apperrors.ValidationError("doctor and patient must be different users")
	}
	if input.ScheduledAt.Before(time.Now()) {
		return nil, apperrors.ValidationError("consultation must be scheduled in the future")
	}

	duration := input.DurationMins
	if duration == 0 {
		duration = domain.DefaultDurationMins
	}
	if duration < 1 {
		return nil, apperrors.ValidationError("duration must be at least one minute")
	}
	if duration > constants.MaxConsultationDurationMins {
		return nil, apperrors.ValidationError("duration exceeds the maximum consultation length")
	}

	id := uuid.New()
	c := &domain.Consultation{
		ID:           id,
		DoctorID:     input.DoctorID,
		PatientID:    input.PatientID,
		ScheduledAt:  input.ScheduledAt,
		DurationMins: duration,
		RoomName:     domain.DeriveRoomName(id),
		Status:       domain.StatusScheduled,
		CreatedAt:    time.Now(),
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordConsultationEvent(string(domain.StatusScheduled))
	}

	s.notifyCounterpart(ctx, c, input.ScheduledBy, false)

	return c, nil
}

// Get retrieves a consultation by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves a party's consultations
func (s *Service) List(ctx context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]*domain.Consultation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.ListForUser(ctx, userID, role, limit, offset)
}

// ActiveParties reports who is currently inside the consultation's room.
// The persisted status never moves to ONGOING on join, so this is the
// observable "currently live" signal.
func (s *Service) ActiveParties(ctx context.Context, id uuid.UUID) ([]string, error) {
	if s.presence == nil {
		return nil, nil
	}
	return s.presence.ActiveParties(ctx, id)
}

// Transition requests a status change for a consultation. A request against
// a terminal record fails with a status conflict and never silently
// succeeds. actor identifies the requesting user for notifications.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target domain.ConsultationStatus, actor uuid.UUID) (*domain.Consultation, error) {
	if !target.IsValid() {
		return nil, apperrors.ValidationError("unknown status: " + string(target))
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status.IsTerminal() {
		if s.metrics != nil {
			s.metrics.RecordStatusConflict()
		}
		return nil, apperrors.StatusConflictError("consultation already reached a terminal state")
	}

	if !c.Status.CanTransition(target) {
		return nil, apperrors.ConflictError("illegal transition from " + string(c.Status) + " to " + string(target))
	}

	if err := s.repo.UpdateStatus(ctx, id, target); err != nil {
		// Lost a race against the other party's transition
		if apperrors.IsCode(err, apperrors.ErrCodeStatusConflict) && s.metrics != nil {
			s.metrics.RecordStatusConflict()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordConsultationEvent(string(target))
	}

	if target == domain.StatusCancelled {
		actorRole := domain.RolePatient
		if actor == c.DoctorID {
			actorRole = domain.RoleDoctor
		}
		s.notifyCounterpart(ctx, c, actorRole, true)
	}

	c.Status = target
	c.UpdatedAt = time.Now()
	return c, nil
}

// IsParty reports whether userID is one of the consultation's two parties
func IsParty(c *domain.Consultation, userID uuid.UUID) bool {
	return c.DoctorID == userID || c.PatientID == userID
}

// notifyCounterpart pushes a schedule/cancel notification to the party who
// did not perform the action. Failures are logged, never propagated: a dead
// push pipeline must not fail scheduling.
func (s *Service) notifyCounterpart(ctx context.Context, c *domain.Consultation, actorRole domain.Role, cancelled bool) {
	if s.notifier == nil {
		return
	}

	recipient := c.PatientID
	if actorRole == domain.RolePatient {
		recipient = c.DoctorID
	}

	data := &push.ConsultationNotificationData{
		ConsultationID: c.ID,
		DoctorID:       c.DoctorID,
		PatientID:      c.PatientID,
		ScheduledAt:    c.ScheduledAt,
		DurationMins:   c.DurationMins,
	}

	category := "consultation_scheduled"
	var err error
	if cancelled {
		category = "consultation_cancelled"
		err = s.notifier.NotifyConsultationCancelled(ctx, data, recipient)
	} else {
		err = s.notifier.NotifyConsultationScheduled(ctx, data, recipient)
	}

	outcome := "sent"
	if err != nil {
		outcome = "failed"
		logger.Warn("Failed to send consultation notification",
			zap.String("consultation_id", c.ID.String()),
			zap.Bool("cancelled", cancelled),
			zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordPushNotification(category, outcome)
	}
}
