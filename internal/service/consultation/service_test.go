package consultation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"teleclinic-backend/internal/domain"
	apperrors "teleclinic-backend/pkg/errors"
	"teleclinic-backend/pkg/push"
)

type mockConsultationRepo struct {
	mock.Mock
}

func (m *mockConsultationRepo) Create(ctx context.Context, c *domain.Consultation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockConsultationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Consultation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Consultation), args.Error(1)
}

func (m *mockConsultationRepo) ListForUser(ctx context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]*domain.Consultation, error) {
	args := m.Called(ctx, userID, role, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Consultation), args.Error(1)
}

func (m *mockConsultationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConsultationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyConsultationScheduled(ctx context.Context, data *push.ConsultationNotificationData, recipient uuid.UUID) error {
	args := m.Called(ctx, data, recipient)
	return args.Error(0)
}

func (m *mockNotifier) NotifyConsultationCancelled(ctx context.Context, data *push.ConsultationNotificationData, recipient uuid.UUID) error {
	args := m.Called(ctx, data, recipient)
	return args.Error(0)
}

func TestSchedule_CreatesScheduledConsultation(t *testing.T) {
	repo := new(mockConsultationRepo)
	notifier := new(mockNotifier)
	svc := NewService(repo, nil, notifier, nil)

	doctorID := uuid.New()
	patientID := uuid.New()

	repo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Consultation) bool {
		return c.Status == domain.StatusScheduled &&
			c.DoctorID == doctorID &&
			c.PatientID == patientID &&
			c.RoomName == domain.DeriveRoomName(c.ID)
	})).Return(nil)
	notifier.On("NotifyConsultationScheduled", mock.Anything, mock.Anything, patientID).Return(nil)

	c, err := svc.Schedule(context.Background(), &ScheduleInput{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
		ScheduledBy: domain.RoleDoctor,
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, c.Status)
	assert.Equal(t, domain.DefaultDurationMins, c.DurationMins)
	assert.NotEmpty(t, c.RoomName)
	repo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestSchedule_RejectsPastTime(t *testing.T) {
	repo := new(mockConsultationRepo)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Schedule(context.Background(), &ScheduleInput{
		DoctorID:    uuid.New(),
		PatientID:   uuid.New(),
		ScheduledAt: time.Now().Add(-time.Hour),
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	repo.AssertNotCalled(t, "Create")
}

func TestSchedule_RejectsSelfConsultation(t *testing.T) {
	repo := new(mockConsultationRepo)
	svc := NewService(repo, nil, nil, nil)

	id := uuid.New()
	_, err := svc.Schedule(context.Background(), &ScheduleInput{
		DoctorID:    id,
		PatientID:   id,
		ScheduledAt: time.Now().Add(time.Hour),
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestSchedule_NotificationFailureDoesNotFailScheduling(t *testing.T) {
	repo := new(mockConsultationRepo)
	notifier := new(mockNotifier)
	svc := NewService(repo, nil, notifier, nil)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	notifier.On("NotifyConsultationScheduled", mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError)

	_, err := svc.Schedule(context.Background(), &ScheduleInput{
		DoctorID:    uuid.New(),
		PatientID:   uuid.New(),
		ScheduledAt: time.Now().Add(time.Hour),
		ScheduledBy: domain.RolePatient,
	})

	assert.NoError(t, err)
}

func TestTransition_ScheduledToCompleted(t *testing.T) {
	repo := new(mockConsultationRepo)
	svc := NewService(repo, nil, nil, nil)

	c := scheduledConsultation()
	repo.On("GetByID", mock.Anything, c.ID).Return(c, nil)
	repo.On("UpdateStatus", mock.Anything, c.ID, domain.StatusCompleted).Return(nil)

	updated, err := svc.Transition(context.Background(), c.ID, domain.StatusCompleted, c.DoctorID)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	repo.AssertExpectations(t)
}

func TestTransition_TerminalIsConflict(t *testing.T) {
	repo := new(mockConsultationRepo)
	svc := NewService(repo, nil, nil, nil)

	c := scheduledConsultation()
	c.Status = domain.StatusCompleted
	repo.On("GetByID", mock.Anything, c.ID).Return(c, nil)

	_, err := svc.Transition(context.Background(), c.ID, domain.StatusCancelled, c.DoctorID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStatusConflict))
	repo.AssertNotCalled(t, "UpdateStatus")
}

func TestTransition_RaceLoserGetsConflict(t *testing.T) {
	repo := new(mockConsultationRepo)
	svc := NewService(repo, nil, nil, nil)

	// The snapshot read sees ONGOING but the other party completes first;
	// the guarded UPDATE matches no rows.
	c := scheduledConsultation()
	c.Status = domain.StatusOngoing
	repo.On("GetByID", mock.Anything, c.ID).Return(c, nil)
	repo.On("UpdateStatus", mock.Anything, c.ID, domain.StatusCompleted).
		Return(apperrors.StatusConflictError("consultation already reached a terminal state"))

	_, err := svc.Transition(context.Background(), c.ID, domain.StatusCompleted, c.PatientID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStatusConflict))
}

func TestTransition_CancelNotifiesCounterpart(t *testing.T) {
	repo := new(mockConsultationRepo)
	notifier := new(mockNotifier)
	svc := NewService(repo, nil, notifier, nil)

	c := scheduledConsultation()
	repo.On("GetByID", mock.Anything, c.ID).Return(c, nil)
	repo.On("UpdateStatus", mock.Anything, c.ID, domain.StatusCancelled).Return(nil)
	// Doctor cancels, patient is told
	notifier.On("NotifyConsultationCancelled", mock.Anything, mock.Anything, c.PatientID).Return(nil)

	_, err := svc.Transition(context.Background(), c.ID, domain.StatusCancelled, c.DoctorID)

	assert.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestTransition_UnknownStatusRejected(t *testing.T) {
	repo := new(mockConsultationRepo)
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Transition(context.Background(), uuid.New(), domain.ConsultationStatus("PAUSED"), uuid.New())

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	repo.AssertNotCalled(t, "GetByID")
}

func TestList_ClampsPagination(t *testing.T) {
	repo := new(mockConsultationRepo)
	svc := NewService(repo, nil, nil, nil)

	userID := uuid.New()
	repo.On("ListForUser", mock.Anything, userID, domain.RoleDoctor, 20, 0).
		Return([]*domain.Consultation{}, nil)
	repo.On("ListForUser", mock.Anything, userID, domain.RoleDoctor, 100, 5).
		Return([]*domain.Consultation{}, nil)

	_, err := svc.List(context.Background(), userID, domain.RoleDoctor, 0, -3)
	assert.NoError(t, err)
	_, err = svc.List(context.Background(), userID, domain.RoleDoctor, 5000, 5)
	assert.NoError(t, err)

	repo.AssertExpectations(t)
}

func TestIsParty(t *testing.T) {
	c := scheduledConsultation()

	assert.True(t, IsParty(c, c.DoctorID))
	assert.True(t, IsParty(c, c.PatientID))
	assert.False(t, IsParty(c, uuid.New()))
}

func scheduledConsultation() *domain.Consultation {
	id := uuid.New()
	return &domain.Consultation{
		ID:           id,
		DoctorID:     uuid.New(),
		PatientID:    uuid.New(),
		ScheduledAt:  time.Now().Add(time.Hour),
		DurationMins: domain.DefaultDurationMins,
		RoomName:     domain.DeriveRoomName(id),
		Status:       domain.StatusScheduled,
		CreatedAt:    time.Now(),
	}
}
