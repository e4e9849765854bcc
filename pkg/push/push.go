package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teleclinic-backend/pkg/logger"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// ConsultationNotificationData carries the consultation fields embedded in
// schedule/cancel notifications so the client app can deep-link into the call
type ConsultationNotificationData struct {
	ConsultationID uuid.UUID
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
	ScheduledAt    time.Time
	DurationMins   int
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
	TokenTypeWeb  TokenType = "web"
)

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines the interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	MarkInactive(ctx context.Context, tokenValue string) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	token.Active = true
	return s.repo.Store(ctx, token)
}

// UnregisterAllTokens removes all tokens for a user
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// NotifyConsultationScheduled tells the counterpart a consultation was booked
func (s *Service) NotifyConsultationScheduled(ctx context.Context, data *ConsultationNotificationData, recipient uuid.UUID) error {
	notification := &Notification{
		Title:    "Consultation scheduled",
		Body:     fmt.Sprintf("A video consultation has been scheduled for %s", data.ScheduledAt.Format("Jan 2, 15:04 MST")),
		Priority: "normal",
		Sound:    "default",
		Category: "CONSULTATION_SCHEDULED",
		Data:     consultationData("consultation_scheduled", data),
	}

	return s.sendToUser(ctx, notification, recipient)
}

// NotifyConsultationCancelled tells the counterpart a consultation was called off
func (s *Service) NotifyConsultationCancelled(ctx context.Context, data *ConsultationNotificationData, recipient uuid.UUID) error {
	notification := &Notification{
		Title:    "Consultation cancelled",
		Body:     fmt.Sprintf("The video consultation scheduled for %s has been cancelled", data.ScheduledAt.Format("Jan 2, 15:04 MST")),
		Priority: "high",
		Sound:    "default",
		Category: "CONSULTATION_CANCELLED",
		Data:     consultationData("consultation_cancelled", data),
	}

	return s.sendToUser(ctx, notification, recipient)
}

// sendToUser resolves a user's device tokens, sends, and retires tokens the
// provider reports as invalid
func (s *Service) sendToUser(ctx context.Context, notification *Notification, userID uuid.UUID) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get push tokens: %w", err)
	}

	var tokenValues []string
	for _, t := range tokens {
		if t.Active {
			tokenValues = append(tokenValues, t.Token)
		}
	}

	if len(tokenValues) == 0 {
		logger.Debug("No active push tokens for user",
			zap.String("user_id", userID.String()))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, tokenValues)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}

	for _, invalid := range result.InvalidTokens {
		if err := s.repo.MarkInactive(ctx, invalid); err != nil {
			logger.Warn("Failed to mark push token inactive",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	logger.Info("Push notification sent",
		zap.String("user_id", userID.String()),
		zap.String("category", notification.Category),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	return nil
}

func consultationData(eventType string, data *ConsultationNotificationData) map[string]string {
	return map[string]string{
		"type":            eventType,
		"consultation_id": data.ConsultationID.String(),
		"doctor_id":       data.DoctorID.String(),
		"patient_id":      data.PatientID.String(),
		"scheduled_at":    data.ScheduledAt.UTC().Format(time.RFC3339),
		"duration_mins":   fmt.Sprintf("%d", data.DurationMins),
	}
}
