package push

import (
	"context"

	"go.uber.org/zap"

	"teleclinic-backend/pkg/logger"
)

// MockProvider is a no-op Provider for development and tests
type MockProvider struct {
	// Sent records every notification passed to Send, for test assertions
	Sent []*Notification
}

// Send implements Provider by logging and recording the notification
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.Sent = append(m.Sent, notification)

	logger.Debug("Mock push notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}
