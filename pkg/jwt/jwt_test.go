package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const testSecret = "test-secret-key-at-least-32-chars!"

func TestGenerateAndValidateAccessToken(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute, 30*24*time.Hour)

	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "doctor@clinic.example", "DOCTOR")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "DOCTOR", claims.Role)
	assert.Equal(t, "doctor@clinic.example", claims.Email)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute, 30*24*time.Hour)
	other := NewJWTManager("another-secret-key-that-is-long-too", 15*time.Minute, 30*24*time.Hour)

	token, err := manager.GenerateAccessToken(uuid.New(), "p@clinic.example", "PATIENT")
	assert.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	manager := NewJWTManager(testSecret, -time.Minute, 30*24*time.Hour)

	token, err := manager.GenerateAccessToken(uuid.New(), "p@clinic.example", "PATIENT")
	assert.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute, 30*24*time.Hour)

	_, err := manager.ValidateToken("not.a.token")
	assert.Error(t, err)
}
