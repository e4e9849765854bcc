package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testKey = "room-signing-key-for-tests-32chars"

func TestIssueAndValidateRoomToken(t *testing.T) {
	service := NewService(testKey, time.Minute)

	tokenStr, err := service.IssueRoomToken("doctor-42", "consult_abc")
	assert.NoError(t, err)
	assert.NotEmpty(t, tokenStr)

	claims, err := service.ValidateRoomToken(tokenStr)
	assert.NoError(t, err)
	assert.Equal(t, "doctor-42", claims.Identity)
	assert.Equal(t, "consult_abc", claims.Room)
	assert.Equal(t, "doctor-42", claims.Subject)
}

func TestIssueRoomToken_RequiresIdentityAndRoom(t *testing.T) {
	service := NewService(testKey, time.Minute)

	_, err := service.IssueRoomToken("", "consult_abc")
	assert.Error(t, err)

	_, err = service.IssueRoomToken("patient-7", "")
	assert.Error(t, err)
}

func TestNewService_ZeroTTLUsesDefault(t *testing.T) {
	service := NewService(testKey, 0)
	assert.Equal(t, DefaultTTL, service.ttl)

	service = NewService(testKey, -time.Minute)
	assert.Equal(t, -time.Minute, service.ttl)
}

func TestValidateRoomToken_Expired(t *testing.T) {
	service := NewService(testKey, -time.Minute)

	tokenStr, err := service.IssueRoomToken("patient-7", "consult_abc")
	assert.NoError(t, err)

	_, err = service.ValidateRoomToken(tokenStr)
	assert.Error(t, err)
}

func TestValidateRoomToken_WrongKey(t *testing.T) {
	service := NewService(testKey, time.Minute)
	other := NewService("a-different-signing-key-entirely!", time.Minute)

	tokenStr, err := service.IssueRoomToken("doctor-42", "consult_abc")
	assert.NoError(t, err)

	_, err = other.ValidateRoomToken(tokenStr)
	assert.Error(t, err)
}

func TestTokenScopedToGrantPair(t *testing.T) {
	service := NewService(testKey, time.Minute)

	a, err := service.IssueRoomToken("doctor-42", "consult_a")
	assert.NoError(t, err)
	b, err := service.IssueRoomToken("doctor-42", "consult_b")
	assert.NoError(t, err)

	claimsA, err := service.ValidateRoomToken(a)
	assert.NoError(t, err)
	claimsB, err := service.ValidateRoomToken(b)
	assert.NoError(t, err)

	assert.NotEqual(t, claimsA.Room, claimsB.Room)
}
