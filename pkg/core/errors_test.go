package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := NewPermissionError("microphone access denied", nil)
	assert.Equal(t, "permission_error: microphone access denied", err.Error())
}

func TestError_WithCodeAndCause(t *testing.T) {
	err := &Error{
		Type:    ErrHandshake,
		Message: "dial failed",
		Code:    "dial",
		Cause:   errors.New("connection refused"),
	}
	assert.Equal(t, "handshake_error: dial failed (code: dial): connection refused", err.Error())
}

func TestNewUnstableError(t *testing.T) {
	err := NewUnstableError(3)
	assert.Equal(t, ErrUnstable, err.Type)
	assert.Equal(t, "connection_unstable", err.Code)
	assert.Contains(t, err.Message, "3 retries")
}

func TestIsType_FollowsWrapping(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := fmt.Errorf("save memory: %w", NewStoreError("create", cause))

	assert.True(t, IsType(wrapped, ErrStore))
	assert.False(t, IsType(wrapped, ErrCredential))
	assert.Equal(t, ErrStore, TypeOf(wrapped))
	require.ErrorIs(t, wrapped, cause)
}

func TestTypeOf_Unclassified(t *testing.T) {
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}

func TestNewAgentError(t *testing.T) {
	err := NewAgentError("quota", "quota exceeded")
	assert.Equal(t, ErrAgent, err.Type)
	assert.Equal(t, "agent_error: quota exceeded (code: quota)", err.Error())
}
