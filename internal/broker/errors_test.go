package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseErrorCode(t *testing.T) {
	tests := []struct {
		in   string
		code int
	}{
		{"Trade context busy (error code: 146)", 146},
		{"error code:4108", 4108},
		{"error code: 6", 6},
		{"no code here", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ParseErrorCode(tt.in), tt.in)
	}
}

func TestBridgeErrorClassification(t *testing.T) {
	for _, code := range []int{4, 6, 8, 129, 136, 137, 146} {
		err := newBridgeError("op", fmt.Sprintf("broker rejection (error code: %d)", code))
		assert.True(t, err.Retryable(), "code %d must be retryable", code)
		assert.False(t, err.Fatal(), "code %d must not be fatal", code)
	}

	fatal := newBridgeError("op", "close failed (error code: 4108)")
	assert.True(t, fatal.Fatal())
	assert.False(t, fatal.Retryable())

	byMessage := newBridgeError("op", "invalid ticket")
	assert.True(t, byMessage.Fatal())

	alreadyClosed := newBridgeError("op", "position Already Closed")
	assert.True(t, alreadyClosed.Fatal())

	unknown := newBridgeError("op", "exotic terminal failure (error code: 3)")
	assert.False(t, unknown.Retryable())
	assert.False(t, unknown.Fatal())
}

func TestIsAlreadyClosed(t *testing.T) {
	assert.True(t, IsAlreadyClosed(fmt.Errorf("wrap: %w", ErrPositionAlreadyClosed)))
	assert.True(t, IsAlreadyClosed(newBridgeError("op", "error code: 4108")))
	assert.False(t, IsAlreadyClosed(newBridgeError("op", "error code: 146")))
	assert.False(t, IsAlreadyClosed(nil))
}
