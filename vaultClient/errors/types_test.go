package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCeremonyErrorFormatting(t *testing.T) {
	err := NewNetworkError("relay unreachable", errors.New("connection refused")).WithSession("s1")

	assert.Equal(t, "[s1:NETWORK] MEDIUM: relay unreachable: connection refused", err.Error())
	assert.Equal(t, "connection refused", errors.Unwrap(err).Error())
	assert.True(t, err.IsRetryable())
}

func TestRetryableOnlyForNetwork(t *testing.T) {
	assert.True(t, IsRetryable(NewNetworkError("x", nil)))
	assert.False(t, IsRetryable(NewThresholdError("x", nil)))
	assert.False(t, IsRetryable(NewTimeoutError("x")))
	assert.False(t, IsRetryable(NewProtocolMismatchError("x")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestClassifyEngineError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"threshold keyword", errors.New("not enough parties to meet threshold"), ErrCodeThreshold},
		{"threshold mixed case", errors.New("Threshold not met"), ErrCodeThreshold},
		{"local party update", errors.New("failed to update from bytes to new local party: eof"), ErrCodeThreshold},
		{"generic failure", errors.New("context deadline exceeded"), ErrCodeNetwork},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ce := ClassifyEngineError(tc.err)
			require.NotNil(t, ce)
			assert.Equal(t, tc.code, ce.Code)
			assert.ErrorIs(t, ce, tc.err)
		})
	}

	assert.Nil(t, ClassifyEngineError(nil))

	existing := NewTimeoutError("quorum")
	assert.Same(t, existing, ClassifyEngineError(fmt.Errorf("wrapped: %w", existing)))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, ThresholdUserMessage, UserMessage(NewThresholdError("engine said no", nil)))
	assert.Equal(t, InvalidContentMessage, UserMessage(NewInvalidPayloadError(errors.New("unexpected EOF at offset 12"))))
	assert.Equal(t, "ceremony did not complete", UserMessage(Wrap(NewTimeoutError("ceremony did not complete"), "poll")))
	assert.Equal(t, "", UserMessage(nil))
}

func TestIsCeremonyErrorThroughWrapping(t *testing.T) {
	err := Wrapf(NewMissingSignatureError("abcd"), "dispatch %s", "Ethereum")

	assert.True(t, IsCeremonyError(err, ErrCodeMissingSignature))
	assert.False(t, IsThresholdError(err))
	assert.Nil(t, Wrap(nil, "nothing"))
}
