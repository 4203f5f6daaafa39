package cancel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kvsearch/internal/config"
)

func TestTokenLatches(t *testing.T) {
	tok := WithTimeout(60_000)
	assert.False(t, tok.IsCancelled())

	tok.Cancel()
	assert.True(t, tok.IsCancelled())
	assert.True(t, tok.IsCancelled(), "cancellation must latch")
}

func TestDeadlineExpiry(t *testing.T) {
	// Given: a fake clock and poll frequency of 1 so every poll reads it
	now := int64(1000)
	prev := nowMs
	nowMs = func() int64 { return now }
	defer func() { nowMs = prev }()

	require.NoError(t, config.TimeoutPollFrequency.Set(1))
	defer func() { _ = config.TimeoutPollFrequency.Set(100) }()

	tok := WithTimeout(50)

	// When: time has not advanced past the deadline
	assert.False(t, tok.IsCancelled())
	assert.False(t, tok.IsCancelled())

	// Then: advancing past the deadline cancels within one poll window
	now = 1051
	_ = tok.IsCancelled()
	assert.True(t, tok.IsCancelled())
}

func TestForceTimeout(t *testing.T) {
	require.NoError(t, config.TimeoutPollFrequency.Set(1))
	defer func() { _ = config.TimeoutPollFrequency.Set(100) }()
	require.NoError(t, config.DebugForceTimeout.Set(true))
	defer func() { _ = config.DebugForceTimeout.Set(false) }()

	tok := WithTimeout(60_000)
	_ = tok.IsCancelled()
	assert.True(t, tok.IsCancelled())
}

func TestAmortizedPolling(t *testing.T) {
	// With the default frequency the clock is read only every N polls, so a
	// token does not flip mid-window even if the deadline passed.
	now := int64(0)
	prev := nowMs
	nowMs = func() int64 { return now }
	defer func() { nowMs = prev }()

	require.NoError(t, config.TimeoutPollFrequency.Set(100))

	tok := WithTimeout(10)
	now = 1000
	for i := 0; i < 99; i++ {
		assert.False(t, tok.IsCancelled())
	}
	assert.True(t, tok.IsCancelled(), "poll 100 reads the clock")
}
