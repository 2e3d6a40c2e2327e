package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"OK", "RATE_LIMIT_EXCEEDED", "DAILY_LIMIT_EXCEEDED"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), st)
	}

	_, err := ParseStatus("ALLOW")
	assert.ErrorContains(t, err, "unknown admission status")

	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestKeysFor(t *testing.T) {
	// 23:30 in UTC-5 is already the next UTC day
	local := time.FixedZone("EST", -5*3600)
	now := time.Date(2025, 3, 1, 23, 30, 0, 0, local)

	keys := KeysFor("203.0.113.7", now)
	assert.Equal(t, "tokens:20250302:203.0.113.7", keys.Tokens)
	assert.Equal(t, "quota:20250302:203.0.113.7", keys.Quota)
}

func TestKeysFor_IdentityIsVerbatim(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	keys := KeysFor("2001:db8::1", now)
	assert.Equal(t, "tokens:20250301:2001:db8::1", keys.Tokens)
	assert.Equal(t, "quota:20250301:2001:db8::1", keys.Quota)

	assert.NotEqual(t, KeysFor("a:b", now).Tokens, KeysFor("a_b", now).Tokens)
	spoof := KeysFor("x:20250301:victim", now)
	assert.NotEqual(t, KeysFor("victim", now).Tokens, spoof.Tokens)
}

func TestLimits_RefillPerSecond(t *testing.T) {
	assert.InDelta(t, 5.0, Limits{RefillPerMs: 0.005}.RefillPerSecond(), 1e-12)
}

func TestResult_Allowed(t *testing.T) {
	var nilResult *Result
	assert.False(t, nilResult.Allowed())
	assert.True(t, (&Result{Status: StatusOK}).Allowed())
	assert.False(t, (&Result{Status: StatusDailyLimitExceeded}).Allowed())
}
