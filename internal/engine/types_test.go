package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeControlStatus_String(t *testing.T) {
	tests := []struct {
		status TimeControlStatus
		want   string
	}{
		{Paused, "Paused"},
		{WaitingToPlay, "WaitingToPlay"},
		{Playing, "Playing"},
		{TimeControlStatus(42), "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestItemStatus_String(t *testing.T) {
	assert.Equal(t, "Unknown", ItemUnknown.String())
	assert.Equal(t, "Ready", ItemReady.String())
	assert.Equal(t, "Failed", ItemFailed.String())
	assert.Equal(t, "Invalid", ItemStatus(9).String())
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    time.Duration
	}{
		{"zero", 0, 0},
		{"fractional", 1.5, 1500 * time.Millisecond},
		{"nan", math.NaN(), 0},
		{"inf", math.Inf(1), 0},
		{"negative inf", math.Inf(-1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Seconds(tt.seconds))
		})
	}
}

func TestTimeRange_End(t *testing.T) {
	r := TimeRange{Start: 2, Duration: 3.5}
	assert.InDelta(t, 5.5, r.End(), 1e-9)
}
