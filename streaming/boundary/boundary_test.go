package boundary

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// DefaultConfig / New
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Cooldown)
	assert.Nil(t, cfg.OnStateChange)
}

func TestNew_CorrectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name          string
		cfg           *Config
		wantThreshold int
		wantCooldown  time.Duration
	}{
		{name: "nil config uses defaults", cfg: nil, wantThreshold: 3, wantCooldown: time.Minute},
		{name: "zero values corrected", cfg: &Config{}, wantThreshold: 3, wantCooldown: time.Minute},
		{name: "custom values preserved", cfg: &Config{FailureThreshold: 5, Cooldown: 10 * time.Second}, wantThreshold: 5, wantCooldown: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.cfg, zap.NewNop())
			require.NotNil(t, b)
			assert.Equal(t, tt.wantThreshold, b.config.FailureThreshold)
			assert.Equal(t, tt.wantCooldown, b.config.Cooldown)
			assert.Equal(t, StateClosed, b.Snapshot().State())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

// ---------------------------------------------------------------------------
// Closed -> Open -> lazily Closed
// ---------------------------------------------------------------------------

func TestBoundary_OpensAtThreshold(t *testing.T) {
	b := New(&Config{FailureThreshold: 3, Cooldown: time.Minute}, nil)

	b.RecordFailure(t0)
	b.RecordFailure(t0.Add(time.Second))
	assert.True(t, b.ShouldAllow(t0.Add(2*time.Second)).Allowed)

	snap := b.RecordFailure(t0.Add(2 * time.Second))
	assert.True(t, snap.Open)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, t0.Add(2*time.Second+time.Minute), snap.CooldownEnd)

	d := b.ShouldAllow(t0.Add(3 * time.Second))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "3 consecutive failures")
}

func TestBoundary_CooldownElapsedAllowsWithoutReset(t *testing.T) {
	b := New(&Config{FailureThreshold: 2, Cooldown: 10 * time.Second}, nil)
	b.RecordFailure(t0)
	b.RecordFailure(t0)

	assert.False(t, b.ShouldAllow(t0.Add(9*time.Second)).Allowed)

	// ShouldAllow 纯函数：放行但不修改状态
	assert.True(t, b.ShouldAllow(t0.Add(10*time.Second)).Allowed)
	assert.True(t, b.Snapshot().Open)

	// Check 惰性复位
	d := b.Check(t0.Add(10 * time.Second))
	assert.True(t, d.Allowed)
	assert.Equal(t, Snapshot{}, b.Snapshot())
}

func TestBoundary_CheckDeniesWhileOpen(t *testing.T) {
	b := New(&Config{FailureThreshold: 1, Cooldown: time.Minute}, nil)
	b.RecordFailure(t0)

	d := b.Check(t0.Add(30 * time.Second))
	assert.False(t, d.Allowed)
	assert.True(t, b.Snapshot().Open)
}

func TestBoundary_SuccessResetsCounterButDoesNotClose(t *testing.T) {
	b := New(&Config{FailureThreshold: 2, Cooldown: time.Minute}, nil)
	b.RecordFailure(t0)
	b.RecordSuccess()
	b.RecordFailure(t0.Add(time.Second))
	assert.False(t, b.Snapshot().Open, "success between failures resets the streak")

	b.RecordFailure(t0.Add(2 * time.Second))
	require.True(t, b.Snapshot().Open)

	b.RecordSuccess()
	snap := b.Snapshot()
	assert.True(t, snap.Open, "success does not close an open boundary early")
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.False(t, b.ShouldAllow(t0.Add(30*time.Second)).Allowed)
}

func TestBoundary_FailureAfterCooldownStartsNewStreak(t *testing.T) {
	b := New(&Config{FailureThreshold: 2, Cooldown: time.Second}, nil)
	b.RecordFailure(t0)
	b.RecordFailure(t0)

	snap := b.RecordFailure(t0.Add(5 * time.Second))
	assert.False(t, snap.Open)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestBoundary_OpenNeverAllows(t *testing.T) {
	b := New(&Config{FailureThreshold: 1, Cooldown: time.Minute}, nil)
	b.RecordFailure(t0)

	for i := 0; i < 60; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		snap := b.Snapshot()
		d := ShouldAllow(snap, now)
		assert.False(t, snap.Open && now.Before(snap.CooldownEnd) && d.Allowed)
	}
}

func TestBoundary_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(&Config{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, nil)

	b.RecordFailure(t0)
	b.RecordFailure(t0) // 已打开，不重复通知
	b.Check(t0.Add(2 * time.Second))
	b.Reset() // 已关闭，不通知

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestProperty_ThresholdFailuresDenyThenCooldownAllows(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("threshold failures open the boundary until cooldown elapses", prop.ForAll(
		func(threshold int, cooldownSec int) bool {
			cooldown := time.Duration(cooldownSec) * time.Second
			b := New(&Config{FailureThreshold: threshold, Cooldown: cooldown}, nil)

			now := t0
			for i := 0; i < threshold; i++ {
				if !b.ShouldAllow(now).Allowed {
					return false
				}
				b.RecordFailure(now)
			}
			if b.ShouldAllow(now).Allowed {
				return false
			}
			if b.Check(now.Add(cooldown - time.Nanosecond)).Allowed {
				return false
			}
			return b.Check(now.Add(cooldown)).Allowed && !b.Snapshot().Open
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 600),
	))

	properties.TestingRun(t)
}
