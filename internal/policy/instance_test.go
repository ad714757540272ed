package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/costguardian/internal/discovery"
	"github.com/systmms/costguardian/internal/policy"
)

func TestEvaluateInstance(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		running  bool
		launched time.Time
		wantStop bool
	}{
		{
			name:     "running_25_hours",
			running:  true,
			launched: now.Add(-25 * time.Hour),
			wantStop: true,
		},
		{
			name:     "running_2_hours",
			running:  true,
			launched: now.Add(-2 * time.Hour),
			wantStop: false,
		},
		{
			name:     "running_exactly_24_hours",
			running:  true,
			launched: now.Add(-24 * time.Hour),
			wantStop: false,
		},
		{
			name:     "stopped_instance_never_targeted",
			running:  false,
			launched: now.Add(-100 * time.Hour),
			wantStop: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision := policy.EvaluateInstance(discovery.ComputeInstance{
				ID:         "i-0123456789abcdef0",
				Running:    tt.running,
				LaunchTime: tt.launched,
			}, now)

			assert.Equal(t, tt.wantStop, decision.Stop)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestEvaluateInstanceIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	// After a stop is applied, re-evaluating the new state must not target
	// the instance again.
	inst := discovery.ComputeInstance{
		ID:         "i-0123456789abcdef0",
		Running:    true,
		LaunchTime: now.Add(-48 * time.Hour),
	}
	assert.True(t, policy.EvaluateInstance(inst, now).Stop)

	inst.Running = false
	assert.False(t, policy.EvaluateInstance(inst, now).Stop)
}
