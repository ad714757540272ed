package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	cgerrors "github.com/systmms/costguardian/internal/errors"
)

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("AccessDenied")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "discovery",
			err:  cgerrors.DiscoveryError{Resource: "ec2-instances", Err: cause},
			want: "discovery of ec2-instances failed: AccessDenied",
		},
		{
			name: "action",
			err:  cgerrors.ActionError{Action: "StopInstance", Target: "i-123", Err: cause},
			want: "StopInstance on i-123 failed: AccessDenied",
		},
		{
			name: "constraint",
			err:  cgerrors.ConstraintError{Target: "AKIA1", Message: "user already holds 2 access keys"},
			want: "constraint on AKIA1: user already holds 2 access keys",
		},
		{
			name: "persistence",
			err:  cgerrors.PersistenceError{SecretName: "iam/user/alice/access-key", Err: cause},
			want: "persisting secret 'iam/user/alice/access-key' failed: AccessDenied",
		},
		{
			name: "notification",
			err:  cgerrors.NotificationError{Endpoint: "https://hooks.slack.com/x", Err: cause},
			want: "notification to https://hooks.slack.com/x failed: AccessDenied",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("boom")
	wrapped := fmt.Errorf("listing: %w", cgerrors.DiscoveryError{Resource: "iam-users", Err: cause})

	assert.ErrorIs(t, wrapped, cause)

	var discErr cgerrors.DiscoveryError
	assert.ErrorAs(t, wrapped, &discErr)
	assert.Equal(t, "iam-users", discErr.Resource)
}

func TestIsConstraint(t *testing.T) {
	t.Parallel()

	constraint := cgerrors.ConstraintError{Target: "AKIA1", Message: "blocked"}
	assert.True(t, cgerrors.IsConstraint(constraint))
	assert.True(t, cgerrors.IsConstraint(fmt.Errorf("evaluate: %w", constraint)))
	assert.False(t, cgerrors.IsConstraint(stderrors.New("blocked")))
	assert.False(t, cgerrors.IsConstraint(nil))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttling", stderrors.New("Throttling: rate exceeded"), true},
		{"request_limit", stderrors.New("RequestLimitExceeded"), true},
		{"timeout", stderrors.New("dial tcp: i/o timeout"), true},
		{"connection_reset", stderrors.New("read: connection reset by peer"), true},
		{"service_unavailable", stderrors.New("ServiceUnavailable"), true},
		{"access_denied", stderrors.New("AccessDenied: not authorized"), false},
		{"validation", stderrors.New("ValidationError: malformed input"), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cgerrors.IsRetryable(tt.err))
		})
	}
}

func TestConfigError(t *testing.T) {
	t.Parallel()

	err := cgerrors.ConfigError{
		Field:      "slack_webhook_url",
		Value:      "not a url",
		Message:    "invalid webhook URL",
		Suggestion: "use the full https://hooks.slack.com/... URL",
	}

	msg := err.Error()
	assert.Contains(t, msg, "field 'slack_webhook_url'")
	assert.Contains(t, msg, "invalid webhook URL")
	assert.Contains(t, msg, "hooks.slack.com")
}
