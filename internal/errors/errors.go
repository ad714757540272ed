package errors

import (
	"errors"
	"fmt"
	"strings"
)

// DiscoveryError indicates a backend listing call failed. Discovery failures
// are fatal for the whole run: acting on a partial resource universe could
// stop instances or retire keys the operator never saw reported.
type DiscoveryError struct {
	Resource string // "ec2-instances", "iam-users", "iam-access-keys"
	Err      error
}

func (e DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s failed: %v", e.Resource, e.Err)
}

func (e DiscoveryError) Unwrap() error {
	return e.Err
}

// ActionError indicates a single mutating call (stop, deactivate, rotate)
// failed. It is folded into the run summary; the run continues.
type ActionError struct {
	Action string
	Target string
	Err    error
}

func (e ActionError) Error() string {
	return fmt.Sprintf("%s on %s failed: %v", e.Action, e.Target, e.Err)
}

func (e ActionError) Unwrap() error {
	return e.Err
}

// ConstraintError indicates a policy decision was blocked by a backend
// constraint, such as the two-access-keys-per-user cap. It is reported as a
// skipped action, never as a crash.
type ConstraintError struct {
	Target  string
	Message string
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("constraint on %s: %s", e.Target, e.Message)
}

// PersistenceError indicates the secret upsert for a rotated key failed.
// It aborts only that credential's rotation; the old key stays Active so the
// principal is never locked out.
type PersistenceError struct {
	SecretName string
	Err        error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persisting secret '%s' failed: %v", e.SecretName, e.Err)
}

func (e PersistenceError) Unwrap() error {
	return e.Err
}

// NotificationError indicates report delivery failed. It is logged and
// otherwise ignored; notification is best-effort.
type NotificationError struct {
	Endpoint string
	Err      error
}

func (e NotificationError) Error() string {
	return fmt.Sprintf("notification to %s failed: %v", e.Endpoint, e.Err)
}

func (e NotificationError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// IsConstraint reports whether err is (or wraps) a ConstraintError.
func IsConstraint(err error) bool {
	var ce ConstraintError
	return errors.As(err, &ce)
}

// IsRetryable checks if an error is worth retrying. AWS throttling and
// transient network failures match; everything else does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
		"requestlimitexceeded",
		"serviceunavailable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(strings.ToLower(errStr), pattern) {
			return true
		}
	}

	return false
}
