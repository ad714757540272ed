package engine

import (
	"time"
)

// ActionKind identifies the mutating action a policy decision maps to.
type ActionKind string

const (
	// StopInstance stops a long-running EC2 instance.
	StopInstance ActionKind = "StopInstance"

	// DeactivateKey marks an IAM access key Inactive without replacement.
	DeactivateKey ActionKind = "DeactivateKey"

	// RotateKey issues a replacement key, persists it, and deactivates the
	// old key.
	RotateKey ActionKind = "RotateKey"
)

// Result is how an action attempt ended.
type Result string

const (
	// Applied means the mutating call succeeded.
	Applied Result = "Applied"

	// SkippedDryRun means the action was due but dry-run suppressed it.
	SkippedDryRun Result = "SkippedDryRun"

	// SkippedPolicy means policy evaluation decided against acting, or a
	// backend constraint blocked the action.
	SkippedPolicy Result = "SkippedPolicy"

	// Failed means the mutating call (or a prerequisite, like persisting a
	// rotated key) failed.
	Failed Result = "Failed"
)

// ActionOutcome records one decision-and-action for one resource.
type ActionOutcome struct {
	Kind   ActionKind
	Target string
	Result Result

	// Detail carries the policy reason, constraint explanation, or error
	// text, depending on Result.
	Detail string
}

// RunSummary is the complete record of one invocation. It is created fresh
// per run, handed to the notifier exactly once, and never persisted by the
// job itself.
type RunSummary struct {
	StartedAt time.Time
	DryRun    bool
	Outcomes  []ActionOutcome
}

// Count returns how many outcomes match the given kind and result.
func (s RunSummary) Count(kind ActionKind, result Result) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Kind == kind && o.Result == result {
			n++
		}
	}
	return n
}

// Counts aggregates outcomes by (kind, result).
func (s RunSummary) Counts() map[ActionKind]map[Result]int {
	counts := make(map[ActionKind]map[Result]int)
	for _, o := range s.Outcomes {
		if counts[o.Kind] == nil {
			counts[o.Kind] = make(map[Result]int)
		}
		counts[o.Kind][o.Result]++
	}
	return counts
}

// Failures returns the outcomes that ended in Failed, for logging.
func (s RunSummary) Failures() []ActionOutcome {
	var failed []ActionOutcome
	for _, o := range s.Outcomes {
		if o.Result == Failed {
			failed = append(failed, o)
		}
	}
	return failed
}
