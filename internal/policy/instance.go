package policy

import (
	"fmt"
	"time"

	"github.com/systmms/costguardian/internal/discovery"
)

// StopAfter is how long an instance may run before it is stopped.
const StopAfter = 24 * time.Hour

// InstanceDecision is the outcome of evaluating one instance.
type InstanceDecision struct {
	Stop   bool
	Reason string
}

// EvaluateInstance decides whether an instance should be stopped. Only
// running instances older than StopAfter are targeted; an instance that is
// already stopped is never targeted, which keeps reruns idempotent.
func EvaluateInstance(inst discovery.ComputeInstance, now time.Time) InstanceDecision {
	if !inst.Running {
		return InstanceDecision{Reason: "instance is not running"}
	}

	age := now.Sub(inst.LaunchTime)
	if age <= StopAfter {
		return InstanceDecision{
			Reason: fmt.Sprintf("running for %s, under the %s limit", age.Round(time.Minute), StopAfter),
		}
	}

	return InstanceDecision{
		Stop:   true,
		Reason: fmt.Sprintf("running for %s, over the %s limit", age.Round(time.Minute), StopAfter),
	}
}
