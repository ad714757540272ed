package engine

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/systmms/costguardian/internal/awsclient"
	"github.com/systmms/costguardian/internal/config"
	"github.com/systmms/costguardian/internal/discovery"
	cgerrors "github.com/systmms/costguardian/internal/errors"
	"github.com/systmms/costguardian/internal/logging"
	"github.com/systmms/costguardian/internal/policy"
	"github.com/systmms/costguardian/internal/secretstore"
)

// Retry bounds for mutating AWS calls. The whole run shares one external
// wall-clock budget, so retries stay small and give up on the first
// non-transient error.
const (
	maxAttempts      = 3
	initialRetryWait = 500 * time.Millisecond
)

// Notifier delivers the run report. Delivery failures never change the
// run's own outcome.
type Notifier interface {
	Deliver(ctx context.Context, summary RunSummary) error
}

// Engine sequences one run: discover, evaluate, act, persist, notify.
// One resource's failure never prevents evaluation of the rest; only a
// discovery failure aborts the run.
type Engine struct {
	discoverer *discovery.Discoverer
	ec2Client  awsclient.EC2API
	iamClient  awsclient.IAMAPI
	store      *secretstore.Store
	notifier   Notifier
	settings   config.Settings
	logger     *logging.Logger
	now        func() time.Time
}

// Params bundles the collaborators for New.
type Params struct {
	Discoverer *discovery.Discoverer
	EC2        awsclient.EC2API
	IAM        awsclient.IAMAPI
	Store      *secretstore.Store

	// Notifier may be nil, in which case notification is a no-op.
	Notifier Notifier

	Settings config.Settings
	Logger   *logging.Logger

	// Now overrides the run clock in tests. Defaults to time.Now.
	Now func() time.Time
}

// New creates an Engine.
func New(p Params) *Engine {
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Engine{
		discoverer: p.Discoverer,
		ec2Client:  p.EC2,
		iamClient:  p.IAM,
		store:      p.Store,
		notifier:   p.Notifier,
		settings:   p.Settings,
		logger:     p.Logger,
		now:        p.Now,
	}
}

// Run performs one full pass and returns the summary. The returned error is
// non-nil only when discovery fails; individual action failures are folded
// into the summary. The summary is handed to the notifier exactly once,
// even when every action failed.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	startedAt := e.now().UTC()
	summary := RunSummary{
		StartedAt: startedAt,
		DryRun:    e.settings.DryRun,
	}

	e.logger.Info("run started at %s, dry-run=%t", startedAt.Format(time.RFC3339), e.settings.DryRun)

	e.logger.Debug("phase: discover")
	instances, err := e.discoverer.Instances(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	principals, err := e.discoverer.Principals(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	e.logger.Debug("phase: evaluate and act")
	for _, inst := range instances {
		summary.Outcomes = append(summary.Outcomes, e.applyInstance(ctx, inst, startedAt))
	}
	for _, principal := range principals {
		for _, credential := range principal.Credentials {
			summary.Outcomes = append(summary.Outcomes, e.applyCredential(ctx, credential, principal, startedAt)...)
		}
	}

	for _, o := range summary.Outcomes {
		recordOutcome(o)
	}
	for _, o := range summary.Failures() {
		e.logger.Error("%s on %s failed: %s", o.Kind, o.Target, o.Detail)
	}
	observeRunDuration(e.now().Sub(startedAt))

	e.logger.Debug("phase: notify")
	e.notify(ctx, summary)

	e.logger.Info("run complete: %d outcomes", len(summary.Outcomes))
	return summary, nil
}

// applyInstance evaluates the stop policy for one instance and applies the
// result.
func (e *Engine) applyInstance(ctx context.Context, inst discovery.ComputeInstance, now time.Time) ActionOutcome {
	decision := policy.EvaluateInstance(inst, now)
	if !decision.Stop {
		return ActionOutcome{Kind: StopInstance, Target: inst.ID, Result: SkippedPolicy, Detail: decision.Reason}
	}

	if e.settings.DryRun {
		e.logger.Info("dry-run: would stop instance %s (%s)", inst.ID, decision.Reason)
		return ActionOutcome{Kind: StopInstance, Target: inst.ID, Result: SkippedDryRun, Detail: decision.Reason}
	}

	err := e.withRetry(ctx, func(ctx context.Context) error {
		_, err := e.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{
			InstanceIds: []string{inst.ID},
		})
		return err
	})
	if err != nil {
		actionErr := cgerrors.ActionError{Action: string(StopInstance), Target: inst.ID, Err: err}
		return ActionOutcome{Kind: StopInstance, Target: inst.ID, Result: Failed, Detail: actionErr.Error()}
	}

	e.logger.Info("stopped instance %s (%s)", inst.ID, decision.Reason)
	return ActionOutcome{Kind: StopInstance, Target: inst.ID, Result: Applied, Detail: decision.Reason}
}

// applyCredential evaluates the lifecycle policy for one key and applies the
// result. A cap-blocked rotation with a fresh active replacement produces
// two outcomes: the skipped rotation and the stale-key deactivation.
func (e *Engine) applyCredential(ctx context.Context, c discovery.Credential, owner discovery.Principal, now time.Time) []ActionOutcome {
	decision := policy.EvaluateCredential(c, owner, now)

	switch decision.Action {
	case policy.ActionRotate:
		return []ActionOutcome{e.rotate(ctx, c, decision.Reason)}

	case policy.ActionDeactivate:
		return []ActionOutcome{e.deactivate(ctx, c, decision.Reason)}

	case policy.ActionDeactivateStale:
		constraint := cgerrors.ConstraintError{Target: c.ID, Message: decision.Reason}
		return []ActionOutcome{
			{Kind: RotateKey, Target: c.ID, Result: SkippedPolicy, Detail: constraint.Error()},
			e.deactivate(ctx, c, decision.Reason),
		}

	case policy.ActionBlocked:
		constraint := cgerrors.ConstraintError{Target: c.ID, Message: decision.Reason}
		e.logger.Warn("rotation blocked for key %s of %s: %s", c.ID, c.UserName, decision.Reason)
		return []ActionOutcome{
			{Kind: RotateKey, Target: c.ID, Result: SkippedPolicy, Detail: constraint.Error()},
		}

	default:
		return []ActionOutcome{
			{Kind: DeactivateKey, Target: c.ID, Result: SkippedPolicy, Detail: decision.Reason},
		}
	}
}

// rotate issues a replacement key, persists it, then deactivates the old
// key, strictly in that order. If persistence fails the old key stays
// Active, so the user always has a retrievable active credential.
func (e *Engine) rotate(ctx context.Context, c discovery.Credential, reason string) ActionOutcome {
	if e.settings.DryRun {
		e.logger.Info("dry-run: would rotate key %s of %s (%s)", c.ID, c.UserName, reason)
		return ActionOutcome{Kind: RotateKey, Target: c.ID, Result: SkippedDryRun, Detail: reason}
	}

	var created *iamtypes.AccessKey
	err := e.withRetry(ctx, func(ctx context.Context) error {
		out, err := e.iamClient.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{
			UserName: aws.String(c.UserName),
		})
		if err != nil {
			return err
		}
		created = out.AccessKey
		return nil
	})
	if err != nil {
		actionErr := cgerrors.ActionError{Action: string(RotateKey), Target: c.ID, Err: err}
		return ActionOutcome{Kind: RotateKey, Target: c.ID, Result: Failed, Detail: actionErr.Error()}
	}

	createDate := e.now().UTC()
	if created.CreateDate != nil {
		createDate = *created.CreateDate
	}
	record := secretstore.NewRecord(c.UserName, aws.ToString(created.AccessKeyId), aws.ToString(created.SecretAccessKey), createDate)

	if err := e.store.Upsert(ctx, record); err != nil {
		// The replacement key exists but its material is not retrievable,
		// so the old key must stay Active.
		e.logger.Warn("secret upsert failed for %s; old key %s left active", c.UserName, c.ID)
		return ActionOutcome{Kind: RotateKey, Target: c.ID, Result: Failed, Detail: err.Error()}
	}

	if err := e.deactivateKey(ctx, c); err != nil {
		actionErr := cgerrors.ActionError{Action: string(RotateKey), Target: c.ID, Err: err}
		return ActionOutcome{Kind: RotateKey, Target: c.ID, Result: Failed, Detail: "new key persisted but old key deactivation failed: " + actionErr.Error()}
	}

	e.logger.Info("rotated key %s of %s, new key %s", c.ID, c.UserName, aws.ToString(created.AccessKeyId))
	return ActionOutcome{Kind: RotateKey, Target: c.ID, Result: Applied, Detail: reason}
}

// deactivate retires a key without replacement.
func (e *Engine) deactivate(ctx context.Context, c discovery.Credential, reason string) ActionOutcome {
	if e.settings.DryRun {
		e.logger.Info("dry-run: would deactivate key %s of %s (%s)", c.ID, c.UserName, reason)
		return ActionOutcome{Kind: DeactivateKey, Target: c.ID, Result: SkippedDryRun, Detail: reason}
	}

	if err := e.deactivateKey(ctx, c); err != nil {
		actionErr := cgerrors.ActionError{Action: string(DeactivateKey), Target: c.ID, Err: err}
		return ActionOutcome{Kind: DeactivateKey, Target: c.ID, Result: Failed, Detail: actionErr.Error()}
	}

	e.logger.Info("deactivated key %s of %s (%s)", c.ID, c.UserName, reason)
	return ActionOutcome{Kind: DeactivateKey, Target: c.ID, Result: Applied, Detail: reason}
}

func (e *Engine) deactivateKey(ctx context.Context, c discovery.Credential) error {
	return e.withRetry(ctx, func(ctx context.Context) error {
		_, err := e.iamClient.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
			UserName:    aws.String(c.UserName),
			AccessKeyId: aws.String(c.ID),
			Status:      iamtypes.StatusTypeInactive,
		})
		return err
	})
}

// withRetry runs fn up to maxAttempts times with exponential backoff,
// retrying only transient errors and respecting context cancellation.
func (e *Engine) withRetry(ctx context.Context, fn func(context.Context) error) error {
	wait := initialRetryWait
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cgerrors.IsRetryable(lastErr) || attempt == maxAttempts {
			return lastErr
		}

		e.logger.Debug("retryable error (attempt %d/%d): %v", attempt, maxAttempts, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	return lastErr
}

// notify hands the summary to the notifier. Best-effort: failures are
// logged and never escalate.
func (e *Engine) notify(ctx context.Context, summary RunSummary) {
	if e.notifier == nil {
		e.logger.Debug("no notification endpoint configured; skipping report delivery")
		return
	}

	if err := e.notifier.Deliver(ctx, summary); err != nil {
		e.logger.Warn("report delivery failed: %v", err)
	}
}
