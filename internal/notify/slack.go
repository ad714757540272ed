package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/systmms/costguardian/internal/engine"
	cgerrors "github.com/systmms/costguardian/internal/errors"
	"github.com/systmms/costguardian/internal/logging"
)

// Retry settings for webhook delivery. Delivery is best-effort; a few quick
// attempts, then give up.
const (
	maxAttempts = 3
	initialWait = 1 * time.Second
)

// SlackProvider delivers run reports to a Slack incoming webhook.
type SlackProvider struct {
	webhookURL string
	client     *http.Client
	logger     *logging.Logger
}

// NewSlackProvider creates a Slack notifier for the given webhook URL.
func NewSlackProvider(webhookURL string, logger *logging.Logger) *SlackProvider {
	return &SlackProvider{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Name returns the provider name.
func (p *SlackProvider) Name() string {
	return "slack"
}

// Deliver renders the summary and posts it to the webhook. Retries are
// bounded with exponential backoff; the final error is a NotificationError
// for the caller to log.
func (p *SlackProvider) Deliver(ctx context.Context, summary engine.RunSummary) error {
	body, err := json.Marshal(map[string]string{
		"text": RenderSummary(summary),
	})
	if err != nil {
		return cgerrors.NotificationError{Endpoint: p.webhookURL, Err: err}
	}

	var lastErr error
	wait := initialWait
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.post(ctx, body)
		if lastErr == nil {
			p.logger.Debug("report delivered to slack")
			return nil
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return cgerrors.NotificationError{Endpoint: p.webhookURL, Err: ctx.Err()}
			case <-time.After(wait):
			}
			wait *= 2
		}
	}

	return cgerrors.NotificationError{
		Endpoint: p.webhookURL,
		Err:      fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr),
	}
}

func (p *SlackProvider) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}

// RenderSummary formats a run summary as a short Slack-markdown report:
// the run timestamp, the dry-run flag, and counts per action kind and
// result.
func RenderSummary(summary engine.RunSummary) string {
	lines := []string{
		"*costguardian run*",
		fmt.Sprintf("Time (UTC): `%s`", summary.StartedAt.Format(time.RFC3339)),
		fmt.Sprintf("Dry-run: `%t`", summary.DryRun),
	}

	sections := []struct {
		title string
		kind  engine.ActionKind
	}{
		{"*EC2 instances*", engine.StopInstance},
		{"*IAM key rotation*", engine.RotateKey},
		{"*IAM key deactivation*", engine.DeactivateKey},
	}

	for _, section := range sections {
		lines = append(lines, "", section.title)
		for _, result := range []engine.Result{engine.Applied, engine.SkippedDryRun, engine.SkippedPolicy, engine.Failed} {
			if n := summary.Count(section.kind, result); n > 0 {
				lines = append(lines, fmt.Sprintf("- %s: `%d`", result, n))
			}
		}
	}

	if failures := summary.Failures(); len(failures) > 0 {
		lines = append(lines, "", ":warning: *Failures*")
		for _, o := range failures {
			lines = append(lines, fmt.Sprintf("- %s %s: %s", o.Kind, o.Target, o.Detail))
		}
	}

	return strings.Join(lines, "\n")
}
