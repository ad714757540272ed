package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/costguardian/internal/awsclient"
	"github.com/systmms/costguardian/internal/config"
	"github.com/systmms/costguardian/internal/discovery"
	"github.com/systmms/costguardian/internal/engine"
	"github.com/systmms/costguardian/internal/notify"
	"github.com/systmms/costguardian/internal/secretstore"
)

func NewRunCommand(cfg *config.Config) *cobra.Command {
	var (
		dryRun     bool
		noDryRun   bool
		tagKey     string
		tagValue   string
		users      []string
		prefix     string
		webhookURL string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one discovery/evaluate/act/notify pass",
		Long: `Run one full pass over the account:

- stop running EC2 instances launched more than 24 hours ago
- deactivate IAM access keys unused for more than 60 days
- rotate active IAM access keys older than 30 days, storing the new key
  material in Secrets Manager before the old key is deactivated
- post a summary of every decision to the configured Slack webhook

Dry-run is the default: no mutating call is issued until --no-dry-run (or
DRY_RUN=false) is set. Individual action failures are reported in the summary
and do not fail the invocation; only a discovery failure does.

Examples:
  # Report what would happen, touching nothing
  costguardian run

  # Enforce, but only on instances tagged AutoStop=true
  EC2_FILTER_TAG_KEY=AutoStop EC2_FILTER_TAG_VALUE=true costguardian run --no-dry-run

  # Manage keys for two users only
  costguardian run --no-dry-run --allow-user alice --allow-user bob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			// Flags override both file and environment.
			if cmd.Flags().Changed("dry-run") {
				cfg.Settings.DryRun = dryRun
			}
			if noDryRun {
				cfg.Settings.DryRun = false
			}
			if tagKey != "" {
				cfg.Settings.InstanceTagKey = tagKey
			}
			if tagValue != "" {
				cfg.Settings.InstanceTagValue = tagValue
			}
			if len(users) > 0 {
				cfg.Settings.AllowedUsers = users
			}
			if prefix != "" {
				cfg.Settings.SecretNamePrefix = prefix
			}
			if webhookURL != "" {
				cfg.Settings.SlackWebhookURL = webhookURL
			}
			if err := cfg.Settings.Validate(); err != nil {
				return err
			}

			engine.InitMetrics()

			ctx := cmd.Context()
			clients, err := awsclient.New(ctx, awsclient.Options{Region: cfg.Settings.Region})
			if err != nil {
				return err
			}

			var notifier engine.Notifier
			if cfg.Settings.SlackWebhookURL != "" {
				notifier = notify.NewSlackProvider(cfg.Settings.SlackWebhookURL, cfg.Logger)
			}

			eng := engine.New(engine.Params{
				Discoverer: discovery.New(clients.EC2, clients.IAM, cfg.Settings, cfg.Logger),
				EC2:        clients.EC2,
				IAM:        clients.IAM,
				Store:      secretstore.New(clients.SecretsManager, cfg.Settings.SecretNamePrefix, cfg.Logger),
				Notifier:   notifier,
				Settings:   cfg.Settings,
				Logger:     cfg.Logger,
			})

			summary, err := eng.Run(ctx)
			if err != nil {
				// Discovery failed: no trustworthy summary exists, so the
				// invocation itself fails.
				return err
			}

			cmd.Println(notify.RenderSummary(summary))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "Compute and report decisions without acting")
	cmd.Flags().BoolVar(&noDryRun, "no-dry-run", false, "Enable mutating actions (overrides --dry-run)")
	cmd.Flags().StringVar(&tagKey, "tag-key", "", "Only consider instances carrying this tag key")
	cmd.Flags().StringVar(&tagValue, "tag-value", "", "Required tag value for --tag-key")
	cmd.Flags().StringSliceVar(&users, "allow-user", nil, "Restrict key management to these IAM users (repeatable)")
	cmd.Flags().StringVar(&prefix, "secret-prefix", "", "Secrets Manager name prefix for rotated keys")
	cmd.Flags().StringVar(&webhookURL, "slack-webhook", "", "Slack incoming webhook URL for the run report")

	return cmd
}
