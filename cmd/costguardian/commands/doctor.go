package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"
	"github.com/systmms/costguardian/internal/awsclient"
	"github.com/systmms/costguardian/internal/config"
)

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check credentials and configuration",
		Long: `Verify that the job can run.

This command checks:
- Configuration validity (tag filter, webhook URL, secret prefix)
- AWS credentials, by calling STS GetCallerIdentity

It makes no mutating calls.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking costguardian configuration...")
			if err := cfg.Load(); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Logger.Info("Configuration loaded successfully")

			ctx := cmd.Context()
			clients, err := awsclient.New(ctx, awsclient.Options{Region: cfg.Settings.Region})
			if err != nil {
				cfg.Logger.Error("AWS client error: %v", err)
				return err
			}

			identity, err := clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
			if err != nil {
				cfg.Logger.Error("AWS credential check failed: %v", err)
				return fmt.Errorf("STS GetCallerIdentity failed: %w", err)
			}
			cfg.Logger.Info("AWS credentials valid")

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Account:\t%s\n", aws.ToString(identity.Account))
			fmt.Fprintf(w, "Caller ARN:\t%s\n", aws.ToString(identity.Arn))
			fmt.Fprintf(w, "Dry-run:\t%t\n", cfg.Settings.DryRun)
			if cfg.Settings.HasTagFilter() {
				fmt.Fprintf(w, "Instance tag filter:\t%s=%s\n", cfg.Settings.InstanceTagKey, cfg.Settings.InstanceTagValue)
			} else {
				fmt.Fprintf(w, "Instance tag filter:\t(none, all instances considered)\n")
			}
			if len(cfg.Settings.AllowedUsers) > 0 {
				fmt.Fprintf(w, "Managed users:\t%s\n", strings.Join(cfg.Settings.AllowedUsers, ", "))
			} else {
				fmt.Fprintf(w, "Managed users:\t(all)\n")
			}
			fmt.Fprintf(w, "Secret prefix:\t%s\n", cfg.Settings.SecretNamePrefix)
			if cfg.Settings.SlackWebhookURL != "" {
				fmt.Fprintf(w, "Notification:\tslack webhook configured\n")
			} else {
				fmt.Fprintf(w, "Notification:\tdisabled\n")
			}
			return w.Flush()
		},
	}

	return cmd
}
