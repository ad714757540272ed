package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	cgerrors "github.com/systmms/costguardian/internal/errors"
	"github.com/systmms/costguardian/internal/logging"
	"gopkg.in/yaml.v3"
)

// Environment variable names understood by the job. All are optional;
// absence implies the permissive default documented on each Settings field.
const (
	EnvDryRun           = "DRY_RUN"
	EnvInstanceTagKey   = "EC2_FILTER_TAG_KEY"
	EnvInstanceTagValue = "EC2_FILTER_TAG_VALUE"
	EnvAllowedUsers     = "IAM_ALLOWED_USERS"
	EnvSecretNamePrefix = "SECRET_NAME_PREFIX"
	EnvSlackWebhookURL  = "SLACK_WEBHOOK_URL"
	EnvRegion           = "AWS_REGION"
)

// DefaultSecretNamePrefix namespaces per-user secrets in Secrets Manager.
// Full secret name: <prefix><username>/access-key.
const DefaultSecretNamePrefix = "iam/user/"

// Config holds the runtime configuration
type Config struct {
	Path     string // optional YAML file path
	Logger   *logging.Logger
	Settings Settings
}

// Settings are the policy-scoping knobs for a run. Thresholds and action
// types are fixed; only filtering scope and dry-run are configurable.
type Settings struct {
	// DryRun disables every mutating call; would-be actions are reported
	// as skipped. Defaults to true so a misdeployed job cannot do damage.
	DryRun bool `yaml:"dry_run"`

	// InstanceTagKey/InstanceTagValue restrict stop-eligible instances to
	// those carrying this tag. Both empty means no filter.
	InstanceTagKey   string `yaml:"instance_tag_key"`
	InstanceTagValue string `yaml:"instance_tag_value"`

	// AllowedUsers restricts key management to these IAM usernames.
	// Empty means all users.
	AllowedUsers []string `yaml:"allowed_users"`

	// SecretNamePrefix is the Secrets Manager namespace for rotated keys.
	SecretNamePrefix string `yaml:"secret_name_prefix"`

	// SlackWebhookURL receives the run report. Empty disables notification.
	SlackWebhookURL string `yaml:"slack_webhook_url"`

	// Region overrides the AWS SDK's default region resolution.
	Region string `yaml:"region"`
}

// fileSettings mirrors Settings for YAML parsing. DryRun is a pointer so an
// absent key does not silently overwrite the env value with false.
type fileSettings struct {
	DryRun           *bool    `yaml:"dry_run"`
	InstanceTagKey   string   `yaml:"instance_tag_key"`
	InstanceTagValue string   `yaml:"instance_tag_value"`
	AllowedUsers     []string `yaml:"allowed_users"`
	SecretNamePrefix string   `yaml:"secret_name_prefix"`
	SlackWebhookURL  string   `yaml:"slack_webhook_url"`
	Region           string   `yaml:"region"`
}

// Defaults returns the permissive default settings: dry-run on, no filters,
// standard secret prefix, notification off.
func Defaults() Settings {
	return Settings{
		DryRun:           true,
		SecretNamePrefix: DefaultSecretNamePrefix,
	}
}

// Load populates Settings from defaults, then the optional YAML file, then
// environment variables. Environment wins: the job is deployed as a
// scheduled task whose environment is the primary configuration surface.
func (c *Config) Load() error {
	settings := Defaults()

	if c.Path != "" {
		if err := applyFile(&settings, c.Path); err != nil {
			return err
		}
	}

	applyEnv(&settings)

	if err := settings.Validate(); err != nil {
		return err
	}

	c.Settings = settings
	return nil
}

func applyFile(settings *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cgerrors.ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: "Omit --config to run from environment variables only",
			}
		}
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	var fs fileSettings
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return cgerrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "invalid YAML: " + err.Error(),
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if fs.DryRun != nil {
		settings.DryRun = *fs.DryRun
	}
	if fs.InstanceTagKey != "" {
		settings.InstanceTagKey = fs.InstanceTagKey
	}
	if fs.InstanceTagValue != "" {
		settings.InstanceTagValue = fs.InstanceTagValue
	}
	if len(fs.AllowedUsers) > 0 {
		settings.AllowedUsers = fs.AllowedUsers
	}
	if fs.SecretNamePrefix != "" {
		settings.SecretNamePrefix = fs.SecretNamePrefix
	}
	if fs.SlackWebhookURL != "" {
		settings.SlackWebhookURL = fs.SlackWebhookURL
	}
	if fs.Region != "" {
		settings.Region = fs.Region
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v, ok := os.LookupEnv(EnvDryRun); ok {
		settings.DryRun = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v := os.Getenv(EnvInstanceTagKey); v != "" {
		settings.InstanceTagKey = v
	}
	if v := os.Getenv(EnvInstanceTagValue); v != "" {
		settings.InstanceTagValue = v
	}
	if v := os.Getenv(EnvAllowedUsers); v != "" {
		settings.AllowedUsers = SplitUsers(v)
	}
	if v := os.Getenv(EnvSecretNamePrefix); v != "" {
		settings.SecretNamePrefix = v
	}
	if v := os.Getenv(EnvSlackWebhookURL); v != "" {
		settings.SlackWebhookURL = v
	}
	if v := os.Getenv(EnvRegion); v != "" {
		settings.Region = v
	}
}

// SplitUsers parses a comma-separated username list, trimming whitespace and
// dropping empty entries.
func SplitUsers(s string) []string {
	var users []string
	for _, u := range strings.Split(s, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			users = append(users, u)
		}
	}
	return users
}

// Validate checks the settings for internally inconsistent values.
func (s Settings) Validate() error {
	if (s.InstanceTagKey == "") != (s.InstanceTagValue == "") {
		return cgerrors.ConfigError{
			Field:      "instance_tag_key/instance_tag_value",
			Message:    "tag filter requires both a key and a value",
			Suggestion: fmt.Sprintf("Set both %s and %s, or neither", EnvInstanceTagKey, EnvInstanceTagValue),
		}
	}

	if s.SlackWebhookURL != "" {
		parsed, err := url.Parse(s.SlackWebhookURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return cgerrors.ConfigError{
				Field:      "slack_webhook_url",
				Value:      s.SlackWebhookURL,
				Message:    "invalid webhook URL",
				Suggestion: "Use the full https:// URL of a Slack incoming webhook",
			}
		}
	}

	if s.SecretNamePrefix == "" {
		return cgerrors.ConfigError{
			Field:      "secret_name_prefix",
			Message:    "secret name prefix must not be empty",
			Suggestion: fmt.Sprintf("Use the default '%s' or set %s", DefaultSecretNamePrefix, EnvSecretNamePrefix),
		}
	}

	return nil
}

// Allows reports whether key management for the given username is in scope.
// An empty allow-list means every user is managed.
func (s Settings) Allows(username string) bool {
	if len(s.AllowedUsers) == 0 {
		return true
	}
	for _, u := range s.AllowedUsers {
		if u == username {
			return true
		}
	}
	return false
}

// HasTagFilter reports whether an instance tag filter is configured.
func (s Settings) HasTagFilter() bool {
	return s.InstanceTagKey != "" && s.InstanceTagValue != ""
}
