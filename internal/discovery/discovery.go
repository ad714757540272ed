package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/systmms/costguardian/internal/awsclient"
	"github.com/systmms/costguardian/internal/config"
	cgerrors "github.com/systmms/costguardian/internal/errors"
	"github.com/systmms/costguardian/internal/logging"
)

// ComputeInstance is an EC2 instance as seen at discovery time. Age is
// always computed against the run clock, never stored.
type ComputeInstance struct {
	ID         string
	Running    bool
	LaunchTime time.Time
	Tags       map[string]string
}

// CredentialStatus is the IAM access key status.
type CredentialStatus string

const (
	// StatusActive means the key can authenticate requests.
	StatusActive CredentialStatus = "Active"

	// StatusInactive means the key has been retired. The job deactivates
	// keys but never deletes them.
	StatusInactive CredentialStatus = "Inactive"
)

// Credential is an IAM access key with its usage metadata.
type Credential struct {
	ID         string
	UserName   string
	Status     CredentialStatus
	CreateDate time.Time

	// LastUsed is nil when the key has never authenticated a request.
	LastUsed *time.Time
}

// IsActive reports whether the credential can currently authenticate.
func (c Credential) IsActive() bool {
	return c.Status == StatusActive
}

// Principal is an IAM user with its access keys. IAM caps each user at two
// keys, so Credentials holds at most two entries.
type Principal struct {
	UserName    string
	Credentials []Credential
}

// ActiveCredentials returns the principal's currently active credentials.
func (p Principal) ActiveCredentials() []Credential {
	var active []Credential
	for _, c := range p.Credentials {
		if c.IsActive() {
			active = append(active, c)
		}
	}
	return active
}

// Discoverer enumerates the instances and principals a run operates on,
// applying the configured tag filter and username allow-list. Listing pages
// through every backend result set; a listing failure is fatal for the run.
type Discoverer struct {
	ec2Client awsclient.EC2API
	iamClient awsclient.IAMAPI
	settings  config.Settings
	logger    *logging.Logger
}

// New creates a Discoverer over the given clients.
func New(ec2Client awsclient.EC2API, iamClient awsclient.IAMAPI, settings config.Settings, logger *logging.Logger) *Discoverer {
	return &Discoverer{
		ec2Client: ec2Client,
		iamClient: iamClient,
		settings:  settings,
		logger:    logger,
	}
}

// Instances returns every EC2 instance matching the configured tag filter,
// in all states. State filtering is left to the stop policy so that an
// already-stopped instance shows up as a skipped decision rather than
// silently vanishing from the report.
func (d *Discoverer) Instances(ctx context.Context) ([]ComputeInstance, error) {
	input := &ec2.DescribeInstancesInput{}
	if d.settings.HasTagFilter() {
		input.Filters = []ec2types.Filter{
			{
				Name:   aws.String("tag:" + d.settings.InstanceTagKey),
				Values: []string{d.settings.InstanceTagValue},
			},
		}
	}

	var instances []ComputeInstance

	paginator := ec2.NewDescribeInstancesPaginator(d.ec2Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cgerrors.DiscoveryError{Resource: "ec2-instances", Err: err}
		}

		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instance := ComputeInstance{
					ID:   aws.ToString(inst.InstanceId),
					Tags: tagMap(inst.Tags),
				}
				if inst.LaunchTime != nil {
					instance.LaunchTime = *inst.LaunchTime
				}
				if inst.State != nil {
					instance.Running = inst.State.Name == ec2types.InstanceStateNameRunning
				}
				instances = append(instances, instance)
			}
		}
	}

	d.logger.Debug("discovered %d instances", len(instances))
	return instances, nil
}

// Principals returns every IAM user on the allow-list (or all users when the
// list is empty) together with their access keys and last-used timestamps.
func (d *Discoverer) Principals(ctx context.Context) ([]Principal, error) {
	var principals []Principal

	paginator := iam.NewListUsersPaginator(d.iamClient, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cgerrors.DiscoveryError{Resource: "iam-users", Err: err}
		}

		for _, user := range page.Users {
			username := aws.ToString(user.UserName)
			if !d.settings.Allows(username) {
				d.logger.Debug("skipping user %s (not on allow-list)", username)
				continue
			}

			credentials, err := d.credentials(ctx, username)
			if err != nil {
				return nil, err
			}

			principals = append(principals, Principal{
				UserName:    username,
				Credentials: credentials,
			})
		}
	}

	d.logger.Debug("discovered %d principals", len(principals))
	return principals, nil
}

// credentials lists a user's access keys and resolves each key's last-used
// timestamp. IAM reports last-used separately from the key listing.
func (d *Discoverer) credentials(ctx context.Context, username string) ([]Credential, error) {
	var credentials []Credential

	paginator := iam.NewListAccessKeysPaginator(d.iamClient, &iam.ListAccessKeysInput{
		UserName: aws.String(username),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, cgerrors.DiscoveryError{
				Resource: "iam-access-keys",
				Err:      fmt.Errorf("user %s: %w", username, err),
			}
		}

		for _, meta := range page.AccessKeyMetadata {
			credential := Credential{
				ID:       aws.ToString(meta.AccessKeyId),
				UserName: username,
				Status:   CredentialStatus(meta.Status),
			}
			if meta.CreateDate != nil {
				credential.CreateDate = *meta.CreateDate
			}

			lastUsed, err := d.iamClient.GetAccessKeyLastUsed(ctx, &iam.GetAccessKeyLastUsedInput{
				AccessKeyId: meta.AccessKeyId,
			})
			if err != nil {
				return nil, cgerrors.DiscoveryError{
					Resource: "iam-access-keys",
					Err:      fmt.Errorf("last-used lookup for %s: %w", credential.ID, err),
				}
			}
			if lastUsed.AccessKeyLastUsed != nil && lastUsed.AccessKeyLastUsed.LastUsedDate != nil {
				t := *lastUsed.AccessKeyLastUsed.LastUsedDate
				credential.LastUsed = &t
			}

			credentials = append(credentials, credential)
		}
	}

	return credentials, nil
}

func tagMap(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return m
}
