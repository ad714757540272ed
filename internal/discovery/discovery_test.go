package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/costguardian/internal/config"
	"github.com/systmms/costguardian/internal/discovery"
	cgerrors "github.com/systmms/costguardian/internal/errors"
	"github.com/systmms/costguardian/internal/logging"
	"github.com/systmms/costguardian/tests/fakes"
)

var now = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newDiscoverer(ec2Client *fakes.FakeEC2Client, iamClient *fakes.FakeIAMClient, settings config.Settings) *discovery.Discoverer {
	return discovery.New(ec2Client, iamClient, settings, logging.New(false, true))
}

func TestInstances(t *testing.T) {
	t.Parallel()

	ec2Client := fakes.NewFakeEC2Client()
	ec2Client.AddInstance("i-running", true, now.Add(-30*time.Hour), map[string]string{"Team": "platform"})
	ec2Client.AddInstance("i-stopped", false, now.Add(-200*time.Hour), nil)

	instances, err := newDiscoverer(ec2Client, fakes.NewFakeIAMClient(), config.Settings{}).Instances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "i-running", instances[0].ID)
	assert.True(t, instances[0].Running)
	assert.Equal(t, now.Add(-30*time.Hour), instances[0].LaunchTime)
	assert.Equal(t, map[string]string{"Team": "platform"}, instances[0].Tags)

	// Stopped instances are still reported; the stop policy skips them.
	assert.False(t, instances[1].Running)
}

func TestInstancesTagFilter(t *testing.T) {
	t.Parallel()

	ec2Client := fakes.NewFakeEC2Client()
	ec2Client.AddInstance("i-managed", true, now.Add(-30*time.Hour), map[string]string{"AutoStop": "true"})
	ec2Client.AddInstance("i-wrong-value", true, now.Add(-30*time.Hour), map[string]string{"AutoStop": "false"})
	ec2Client.AddInstance("i-untagged", true, now.Add(-30*time.Hour), nil)

	settings := config.Settings{InstanceTagKey: "AutoStop", InstanceTagValue: "true"}
	instances, err := newDiscoverer(ec2Client, fakes.NewFakeIAMClient(), settings).Instances(context.Background())
	require.NoError(t, err)

	require.Len(t, instances, 1)
	assert.Equal(t, "i-managed", instances[0].ID)
}

func TestInstancesPagination(t *testing.T) {
	t.Parallel()

	ec2Client := fakes.NewFakeEC2Client()
	ec2Client.PageSize = 2
	for _, id := range []string{"i-a", "i-b", "i-c", "i-d", "i-e"} {
		ec2Client.AddInstance(id, true, now.Add(-30*time.Hour), nil)
	}

	instances, err := newDiscoverer(ec2Client, fakes.NewFakeIAMClient(), config.Settings{}).Instances(context.Background())
	require.NoError(t, err)
	assert.Len(t, instances, 5)
}

func TestInstancesDiscoveryFailureIsFatal(t *testing.T) {
	t.Parallel()

	ec2Client := fakes.NewFakeEC2Client()
	ec2Client.DescribeErr = errors.New("AccessDenied: not authorized")

	_, err := newDiscoverer(ec2Client, fakes.NewFakeIAMClient(), config.Settings{}).Instances(context.Background())
	require.Error(t, err)

	var discErr cgerrors.DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, "ec2-instances", discErr.Resource)
}

func TestPrincipals(t *testing.T) {
	t.Parallel()

	iamClient := fakes.NewFakeIAMClient()
	iamClient.AddUser("alice")
	iamClient.AddKey("alice", "AKIA1", iamtypes.StatusTypeActive, now.Add(-40*24*time.Hour), now.Add(-2*24*time.Hour))
	iamClient.AddKey("alice", "AKIA2", iamtypes.StatusTypeInactive, now.Add(-100*24*time.Hour), time.Time{})
	iamClient.AddUser("bob")

	principals, err := newDiscoverer(fakes.NewFakeEC2Client(), iamClient, config.Settings{}).Principals(context.Background())
	require.NoError(t, err)
	require.Len(t, principals, 2)

	alice := principals[0]
	assert.Equal(t, "alice", alice.UserName)
	require.Len(t, alice.Credentials, 2)

	assert.Equal(t, "AKIA1", alice.Credentials[0].ID)
	assert.Equal(t, discovery.StatusActive, alice.Credentials[0].Status)
	assert.Equal(t, now.Add(-40*24*time.Hour), alice.Credentials[0].CreateDate)
	require.NotNil(t, alice.Credentials[0].LastUsed)
	assert.Equal(t, now.Add(-2*24*time.Hour), *alice.Credentials[0].LastUsed)

	// Never-used keys carry no last-used timestamp.
	assert.Equal(t, discovery.StatusInactive, alice.Credentials[1].Status)
	assert.Nil(t, alice.Credentials[1].LastUsed)

	assert.Empty(t, principals[1].Credentials)
}

func TestPrincipalsAllowList(t *testing.T) {
	t.Parallel()

	iamClient := fakes.NewFakeIAMClient()
	iamClient.AddUser("alice")
	iamClient.AddUser("bob")
	iamClient.AddUser("carol")

	settings := config.Settings{AllowedUsers: []string{"alice", "carol"}}
	principals, err := newDiscoverer(fakes.NewFakeEC2Client(), iamClient, settings).Principals(context.Background())
	require.NoError(t, err)

	require.Len(t, principals, 2)
	assert.Equal(t, "alice", principals[0].UserName)
	assert.Equal(t, "carol", principals[1].UserName)
}

func TestPrincipalsPagination(t *testing.T) {
	t.Parallel()

	iamClient := fakes.NewFakeIAMClient()
	iamClient.PageSize = 1
	iamClient.AddUser("alice")
	iamClient.AddUser("bob")
	iamClient.AddUser("carol")
	iamClient.AddKey("alice", "AKIA1", iamtypes.StatusTypeActive, now.Add(-10*24*time.Hour), time.Time{})
	iamClient.AddKey("alice", "AKIA2", iamtypes.StatusTypeActive, now.Add(-5*24*time.Hour), time.Time{})

	principals, err := newDiscoverer(fakes.NewFakeEC2Client(), iamClient, config.Settings{}).Principals(context.Background())
	require.NoError(t, err)

	require.Len(t, principals, 3)
	assert.Len(t, principals[0].Credentials, 2)
}

func TestPrincipalsListingFailureIsFatal(t *testing.T) {
	t.Parallel()

	t.Run("list_users", func(t *testing.T) {
		t.Parallel()

		iamClient := fakes.NewFakeIAMClient()
		iamClient.ListUsersErr = errors.New("ServiceUnavailable")

		_, err := newDiscoverer(fakes.NewFakeEC2Client(), iamClient, config.Settings{}).Principals(context.Background())
		var discErr cgerrors.DiscoveryError
		require.ErrorAs(t, err, &discErr)
		assert.Equal(t, "iam-users", discErr.Resource)
	})

	t.Run("list_access_keys", func(t *testing.T) {
		t.Parallel()

		iamClient := fakes.NewFakeIAMClient()
		iamClient.AddUser("alice")
		iamClient.ListKeysErr = errors.New("Throttling")

		_, err := newDiscoverer(fakes.NewFakeEC2Client(), iamClient, config.Settings{}).Principals(context.Background())
		var discErr cgerrors.DiscoveryError
		require.ErrorAs(t, err, &discErr)
		assert.Equal(t, "iam-access-keys", discErr.Resource)
	})
}

func TestActiveCredentials(t *testing.T) {
	t.Parallel()

	p := discovery.Principal{
		UserName: "alice",
		Credentials: []discovery.Credential{
			{ID: "AKIA1", Status: discovery.StatusActive},
			{ID: "AKIA2", Status: discovery.StatusInactive},
		},
	}

	active := p.ActiveCredentials()
	require.Len(t, active, 1)
	assert.Equal(t, "AKIA1", active[0].ID)
}
