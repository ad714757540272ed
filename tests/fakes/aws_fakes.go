// Package fakes provides in-memory fakes for the AWS service clients used by
// costguardian. They implement the narrow interfaces in internal/awsclient
// and record every mutating call so tests can assert dry-run purity and
// action ordering.
package fakes

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// FakeEC2Client is an in-memory EC2 API fake with optional pagination.
type FakeEC2Client struct {
	mu sync.Mutex

	// Instances is the full instance set DescribeInstances pages over.
	Instances []ec2types.Instance

	// PageSize splits DescribeInstances results into pages when > 0.
	PageSize int

	// DescribeErr fails every DescribeInstances call.
	DescribeErr error

	// StopErr fails StopInstances for the given instance ID.
	StopErr map[string]error

	// Stopped records every instance ID passed to StopInstances.
	Stopped []string

	// DescribeInstancesFunc allows custom behavior for DescribeInstances.
	DescribeInstancesFunc func(ctx context.Context, params *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)
}

// NewFakeEC2Client creates an empty EC2 fake.
func NewFakeEC2Client() *FakeEC2Client {
	return &FakeEC2Client{StopErr: make(map[string]error)}
}

// AddInstance adds an instance to the fake's universe.
func (f *FakeEC2Client) AddInstance(id string, running bool, launched time.Time, tags map[string]string) {
	state := ec2types.InstanceStateNameStopped
	if running {
		state = ec2types.InstanceStateNameRunning
	}
	inst := ec2types.Instance{
		InstanceId: aws.String(id),
		LaunchTime: aws.Time(launched),
		State:      &ec2types.InstanceState{Name: state},
	}
	for k, v := range tags {
		inst.Tags = append(inst.Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	f.Instances = append(f.Instances, inst)
}

// DescribeInstances mocks the DescribeInstances operation, honoring tag
// filters and NextToken pagination.
func (f *FakeEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.DescribeInstancesFunc != nil {
		return f.DescribeInstancesFunc(ctx, params)
	}
	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}

	matched := make([]ec2types.Instance, 0, len(f.Instances))
	for _, inst := range f.Instances {
		if matchesFilters(inst, params.Filters) {
			matched = append(matched, inst)
		}
	}

	start := 0
	if params.NextToken != nil {
		start, _ = strconv.Atoi(aws.ToString(params.NextToken))
	}
	end := len(matched)
	var nextToken *string
	if f.PageSize > 0 && start+f.PageSize < len(matched) {
		end = start + f.PageSize
		nextToken = aws.String(strconv.Itoa(end))
	}

	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: matched[start:end]}},
		NextToken:    nextToken,
	}, nil
}

// StopInstances mocks the StopInstances operation and records the targets.
func (f *FakeEC2Client) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range params.InstanceIds {
		if err, exists := f.StopErr[id]; exists {
			return nil, err
		}
	}
	f.Stopped = append(f.Stopped, params.InstanceIds...)
	return &ec2.StopInstancesOutput{}, nil
}

func matchesFilters(inst ec2types.Instance, filters []ec2types.Filter) bool {
	for _, filter := range filters {
		name := aws.ToString(filter.Name)
		if len(name) > 4 && name[:4] == "tag:" {
			key := name[4:]
			value, ok := tagValue(inst, key)
			if !ok || !contains(filter.Values, value) {
				return false
			}
		}
	}
	return true
}

func tagValue(inst ec2types.Instance, key string) (string, bool) {
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value), true
		}
	}
	return "", false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// KeyUpdate records one UpdateAccessKey call.
type KeyUpdate struct {
	UserName    string
	AccessKeyID string
	Status      iamtypes.StatusType
}

// FakeIAMClient is an in-memory IAM API fake. CreateAccessKey enforces the
// real two-keys-per-user cap.
type FakeIAMClient struct {
	mu sync.Mutex

	// Users is the full user set ListUsers pages over.
	Users []iamtypes.User

	// Keys maps username to access key metadata.
	Keys map[string][]iamtypes.AccessKeyMetadata

	// LastUsed maps access key ID to its last-used timestamp. Absent keys
	// have never been used.
	LastUsed map[string]time.Time

	// PageSize splits listing results into pages when > 0.
	PageSize int

	// ListUsersErr, ListKeysErr fail the respective listing calls.
	ListUsersErr error
	ListKeysErr  error

	// CreateErr fails CreateAccessKey for the given username.
	CreateErr map[string]error

	// UpdateErr fails UpdateAccessKey for the given access key ID.
	UpdateErr map[string]error

	// Created records every key issued by CreateAccessKey.
	Created []iamtypes.AccessKey

	// Updated records every UpdateAccessKey call in order.
	Updated []KeyUpdate

	counter int
}

// NewFakeIAMClient creates an empty IAM fake.
func NewFakeIAMClient() *FakeIAMClient {
	return &FakeIAMClient{
		Keys:      make(map[string][]iamtypes.AccessKeyMetadata),
		LastUsed:  make(map[string]time.Time),
		CreateErr: make(map[string]error),
		UpdateErr: make(map[string]error),
	}
}

// AddUser adds a user to the fake's universe.
func (f *FakeIAMClient) AddUser(username string) {
	f.Users = append(f.Users, iamtypes.User{UserName: aws.String(username)})
	if _, exists := f.Keys[username]; !exists {
		f.Keys[username] = nil
	}
}

// AddKey adds an access key for a user. lastUsed may be zero for a key that
// has never been used.
func (f *FakeIAMClient) AddKey(username, keyID string, status iamtypes.StatusType, created time.Time, lastUsed time.Time) {
	f.Keys[username] = append(f.Keys[username], iamtypes.AccessKeyMetadata{
		UserName:    aws.String(username),
		AccessKeyId: aws.String(keyID),
		Status:      status,
		CreateDate:  aws.Time(created),
	})
	if !lastUsed.IsZero() {
		f.LastUsed[keyID] = lastUsed
	}
}

// ListUsers mocks the ListUsers operation with Marker pagination.
func (f *FakeIAMClient) ListUsers(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
	if f.ListUsersErr != nil {
		return nil, f.ListUsersErr
	}

	start := 0
	if params.Marker != nil {
		start, _ = strconv.Atoi(aws.ToString(params.Marker))
	}
	end := len(f.Users)
	out := &iam.ListUsersOutput{}
	if f.PageSize > 0 && start+f.PageSize < len(f.Users) {
		end = start + f.PageSize
		out.IsTruncated = true
		out.Marker = aws.String(strconv.Itoa(end))
	}
	out.Users = f.Users[start:end]
	return out, nil
}

// ListAccessKeys mocks the ListAccessKeys operation with Marker pagination.
func (f *FakeIAMClient) ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error) {
	if f.ListKeysErr != nil {
		return nil, f.ListKeysErr
	}

	keys := f.Keys[aws.ToString(params.UserName)]

	start := 0
	if params.Marker != nil {
		start, _ = strconv.Atoi(aws.ToString(params.Marker))
	}
	end := len(keys)
	out := &iam.ListAccessKeysOutput{}
	if f.PageSize > 0 && start+f.PageSize < len(keys) {
		end = start + f.PageSize
		out.IsTruncated = true
		out.Marker = aws.String(strconv.Itoa(end))
	}
	out.AccessKeyMetadata = keys[start:end]
	return out, nil
}

// GetAccessKeyLastUsed mocks the GetAccessKeyLastUsed operation.
func (f *FakeIAMClient) GetAccessKeyLastUsed(ctx context.Context, params *iam.GetAccessKeyLastUsedInput, optFns ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error) {
	out := &iam.GetAccessKeyLastUsedOutput{AccessKeyLastUsed: &iamtypes.AccessKeyLastUsed{}}
	if t, exists := f.LastUsed[aws.ToString(params.AccessKeyId)]; exists {
		out.AccessKeyLastUsed.LastUsedDate = aws.Time(t)
	}
	return out, nil
}

// CreateAccessKey mocks the CreateAccessKey operation, enforcing the
// two-keys-per-user cap like the real service.
func (f *FakeIAMClient) CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	username := aws.ToString(params.UserName)
	if err, exists := f.CreateErr[username]; exists {
		return nil, err
	}
	if len(f.Keys[username]) >= 2 {
		return nil, &iamtypes.LimitExceededException{
			Message: aws.String(fmt.Sprintf("Cannot exceed quota for AccessKeysPerUser: 2 (user %s)", username)),
		}
	}

	f.counter++
	now := time.Now().UTC()
	key := iamtypes.AccessKey{
		UserName:        aws.String(username),
		AccessKeyId:     aws.String(fmt.Sprintf("AKIAFAKE%06d", f.counter)),
		SecretAccessKey: aws.String(fmt.Sprintf("secret-material-%06d", f.counter)),
		Status:          iamtypes.StatusTypeActive,
		CreateDate:      aws.Time(now),
	}
	f.Created = append(f.Created, key)
	f.Keys[username] = append(f.Keys[username], iamtypes.AccessKeyMetadata{
		UserName:    key.UserName,
		AccessKeyId: key.AccessKeyId,
		Status:      key.Status,
		CreateDate:  key.CreateDate,
	})

	return &iam.CreateAccessKeyOutput{AccessKey: &key}, nil
}

// UpdateAccessKey mocks the UpdateAccessKey operation and records the call.
func (f *FakeIAMClient) UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keyID := aws.ToString(params.AccessKeyId)
	if err, exists := f.UpdateErr[keyID]; exists {
		return nil, err
	}

	username := aws.ToString(params.UserName)
	for i, meta := range f.Keys[username] {
		if aws.ToString(meta.AccessKeyId) == keyID {
			f.Keys[username][i].Status = params.Status
		}
	}
	f.Updated = append(f.Updated, KeyUpdate{
		UserName:    username,
		AccessKeyID: keyID,
		Status:      params.Status,
	})
	return &iam.UpdateAccessKeyOutput{}, nil
}

// ActiveKeyCount returns how many of a user's keys are currently Active.
func (f *FakeIAMClient) ActiveKeyCount(username string) int {
	n := 0
	for _, meta := range f.Keys[username] {
		if meta.Status == iamtypes.StatusTypeActive {
			n++
		}
	}
	return n
}

// SecretWrite records one create or put against the secret store.
type SecretWrite struct {
	Name  string
	Value string
}

// FakeSecretsManagerClient is an in-memory Secrets Manager fake.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret name to its current value.
	Secrets map[string]string

	// CreateErr and PutErr fail the respective calls for a secret name.
	CreateErr map[string]error
	PutErr    map[string]error

	// Writes records every successful create or put in order.
	Writes []SecretWrite
}

// NewFakeSecretsManagerClient creates an empty Secrets Manager fake.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets:   make(map[string]string),
		CreateErr: make(map[string]error),
		PutErr:    make(map[string]error),
	}
}

// CreateSecret mocks the CreateSecret operation, failing with
// ResourceExistsException when the secret already exists.
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, exists := f.CreateErr[name]; exists {
		return nil, err
	}
	if _, exists := f.Secrets[name]; exists {
		return nil, &smtypes.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}

	f.Secrets[name] = aws.ToString(params.SecretString)
	f.Writes = append(f.Writes, SecretWrite{Name: name, Value: f.Secrets[name]})
	return &secretsmanager.CreateSecretOutput{Name: params.Name}, nil
}

// PutSecretValue mocks the PutSecretValue operation.
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err, exists := f.PutErr[name]; exists {
		return nil, err
	}
	if _, exists := f.Secrets[name]; !exists {
		return nil, &smtypes.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}

	f.Secrets[name] = aws.ToString(params.SecretString)
	f.Writes = append(f.Writes, SecretWrite{Name: name, Value: f.Secrets[name]})
	return &secretsmanager.PutSecretValueOutput{Name: params.SecretId}, nil
}

// FakeSTSClient is a trivial STS fake for the doctor command.
type FakeSTSClient struct {
	Account string
	Arn     string
	Err     error
}

// GetCallerIdentity mocks the GetCallerIdentity operation.
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.Arn),
	}, nil
}
