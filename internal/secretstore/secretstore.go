package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/systmms/costguardian/internal/awsclient"
	cgerrors "github.com/systmms/costguardian/internal/errors"
	"github.com/systmms/costguardian/internal/logging"
)

// SecretRecord is the persisted material for a user's most recently issued
// access key. The four field names are a wire contract: external readers of
// the secret store parse exactly these.
type SecretRecord struct {
	UserName        string `json:"UserName"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	CreateDate      string `json:"CreateDate"`
}

// NewRecord builds a SecretRecord with the creation timestamp rendered as
// ISO-8601.
func NewRecord(username, accessKeyID, secretAccessKey string, created time.Time) SecretRecord {
	return SecretRecord{
		UserName:        username,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		CreateDate:      created.UTC().Format(time.RFC3339),
	}
}

// Store upserts per-user secret records into AWS Secrets Manager. One record
// per user, overwritten on every rotation; versioning beyond what Secrets
// Manager keeps natively is not attempted.
type Store struct {
	client awsclient.SecretsManagerAPI
	prefix string
	logger *logging.Logger
}

// New creates a Store writing under the given name prefix.
func New(client awsclient.SecretsManagerAPI, prefix string, logger *logging.Logger) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// SecretName returns the deterministic secret name for a user:
// <prefix><username>/access-key.
func (s *Store) SecretName(username string) string {
	return s.prefix + username + "/access-key"
}

// Upsert writes the record, fully replacing any prior value for the user.
// CreateSecret is tried first; when the secret already exists a new version
// is written with PutSecretValue. Any failure is a PersistenceError, which
// the caller must treat as blocking the deactivation of the key being
// replaced.
func (s *Store) Upsert(ctx context.Context, record SecretRecord) error {
	name := s.SecretName(record.UserName)

	payload, err := json.Marshal(record)
	if err != nil {
		return cgerrors.PersistenceError{SecretName: name, Err: fmt.Errorf("marshal record: %w", err)}
	}
	secretString := string(payload)

	s.logger.Debug("upserting secret '%s' (key %s, material %s)", name, record.AccessKeyID, logging.Secret(record.SecretAccessKey))

	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(secretString),
	})
	if err == nil {
		s.logger.Info("created secret '%s'", name)
		return nil
	}

	var exists *types.ResourceExistsException
	if !errors.As(err, &exists) {
		return cgerrors.PersistenceError{SecretName: name, Err: err}
	}

	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(secretString),
	})
	if err != nil {
		return cgerrors.PersistenceError{SecretName: name, Err: err}
	}

	s.logger.Info("updated secret '%s' with new key version", name)
	return nil
}
