package secretstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cgerrors "github.com/systmms/costguardian/internal/errors"
	"github.com/systmms/costguardian/internal/logging"
	"github.com/systmms/costguardian/internal/secretstore"
	"github.com/systmms/costguardian/tests/fakes"
)

func newStore(client *fakes.FakeSecretsManagerClient) *secretstore.Store {
	return secretstore.New(client, "iam/user/", logging.New(false, true))
}

func TestSecretName(t *testing.T) {
	t.Parallel()

	store := newStore(fakes.NewFakeSecretsManagerClient())
	assert.Equal(t, "iam/user/alice/access-key", store.SecretName("alice"))
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 8, 31, 10, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	record := secretstore.NewRecord("alice", "AKIA123", "shhh", created)

	// Timestamps are normalized to UTC ISO-8601.
	assert.Equal(t, "2026-08-31T08:30:00Z", record.CreateDate)
	assert.Equal(t, "alice", record.UserName)
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSecretsManagerClient()
	store := newStore(client)
	ctx := context.Background()

	first := secretstore.NewRecord("alice", "AKIA1", "secret-one", time.Now())
	require.NoError(t, store.Upsert(ctx, first))

	// Second upsert hits ResourceExistsException and falls back to
	// PutSecretValue.
	second := secretstore.NewRecord("alice", "AKIA2", "secret-two", time.Now())
	require.NoError(t, store.Upsert(ctx, second))

	require.Len(t, client.Writes, 2)
	assert.Equal(t, "iam/user/alice/access-key", client.Writes[0].Name)
	assert.Equal(t, "iam/user/alice/access-key", client.Writes[1].Name)

	var stored map[string]string
	require.NoError(t, json.Unmarshal([]byte(client.Secrets["iam/user/alice/access-key"]), &stored))
	assert.Equal(t, "AKIA2", stored["AccessKeyId"])
	assert.Equal(t, "secret-two", stored["SecretAccessKey"])
}

func TestUpsertPayloadFieldNames(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSecretsManagerClient()
	store := newStore(client)

	record := secretstore.NewRecord("alice", "AKIA1", "shhh", time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.Upsert(context.Background(), record))

	// The field names are a wire contract for external consumers.
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(client.Writes[0].Value), &payload))
	assert.Equal(t, map[string]any{
		"UserName":        "alice",
		"AccessKeyId":     "AKIA1",
		"SecretAccessKey": "shhh",
		"CreateDate":      "2026-08-31T12:00:00Z",
	}, payload)
}

func TestUpsertFailures(t *testing.T) {
	t.Parallel()

	t.Run("create_fails", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		client.CreateErr["iam/user/alice/access-key"] = errors.New("AccessDenied")

		err := newStore(client).Upsert(context.Background(), secretstore.NewRecord("alice", "AKIA1", "shhh", time.Now()))
		var persistErr cgerrors.PersistenceError
		require.ErrorAs(t, err, &persistErr)
		assert.Equal(t, "iam/user/alice/access-key", persistErr.SecretName)
		assert.Empty(t, client.Writes)
	})

	t.Run("put_fails_after_exists", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		client.Secrets["iam/user/alice/access-key"] = `{"AccessKeyId":"AKIA0"}`
		client.PutErr["iam/user/alice/access-key"] = errors.New("InternalServiceError")

		err := newStore(client).Upsert(context.Background(), secretstore.NewRecord("alice", "AKIA1", "shhh", time.Now()))
		var persistErr cgerrors.PersistenceError
		require.ErrorAs(t, err, &persistErr)

		// The prior version is untouched on failure.
		assert.Contains(t, client.Secrets["iam/user/alice/access-key"], "AKIA0")
	})
}
