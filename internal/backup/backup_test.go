package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

func newStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *store.LibSQLStore, name string) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{
		ID:   uuid.NewString(),
		Name: name,
		Steps: []schema.WorkflowStep{
			{ID: "a", Type: schema.StepTypeAction, Order: 1, Config: json.RawMessage(`{"action":"workflow.noop"}`)},
		},
	}
	require.NoError(t, s.Save(context.Background(), wf))
	return wf
}

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3 { return &mockS3{objects: map[string][]byte{}} }

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestCreateAndRestoreBackup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	wf := seed(t, s, "grading")

	m := NewManager(s, t.TempDir(), Options{Version: "1.2.0"})
	man, err := m.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, man.Counts["workflows"])
	assert.Equal(t, 1, man.Counts["revisions"])
	assert.Len(t, man.Checksum, 64)
	assert.Equal(t, "1.2.0", man.Version)

	require.NoError(t, s.Delete(ctx, wf.ID))
	seed(t, s, "other")

	restored, err := m.RestoreFromBackup(ctx, man.ID)
	require.NoError(t, err)
	assert.Equal(t, man.ID, restored.ID)

	all, err := s.FindAll(ctx, store.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, wf.ID, all[0].ID)
	assert.Equal(t, "grading", all[0].Name)
}

func TestValidateDetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "grading")

	dir := t.TempDir()
	m := NewManager(s, dir, Options{})
	man, err := m.CreateBackup(ctx)
	require.NoError(t, err)

	_, err = m.ValidateBackupIntegrity(ctx, man.ID)
	require.NoError(t, err)

	path := filepath.Join(dir, man.ID+archiveSuffix)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(raw), "grading", "hacking", 1)), 0o600))

	_, err = m.ValidateBackupIntegrity(ctx, man.ID)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBackup))

	seed(t, s, "untouched")
	_, err = m.RestoreFromBackup(ctx, man.ID)
	require.Error(t, err)
	all, err := s.FindAll(ctx, store.WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "a corrupted archive must not touch the store")
}

func TestValidateUnknownAndInvalidID(t *testing.T) {
	m := NewManager(newStore(t), t.TempDir(), Options{})
	_, err := m.ValidateBackupIntegrity(context.Background(), "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = m.ValidateBackupIntegrity(context.Background(), "../etc")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestListAndPrune(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "grading")

	m := NewManager(s, t.TempDir(), Options{Retain: 2})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		at := base.Add(time.Duration(i) * time.Hour)
		m.now = func() time.Time { return at }
		man, err := m.CreateBackup(ctx)
		require.NoError(t, err)
		ids = append(ids, man.ID)
	}

	list, err := m.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)
}

func TestListBackupsMissingDir(t *testing.T) {
	m := NewManager(newStore(t), filepath.Join(t.TempDir(), "nope"), Options{})
	list, err := m.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReplicationToS3(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "grading")

	client := newMockS3()
	rep := NewS3ReplicatorWithClient(client, S3Options{Bucket: "dr", Region: "eu-west-1", Prefix: "jaqflow"})
	m := NewManager(s, t.TempDir(), Options{Replicator: rep})

	man, err := m.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3:eu-west-1/dr"}, man.Replicated)
	assert.Contains(t, client.objects, "dr/jaqflow/"+man.ID+archiveSuffix)

	// A second node pulls the replica and restores from it.
	other := newStore(t)
	m2 := NewManager(other, t.TempDir(), Options{Replicator: rep})
	fetched, err := m2.FetchReplica(ctx, man.ID)
	require.NoError(t, err)
	assert.Equal(t, man.Checksum, fetched.Checksum)

	_, err = m2.RestoreFromBackup(ctx, man.ID)
	require.NoError(t, err)
	wf, err := other.FindByName(ctx, "grading")
	require.NoError(t, err)
	assert.Equal(t, "grading", wf.Name)
}

func TestReplicationFailureKeepsLocalArchive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "grading")

	client := newMockS3()
	client.putErr = errors.New("access denied")
	m := NewManager(s, t.TempDir(), Options{Replicator: NewS3ReplicatorWithClient(client, S3Options{Bucket: "dr"})})

	man, err := m.CreateBackup(ctx)
	require.NoError(t, err)
	assert.Empty(t, man.Replicated)

	_, err = m.ValidateBackupIntegrity(ctx, man.ID)
	assert.NoError(t, err)
}

func TestFetchReplicaWithoutReplicator(t *testing.T) {
	m := NewManager(newStore(t), t.TempDir(), Options{})
	_, err := m.FetchReplica(context.Background(), "x")
	assert.True(t, schema.IsCode(err, schema.ErrCodeBackup))
}

func TestFetchReplicaRejectsEscapingID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "grading")

	client := newMockS3()
	rep := NewS3ReplicatorWithClient(client, S3Options{Bucket: "dr"})
	man, err := NewManager(s, t.TempDir(), Options{Replicator: rep}).CreateBackup(ctx)
	require.NoError(t, err)
	client.objects["dr/../escape"+archiveSuffix] = client.objects["dr/"+man.ID+archiveSuffix]

	root := t.TempDir()
	dir := filepath.Join(root, "backups")
	m := NewManager(newStore(t), dir, Options{Replicator: rep})
	for _, id := range []string{"../escape", `..\escape`, "..", ""} {
		_, err := m.FetchReplica(ctx, id)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "id %q: %v", id, err)
	}
	_, err = os.Stat(filepath.Join(root, "escape"+archiveSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchReplicaRejectsMismatchedManifest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "grading")

	client := newMockS3()
	rep := NewS3ReplicatorWithClient(client, S3Options{Bucket: "dr"})
	man, err := NewManager(s, t.TempDir(), Options{Replicator: rep}).CreateBackup(ctx)
	require.NoError(t, err)
	client.objects["dr/renamed"+archiveSuffix] = client.objects["dr/"+man.ID+archiveSuffix]

	_, err = NewManager(newStore(t), t.TempDir(), Options{Replicator: rep}).FetchReplica(ctx, "renamed")
	assert.True(t, schema.IsCode(err, schema.ErrCodeBackup))
}
