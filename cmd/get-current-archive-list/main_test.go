package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orca/internal/files/filestest"
	"orca/internal/inventory"
	"orca/internal/jobs"
	"orca/internal/jobs/jobstest"
	"orca/internal/queues"
	"orca/internal/queues/queuestest"
	"orca/internal/retry"
	"orca/internal/status"
)

const (
	reportBucket = "orca-reports"
	manifestKey  = "orca-archive/inventory/2024-01-01T01-00Z/manifest.json"
	partKey      = "orca-archive/inventory/data/part-1.csv.gz"
)

type fixture struct {
	sqs    *queuestest.MockSQSClient
	s3     *filestest.MockS3Client
	store  *jobstest.FakeStore
	policy retry.Policy
	lister *archiveLister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy := retry.NewPolicy(zerolog.Nop())
	policy.Base = 0
	policy.MaxJitter = 0

	f := &fixture{
		sqs:    queuestest.NewMockSQSClient(),
		s3:     filestest.NewMockS3Client(),
		store:  jobstest.NewFakeStore(),
		policy: policy,
	}
	f.lister = &archiveLister{
		queue:      queues.NewQueue(f.sqs, "https://sqs.example/orca.fifo", policy, zerolog.Nop()),
		reader:     inventory.NewReader(f.s3, policy, zerolog.Nop()),
		controller: jobs.NewController(f.store, policy, zerolog.Nop()),
		logger:     zerolog.Nop(),
	}
	return f
}

// existingClaim reports a job already created for every inventory.
type existingClaim struct {
	jobID int64
}

func (c existingClaim) Claim(ctx context.Context, source string, ts float64) (int64, bool, error) {
	return c.jobID, false, nil
}

func (c existingClaim) Complete(ctx context.Context, source string, ts float64, jobID int64) error {
	return nil
}

func (c existingClaim) Release(ctx context.Context, source string, ts float64) error {
	return nil
}

// seedClaimedJob stores a job at s and makes the handler's claims point at it.
func (f *fixture) seedClaimedJob(t *testing.T, s status.OrcaStatus) int64 {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	id, err := f.store.InsertJob(ctx, "orca-archive", now, status.GettingS3List, now)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateJob(ctx, id, jobs.JobUpdate{Status: s, LastUpdate: now}))
	f.store.InsertCalls = 0
	f.store.UpdateCalls = 0

	f.lister.controller = jobs.NewController(f.store, f.policy, zerolog.Nop(), jobs.WithClaims(existingClaim{jobID: id}))
	return id
}

func (f *fixture) queueTrigger(t *testing.T, key string) {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"reportBucketRegion": "us-west-2",
		"reportBucketName":   reportBucket,
		"manifestKey":        key,
	})
	require.NoError(t, err)
	f.sqs.AddMessage("m1", string(body))
}

func (f *fixture) addManifest(t *testing.T, fileSchema string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"sourceBucket":      "orca-archive",
		"destinationBucket": "arn:aws:s3:::" + reportBucket,
		"creationTimestamp": "1700000000000",
		"fileFormat":        "CSV",
		"fileSchema":        fileSchema,
		"files":             []map[string]any{{"key": partKey, "size": 100}},
	})
	require.NoError(t, err)
	f.s3.AddObject(reportBucket, manifestKey, &filestest.Object{Body: body})
	f.s3.AddObject(reportBucket, partKey, &filestest.Object{Body: []byte("x"), ContentEncoding: "gzip"})
}

func TestHandle_StagesInventory(t *testing.T) {
	f := newFixture(t)
	f.queueTrigger(t, manifestKey)
	f.addManifest(t, "Bucket, Key, Size, LastModifiedDate, ETag, StorageClass")

	out, err := f.lister.handle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "orca-archive", out.OrcaArchiveLocation)
	job := f.store.Job(out.JobID)
	require.NotNil(t, job)
	assert.Equal(t, status.Staged, job.Status)
	assert.Equal(t, "orca-archive", job.ReportSource)

	require.Len(t, f.store.Staged, 1)
	staged := f.store.Staged[0]
	assert.Equal(t, out.JobID, staged.JobID)
	assert.Equal(t, "us-west-2", staged.Region)
	require.Len(t, staged.Parts, 1)
	assert.Equal(t, partKey, staged.Parts[0].Key)

	assert.Equal(t, []string{"receipt-m1"}, f.sqs.Deleted)
}

func TestHandle_InvalidManifestIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.queueTrigger(t, manifestKey)
	f.addManifest(t, "Bucket, Key")

	_, err := f.lister.handle(context.Background())
	assert.ErrorIs(t, err, inventory.ErrManifestValidation)

	assert.Empty(t, f.store.Jobs)
	assert.Equal(t, []string{"receipt-m1"}, f.sqs.Deleted)
}

func TestHandle_StagingFailureEndsJobInError(t *testing.T) {
	f := newFixture(t)
	f.queueTrigger(t, manifestKey)
	f.addManifest(t, "Bucket, Key, Size, LastModifiedDate, ETag, StorageClass")
	f.store.StageErrors = []error{
		retry.Permanent(assert.AnError),
	}

	_, err := f.lister.handle(context.Background())
	require.ErrorIs(t, err, jobs.ErrStagingImport)

	require.Len(t, f.store.Jobs, 1)
	job := f.store.Job(1)
	assert.Equal(t, status.Error, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, assert.AnError.Error())
	assert.Equal(t, []string{"receipt-m1"}, f.sqs.Deleted)
}

func TestHandle_EmptyQueue(t *testing.T) {
	f := newFixture(t)

	_, err := f.lister.handle(context.Background())
	assert.ErrorIs(t, err, queues.ErrEmptyQueue)
	assert.Empty(t, f.store.Jobs)
}

func TestHandle_RedeliveryLeavesRunningJobAlone(t *testing.T) {
	for _, s := range []status.OrcaStatus{status.GeneratingReports, status.Success, status.Error} {
		t.Run(s.String(), func(t *testing.T) {
			f := newFixture(t)
			f.queueTrigger(t, manifestKey)
			f.addManifest(t, "Bucket, Key, Size, LastModifiedDate, ETag, StorageClass")
			id := f.seedClaimedJob(t, s)

			_, err := f.lister.handle(context.Background())
			assert.ErrorIs(t, err, jobs.ErrJobAlreadyStarted)

			job := f.store.Job(id)
			assert.Equal(t, s, job.Status)
			assert.Nil(t, job.ErrorMessage)
			assert.Zero(t, f.store.StageCalls)
			assert.Zero(t, f.store.UpdateCalls)
			assert.Zero(t, f.store.InsertCalls)
			assert.Equal(t, []string{"receipt-m1"}, f.sqs.Deleted)
		})
	}
}

func TestHandle_RedeliveryHandsOnStagedJob(t *testing.T) {
	f := newFixture(t)
	f.queueTrigger(t, manifestKey)
	f.addManifest(t, "Bucket, Key, Size, LastModifiedDate, ETag, StorageClass")
	id := f.seedClaimedJob(t, status.Staged)

	out, err := f.lister.handle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Output{JobID: id, OrcaArchiveLocation: "orca-archive"}, out)
	assert.Equal(t, status.Staged, f.store.Job(id).Status)
	assert.Zero(t, f.store.StageCalls)
	assert.Zero(t, f.store.UpdateCalls)
	assert.Equal(t, []string{"receipt-m1"}, f.sqs.Deleted)
}

func TestHandle_RedeliveryRestagesUnfinishedJob(t *testing.T) {
	f := newFixture(t)
	f.queueTrigger(t, manifestKey)
	f.addManifest(t, "Bucket, Key, Size, LastModifiedDate, ETag, StorageClass")
	id := f.seedClaimedJob(t, status.GettingS3List)

	out, err := f.lister.handle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, id, out.JobID)
	assert.Equal(t, status.Staged, f.store.Job(id).Status)
	assert.Equal(t, 1, f.store.StageCalls)
	assert.Zero(t, f.store.InsertCalls)
	assert.Equal(t, []string{"receipt-m1"}, f.sqs.Deleted)
}
