package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orca/internal/inventory"
	"orca/internal/jobs"
	"orca/internal/jobs/jobstest"
	"orca/internal/retry"
	"orca/internal/status"
)

var fixedNow = time.Date(2023, 11, 15, 3, 4, 5, 0, time.UTC)

func testController(store jobs.Store, opts ...jobs.Option) *jobs.Controller {
	policy := retry.NewPolicy(zerolog.Nop())
	policy.Base = 0
	policy.MaxJitter = 0
	opts = append([]jobs.Option{jobs.WithClock(func() time.Time { return fixedNow })}, opts...)
	return jobs.NewController(store, policy, zerolog.Nop(), opts...)
}

func strPtr(s string) *string { return &s }

func TestController_CreateThenSucceed(t *testing.T) {
	store := jobstest.NewFakeStore()
	ctrl := testController(store)
	ctx := context.Background()

	cursor, _, err := ctrl.CreateJob(ctx, "us-west-2", 1700000000.0)
	require.NoError(t, err)

	job, err := ctrl.GetJob(ctx, cursor)
	require.NoError(t, err)
	assert.Equal(t, status.GettingS3List, job.Status)
	assert.Equal(t, "us-west-2", job.ReportSource)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), job.InventoryCreationTime)
	assert.Nil(t, job.EndTime)
	assert.Nil(t, job.ErrorMessage)

	require.NoError(t, ctrl.UpdateJob(ctx, cursor, status.Success, nil))

	job, err = ctrl.GetJob(ctx, cursor)
	require.NoError(t, err)
	assert.Equal(t, status.Success, job.Status)
	require.NotNil(t, job.EndTime)
	assert.Equal(t, fixedNow, *job.EndTime)
	assert.Equal(t, fixedNow, job.LastUpdate)
	assert.Nil(t, job.ErrorMessage)
}

func TestController_ErrorRequiresMessage(t *testing.T) {
	store := jobstest.NewFakeStore()
	ctrl := testController(store)
	ctx := context.Background()

	cursor, _, err := ctrl.CreateJob(ctx, "us-west-2", 1700000000.0)
	require.NoError(t, err)

	err = ctrl.UpdateJob(ctx, cursor, status.Error, nil)
	assert.ErrorIs(t, err, status.ErrErrorMessageRequired)

	err = ctrl.UpdateJob(ctx, cursor, status.Error, strPtr(""))
	assert.ErrorIs(t, err, status.ErrErrorMessageRequired)

	assert.Equal(t, 0, store.UpdateCalls)
	assert.Equal(t, status.GettingS3List, store.Job(cursor.JobID).Status)
}

func TestController_MessageForbiddenOutsideError(t *testing.T) {
	store := jobstest.NewFakeStore()
	ctrl := testController(store)
	ctx := context.Background()

	cursor, _, err := ctrl.CreateJob(ctx, "us-west-2", 1700000000.0)
	require.NoError(t, err)

	for _, s := range []status.OrcaStatus{status.Staged, status.GeneratingReports, status.Success} {
		err := ctrl.UpdateJob(ctx, cursor, s, strPtr("oops"))
		assert.ErrorIs(t, err, status.ErrErrorMessageForbidden, s.String())
	}
	assert.Equal(t, 0, store.UpdateCalls)
}

func TestController_FailJob(t *testing.T) {
	store := jobstest.NewFakeStore()
	ctrl := testController(store)
	ctx := context.Background()

	cursor, _, err := ctrl.CreateJob(ctx, "orca-archive", 1700000000.5)
	require.NoError(t, err)
	require.NoError(t, ctrl.UpdateJob(ctx, cursor, status.Staged, nil))

	require.NoError(t, ctrl.FailJob(ctx, cursor, errors.New("import exploded")))

	job := store.Job(cursor.JobID)
	assert.Equal(t, status.Error, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "import exploded", *job.ErrorMessage)
	assert.NotNil(t, job.EndTime)

	err = ctrl.UpdateJob(ctx, cursor, status.Success, nil)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestController_RejectsBackwardTransition(t *testing.T) {
	store := jobstest.NewFakeStore()
	ctrl := testController(store)
	ctx := context.Background()

	cursor, _, err := ctrl.CreateJob(ctx, "orca-archive", 1700000000)
	require.NoError(t, err)
	require.NoError(t, ctrl.UpdateJob(ctx, cursor, status.GeneratingReports, nil))

	err = ctrl.UpdateJob(ctx, cursor, status.Staged, nil)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestController_CreateJobValidation(t *testing.T) {
	ctrl := testController(jobstest.NewFakeStore())
	ctx := context.Background()

	_, _, err := ctrl.CreateJob(ctx, "", 1700000000)
	assert.ErrorIs(t, err, jobs.ErrMissingSource)

	_, _, err = ctrl.CreateJob(ctx, "orca-archive", 0)
	assert.ErrorIs(t, err, jobs.ErrInvalidTimestamp)
}

func TestController_UnknownJob(t *testing.T) {
	store := jobstest.NewFakeStore()
	ctrl := testController(store)

	err := ctrl.UpdateJob(context.Background(), jobs.JobCursor{JobID: 42}, status.Staged, nil)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	err = ctrl.UpdateJob(context.Background(), jobs.JobCursor{}, status.Staged, nil)
	assert.ErrorIs(t, err, jobs.ErrInvalidJobCursor)
}

func TestController_RetriesTransientInsert(t *testing.T) {
	store := jobstest.NewFakeStore()
	store.InsertErrors = []error{errors.New("connection reset")}
	ctrl := testController(store)

	cursor, _, err := ctrl.CreateJob(context.Background(), "orca-archive", 1700000000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor.JobID)
	assert.Equal(t, 2, store.InsertCalls)
}

type fakeClaims struct {
	existing  int64
	claimed   bool
	claimErrs []error
	completed map[int64]bool
	released  int
}

func (f *fakeClaims) Claim(ctx context.Context, source string, ts float64) (int64, bool, error) {
	if len(f.claimErrs) > 0 {
		err := f.claimErrs[0]
		f.claimErrs = f.claimErrs[1:]
		return 0, false, err
	}
	return f.existing, f.claimed, nil
}

func (f *fakeClaims) Complete(ctx context.Context, source string, ts float64, jobID int64) error {
	if f.completed == nil {
		f.completed = make(map[int64]bool)
	}
	f.completed[jobID] = true
	return nil
}

func (f *fakeClaims) Release(ctx context.Context, source string, ts float64) error {
	f.released++
	f.claimed = true
	return nil
}

func TestController_CreateJobWithClaims(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim creates job", func(t *testing.T) {
		store := jobstest.NewFakeStore()
		claims := &fakeClaims{claimed: true}
		cursor, created, err := testController(store, jobs.WithClaims(claims)).CreateJob(ctx, "orca-archive", 1700000000)
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, claims.completed[cursor.JobID])
		assert.Equal(t, 1, store.InsertCalls)
	})

	t.Run("duplicate reuses existing job", func(t *testing.T) {
		store := jobstest.NewFakeStore()
		claims := &fakeClaims{existing: 7}
		cursor, created, err := testController(store, jobs.WithClaims(claims)).CreateJob(ctx, "orca-archive", 1700000000)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(7), cursor.JobID)
		assert.Equal(t, 0, store.InsertCalls)
	})

	t.Run("claim without job id is in progress", func(t *testing.T) {
		store := jobstest.NewFakeStore()
		_, _, err := testController(store, jobs.WithClaims(&fakeClaims{})).CreateJob(ctx, "orca-archive", 1700000000)
		assert.ErrorIs(t, err, jobs.ErrJobClaimInProgress)
		assert.Equal(t, 0, store.InsertCalls)
	})

	t.Run("transient claim error is retried", func(t *testing.T) {
		store := jobstest.NewFakeStore()
		claims := &fakeClaims{claimed: true, claimErrs: []error{errors.New("throttled")}}
		_, created, err := testController(store, jobs.WithClaims(claims)).CreateJob(ctx, "orca-archive", 1700000000)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 1, store.InsertCalls)
	})
}

func TestController_FailedInsertReleasesClaim(t *testing.T) {
	ctx := context.Background()
	store := jobstest.NewFakeStore()
	outage := errors.New("connection refused")
	store.InsertErrors = []error{outage, outage, outage, outage}
	claims := &fakeClaims{claimed: true}
	ctrl := testController(store, jobs.WithClaims(claims))

	_, _, err := ctrl.CreateJob(ctx, "orca-archive", 1700000000)
	require.ErrorIs(t, err, outage)
	assert.Equal(t, 1, claims.released)
	assert.Empty(t, claims.completed)

	cursor, created, err := ctrl.CreateJob(ctx, "orca-archive", 1700000000)
	require.NoError(t, err, "redelivery after the outage creates the job")
	assert.True(t, created)
	assert.True(t, claims.completed[cursor.JobID])
}

func TestController_GetCurrentArchiveList(t *testing.T) {
	store := jobstest.NewFakeStore()
	ctrl := testController(store)
	ctx := context.Background()

	cursor, _, err := ctrl.CreateJob(ctx, "orca-archive", 1700000000)
	require.NoError(t, err)

	manifest := &inventory.Manifest{
		SourceBucket:      "orca-archive",
		DestinationBucket: "arn:aws:s3:::orca-reports",
		FileSchema:        "Bucket, Key, Size, LastModifiedDate, ETag, StorageClass, IsLatest",
		Files: []inventory.InventoryFile{
			{Key: "inv/data/a.csv.gz"},
			{Key: "inv/data/b.csv.gz"},
		},
	}

	require.NoError(t, ctrl.GetCurrentArchiveList(ctx, cursor, manifest, "us-west-2"))

	require.Len(t, store.Staged, 1)
	imp := store.Staged[0]
	assert.Equal(t, cursor.JobID, imp.JobID)
	assert.Equal(t, "us-west-2", imp.Region)
	assert.Equal(t, []string{"bucket", "key", "size_in_bytes", "last_update", "etag", "storage_class", "is_latest"}, imp.Columns)
	require.Len(t, imp.Parts, 2)
	assert.Equal(t, "orca-reports", imp.Parts[0].Bucket)
	assert.Equal(t, "inv/data/b.csv.gz", imp.Parts[1].Key)
}

func TestController_GetCurrentArchiveListFailure(t *testing.T) {
	store := jobstest.NewFakeStore()
	failure := errors.New("could not load from s3")
	store.StageErrors = []error{failure, failure, failure, failure}
	ctrl := testController(store)
	ctx := context.Background()

	cursor, _, err := ctrl.CreateJob(ctx, "orca-archive", 1700000000)
	require.NoError(t, err)

	manifest := &inventory.Manifest{
		FileSchema: "Bucket, Key, Size, LastModifiedDate, ETag, StorageClass",
		Files:      []inventory.InventoryFile{{Key: "a.csv.gz"}},
	}
	err = ctrl.GetCurrentArchiveList(ctx, cursor, manifest, "us-west-2")
	assert.ErrorIs(t, err, jobs.ErrStagingImport)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 4, store.StageCalls)

	manifest.FileSchema = "Bucket, Key"
	err = ctrl.GetCurrentArchiveList(ctx, cursor, manifest, "us-west-2")
	assert.ErrorIs(t, err, inventory.ErrManifestValidation)
	assert.Equal(t, 4, store.StageCalls)
}

func TestSecondsToTime(t *testing.T) {
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), jobs.SecondsToTime(1700000000.123))
	assert.Equal(t, time.UTC, jobs.SecondsToTime(1).Location())
}
