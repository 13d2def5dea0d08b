// Package jobs owns the reconciliation job lifecycle and the staging import
// of an inventory into the catalog database.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"orca/internal/db"
	"orca/internal/files"
	"orca/internal/inventory"
	"orca/internal/retry"
	"orca/internal/status"
)

// JobCursor identifies a job to the steps that follow its creation.
type JobCursor struct {
	JobID int64 `json:"jobId"`
}

func (c JobCursor) Validate() error {
	if c.JobID <= 0 {
		return ErrorInvalidJobCursor(c.JobID)
	}
	return nil
}

type Job struct {
	ID                    int64
	ReportSource          string
	InventoryCreationTime time.Time
	Status                status.OrcaStatus
	StartTime             time.Time
	LastUpdate            time.Time
	EndTime               *time.Time
	ErrorMessage          *string
}

// JobUpdate is the full set of mutable job fields written by an update.
type JobUpdate struct {
	Status       status.OrcaStatus
	LastUpdate   time.Time
	EndTime      *time.Time
	ErrorMessage *string
}

// StagingImport describes one bulk import of inventory part files.
type StagingImport struct {
	JobID   int64
	Columns []string
	Parts   []files.S3Object
	Region  string
}

type Store interface {
	InsertJob(ctx context.Context, reportSource string, inventoryCreationTime time.Time, s status.OrcaStatus, now time.Time) (int64, error)
	UpdateJob(ctx context.Context, id int64, update JobUpdate) error
	GetJob(ctx context.Context, id int64) (Job, error)
	StageInventory(ctx context.Context, imp StagingImport) error
}

// Claimer guards job creation against duplicate inventory notifications.
// Claim reports the job id already created for the inventory, if any.
// Release gives up a claim that never got a job.
type Claimer interface {
	Claim(ctx context.Context, reportSource string, creationTimestamp float64) (existingJobID int64, claimed bool, err error)
	Complete(ctx context.Context, reportSource string, creationTimestamp float64, jobID int64) error
	Release(ctx context.Context, reportSource string, creationTimestamp float64) error
}

type Controller struct {
	store   Store
	claims  Claimer
	retry   retry.Policy
	logger  zerolog.Logger
	nowFunc func() time.Time
}

type Option func(*Controller)

// WithClaims makes job creation idempotent per report source and inventory
// creation timestamp.
func WithClaims(c Claimer) Option {
	return func(ctrl *Controller) { ctrl.claims = c }
}

// WithClock replaces the wall clock used to stamp jobs.
func WithClock(now func() time.Time) Option {
	return func(ctrl *Controller) { ctrl.nowFunc = now }
}

func NewController(store Store, policy retry.Policy, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		retry:   db.RetryPolicy(policy).WithNonRetryable(ErrJobNotFound, ErrInvalidJobCursor, inventory.ErrManifestValidation),
		logger:  logger,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) now() time.Time {
	return c.nowFunc().UTC()
}

// CreateJob inserts a job at GETTING_S3_LIST for the inventory of
// reportSource created at creationTimestamp (seconds since the epoch).
// created is false when a claim already recorded a job for the inventory and
// that job is returned instead.
func (c *Controller) CreateJob(ctx context.Context, reportSource string, creationTimestamp float64) (JobCursor, bool, error) {
	if reportSource == "" {
		return JobCursor{}, false, ErrMissingSource
	}
	if creationTimestamp <= 0 || math.IsNaN(creationTimestamp) || math.IsInf(creationTimestamp, 0) {
		return JobCursor{}, false, ErrorInvalidTimestamp(creationTimestamp)
	}

	log := c.logger.With().
		Str("reportSource", reportSource).
		Float64("creationTimestamp", creationTimestamp).
		Logger()

	if c.claims != nil {
		existing, err := c.claim(ctx, reportSource, creationTimestamp)
		if err != nil {
			return JobCursor{}, false, err
		}
		if existing > 0 {
			log.Warn().Int64("jobId", existing).Msg("Job already exists for inventory, reusing it")
			return JobCursor{JobID: existing}, false, nil
		}
	}

	inventoryTime := SecondsToTime(creationTimestamp)
	now := c.now()

	id, err := retry.DoWithData(ctx, c.retry, "insert reconcile job", func(ctx context.Context) (int64, error) {
		return c.store.InsertJob(ctx, reportSource, inventoryTime, status.GettingS3List, now)
	})
	if err != nil {
		if c.claims != nil {
			c.release(ctx, log, reportSource, creationTimestamp)
		}
		return JobCursor{}, false, fmt.Errorf("failed to create job for %s: %w", reportSource, err)
	}

	if c.claims != nil {
		err := c.retry.Do(ctx, "complete job claim", func(ctx context.Context) error {
			return c.claims.Complete(ctx, reportSource, creationTimestamp, id)
		})
		if err != nil {
			log.Error().Err(err).Int64("jobId", id).Msg("Failed to record job id on claim")
		}
	}

	log.Info().Int64("jobId", id).Msg("Created reconciliation job")
	return JobCursor{JobID: id}, true, nil
}

// claim returns the job already recorded for the inventory, or zero when
// this caller now holds the claim.
func (c *Controller) claim(ctx context.Context, reportSource string, creationTimestamp float64) (int64, error) {
	type result struct {
		existing int64
		claimed  bool
	}
	r, err := retry.DoWithData(ctx, c.retry, "claim inventory", func(ctx context.Context) (result, error) {
		existing, claimed, err := c.claims.Claim(ctx, reportSource, creationTimestamp)
		return result{existing: existing, claimed: claimed}, err
	})
	if err != nil {
		return 0, err
	}
	if !r.claimed && r.existing <= 0 {
		return 0, ErrorJobClaimInProgress(reportSource, creationTimestamp)
	}
	return r.existing, nil
}

func (c *Controller) release(ctx context.Context, log zerolog.Logger, reportSource string, creationTimestamp float64) {
	err := c.retry.Do(ctx, "release job claim", func(ctx context.Context) error {
		return c.claims.Release(ctx, reportSource, creationTimestamp)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to release job claim")
	}
}

// UpdateJob moves the job to s. errorMessage is required for ERROR and
// forbidden otherwise. Terminal statuses also stamp the end time.
func (c *Controller) UpdateJob(ctx context.Context, cursor JobCursor, s status.OrcaStatus, errorMessage *string) error {
	if err := cursor.Validate(); err != nil {
		return err
	}
	if err := status.ValidateErrorMessage(s, errorMessage); err != nil {
		return err
	}

	current, err := c.GetJob(ctx, cursor)
	if err != nil {
		return err
	}
	if err := status.ValidateTransition(current.Status, s); err != nil {
		return err
	}

	now := c.now()
	update := JobUpdate{
		Status:       s,
		LastUpdate:   now,
		ErrorMessage: errorMessage,
	}
	if s.IsTerminal() {
		update.EndTime = &now
	}

	err = c.retry.Do(ctx, "update reconcile job", func(ctx context.Context) error {
		return c.store.UpdateJob(ctx, cursor.JobID, update)
	})
	if err != nil {
		return fmt.Errorf("failed to update job %d to %s: %w", cursor.JobID, s, err)
	}

	c.logger.Info().
		Int64("jobId", cursor.JobID).
		Stringer("from", current.Status).
		Stringer("to", s).
		Msg("Updated reconciliation job status")
	return nil
}

// FailJob records err on the job as its error message.
func (c *Controller) FailJob(ctx context.Context, cursor JobCursor, cause error) error {
	message := cause.Error()
	if message == "" {
		message = "unknown error"
	}
	return c.UpdateJob(ctx, cursor, status.Error, &message)
}

func (c *Controller) GetJob(ctx context.Context, cursor JobCursor) (Job, error) {
	if err := cursor.Validate(); err != nil {
		return Job{}, err
	}
	return retry.DoWithData(ctx, c.retry, "get reconcile job", func(ctx context.Context) (Job, error) {
		return c.store.GetJob(ctx, cursor.JobID)
	})
}

// GetCurrentArchiveList imports every part file of the manifest into the
// job's staging table. The import runs in one transaction, so a retry starts
// from an empty table.
func (c *Controller) GetCurrentArchiveList(ctx context.Context, cursor JobCursor, manifest *inventory.Manifest, region string) error {
	if err := cursor.Validate(); err != nil {
		return err
	}
	columns, err := inventory.StagingColumns(manifest.ParseFileSchema())
	if err != nil {
		return err
	}

	imp := StagingImport{
		JobID:   cursor.JobID,
		Columns: columns,
		Parts:   manifest.PartObjects(),
		Region:  region,
	}

	c.logger.Info().
		Int64("jobId", cursor.JobID).
		Int("parts", len(imp.Parts)).
		Str("region", region).
		Msg("Importing inventory into staging table")

	err = c.retry.Do(ctx, "stage inventory", func(ctx context.Context) error {
		return c.store.StageInventory(ctx, imp)
	})
	if err != nil {
		if errors.Is(err, ErrStagingImport) {
			return err
		}
		return ErrorStagingImport(cursor.JobID, err)
	}
	return nil
}

// SecondsToTime converts fractional epoch seconds to a UTC time truncated to
// the millisecond.
func SecondsToTime(seconds float64) time.Time {
	return time.UnixMilli(int64(math.Round(seconds * 1000))).UTC()
}
