package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"orca/internal/db"
	"orca/internal/jobs"
	"orca/internal/retry"
	"orca/internal/status"
)

type JobUpdater interface {
	GetJob(ctx context.Context, cursor jobs.JobCursor) (jobs.Job, error)
	UpdateJob(ctx context.Context, cursor jobs.JobCursor, s status.OrcaStatus, errorMessage *string) error
	FailJob(ctx context.Context, cursor jobs.JobCursor, cause error) error
}

// Store runs a full comparison for a job and persists its reports
// atomically: either every report row is written or none is.
type Store interface {
	Compare(ctx context.Context, jobID int64, reportSource string) (Counts, error)
}

type StagingDropper interface {
	DropStagingTable(ctx context.Context, jobID int64) error
}

type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, jobID int64, reportSource string, cause error) error
}

type MetricsPublisher interface {
	PublishCounts(ctx context.Context, jobID int64, reportSource string, counts Counts) error
}

type Engine struct {
	jobs     JobUpdater
	store    Store
	staging  StagingDropper
	notifier FailureNotifier
	metrics  MetricsPublisher
	retry    retry.Policy
	logger   zerolog.Logger
}

type Option func(*Engine)

func WithNotifier(n FailureNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m MetricsPublisher) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(jobUpdater JobUpdater, store Store, staging StagingDropper, policy retry.Policy, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		jobs:    jobUpdater,
		store:   store,
		staging: staging,
		retry:   db.RetryPolicy(policy),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run moves the job to GENERATING_REPORTS, writes its three reports and
// finishes the job as SUCCESS. Any failure after the job has started
// generating ends it in ERROR with the failure as its message. The staging
// table is dropped either way. An empty reportSource means the job's own; any
// other value must match it.
func (e *Engine) Run(ctx context.Context, cursor jobs.JobCursor, reportSource string) (Counts, error) {
	job, err := e.jobs.GetJob(ctx, cursor)
	if err != nil {
		return Counts{}, err
	}
	if reportSource == "" {
		reportSource = job.ReportSource
	}
	if reportSource != job.ReportSource {
		return Counts{}, ErrorReportSourceMismatch(cursor.JobID, reportSource, job.ReportSource)
	}

	log := e.logger.With().Int64("jobId", cursor.JobID).Str("reportSource", reportSource).Logger()

	if err := e.jobs.UpdateJob(ctx, cursor, status.GeneratingReports, nil); err != nil {
		if errors.Is(err, status.ErrInvalidTransition) || errors.Is(err, jobs.ErrJobNotFound) {
			return Counts{}, err
		}
		return Counts{}, e.fail(ctx, log, cursor, reportSource, err)
	}

	log.Info().Msg("Generating reconciliation reports")
	counts, err := retry.DoWithData(ctx, e.retry, "generate reports", func(ctx context.Context) (Counts, error) {
		return e.store.Compare(ctx, cursor.JobID, reportSource)
	})

	if dropErr := e.staging.DropStagingTable(ctx, cursor.JobID); dropErr != nil {
		log.Warn().Err(dropErr).Msg("Failed to drop staging table")
	}

	if err != nil {
		return Counts{}, e.fail(ctx, log, cursor, reportSource, err)
	}

	if err := e.jobs.UpdateJob(ctx, cursor, status.Success, nil); err != nil {
		return Counts{}, e.fail(ctx, log, cursor, reportSource, err)
	}

	log.Info().
		Int("mismatches", counts.Mismatches).
		Int("phantoms", counts.Phantoms).
		Int("orphans", counts.Orphans).
		Msg("Reconciliation complete")

	if e.metrics != nil {
		if err := e.metrics.PublishCounts(ctx, cursor.JobID, reportSource, counts); err != nil {
			log.Warn().Err(err).Msg("Failed to publish report metrics")
		}
	}
	return counts, nil
}

func (e *Engine) fail(ctx context.Context, log zerolog.Logger, cursor jobs.JobCursor, reportSource string, cause error) error {
	log.Error().Err(cause).Msg("Reconciliation failed")

	if err := e.jobs.FailJob(ctx, cursor, cause); err != nil {
		log.Error().Err(err).Msg("Failed to record job error")
	}

	if e.notifier != nil {
		if err := e.notifier.NotifyJobFailure(ctx, cursor.JobID, reportSource, cause); err != nil {
			log.Warn().Err(err).Msg("Failed to send failure notification")
		}
	}
	return cause
}
