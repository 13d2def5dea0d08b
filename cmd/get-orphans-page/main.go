package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"orca/internal/apierrors"
	orcaconfig "orca/internal/config"
	"orca/internal/db"
	"orca/internal/logging"
	"orca/internal/reports"
)

// Request pages orphans by a 0-based index of fixed-size pages. A non-empty
// Cursor switches to keyset paging with Direction and Limit.
type Request struct {
	JobID     int64             `json:"jobId"`
	PageIndex int               `json:"pageIndex"`
	Cursor    string            `json:"cursor,omitempty"`
	Direction reports.Direction `json:"direction,omitempty"`
	Limit     int               `json:"limit,omitempty"`
}

var (
	logger zerolog.Logger
	reader *reports.Reader
)

func init() {
	logger = logging.New("get-orphans-page", os.Getenv("LOG_LEVEL"))
}

func connect(ctx context.Context) error {
	policy, err := orcaconfig.RetryPolicy(logger)
	if err != nil {
		return err
	}
	info, err := orcaconfig.LoadDBConnectInfo()
	if err != nil {
		return err
	}
	sqlDB, err := db.Open(ctx, info, policy, logger)
	if err != nil {
		return err
	}
	reader = reports.NewReader(reports.NewPostgresStore(sqlDB), db.RetryPolicy(policy), logger)
	return nil
}

func readOrphans(ctx context.Context, r *reports.Reader, req Request) (reports.OrphanPage, error) {
	if req.Cursor != "" {
		return r.GetOrphanPage(ctx, reports.PageRequest{
			JobID:     req.JobID,
			Cursor:    req.Cursor,
			Direction: req.Direction,
			Limit:     req.Limit,
		})
	}
	return r.GetOrphansByIndex(ctx, req.JobID, req.PageIndex)
}

// handler returns a page of orphans, or the error envelope.
func handler(ctx context.Context, req Request) (any, error) {
	log := logging.ForInvocation(ctx, logger)

	page, err := readOrphans(ctx, reader, req)
	if err != nil {
		env := apierrors.FromError(ctx, err)
		log.Error().Err(err).Int("httpStatus", env.HTTPStatus).Int64("jobId", req.JobID).Msg("Failed to read orphan page")
		return env, nil
	}
	return page, nil
}

func main() {
	if err := connect(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Unable to connect to catalog database")
	}
	lambda.Start(handler)
}
