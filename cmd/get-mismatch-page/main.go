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

var (
	logger zerolog.Logger
	reader *reports.Reader
)

func init() {
	logger = logging.New("get-mismatch-page", os.Getenv("LOG_LEVEL"))
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

// handler returns a page of mismatches, or the error envelope.
func handler(ctx context.Context, req reports.PageRequest) (any, error) {
	log := logging.ForInvocation(ctx, logger)

	page, err := reader.GetMismatchPage(ctx, req)
	if err != nil {
		env := apierrors.FromError(ctx, err)
		log.Error().Err(err).Int("httpStatus", env.HTTPStatus).Int64("jobId", req.JobID).Msg("Failed to read mismatch page")
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
