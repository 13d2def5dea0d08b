package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"orca/internal/accounts"
	orcaconfig "orca/internal/config"
	"orca/internal/db"
	"orca/internal/jobs"
	"orca/internal/logging"
	"orca/internal/metrics"
	"orca/internal/notifications"
	"orca/internal/reconcile"
	orcaretry "orca/internal/retry"
	"orca/internal/templates"
)

type Input struct {
	JobID               int64  `json:"jobId"`
	OrcaArchiveLocation string `json:"orcaArchiveLocation"`
}

type Output struct {
	JobID int64 `json:"jobId"`
}

var (
	//go:embed templates/job-failure.txt
	jobFailureTemplate string

	logger      zerolog.Logger
	awsConfig   aws.Config
	retryPolicy orcaretry.Policy
	engine      *reconcile.Engine
)

func init() {
	logger = logging.New("perform-orca-reconcile", os.Getenv("LOG_LEVEL"))

	var err error
	awsConfig, err = config.LoadDefaultConfig(context.Background(),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 5)
		}),
	)
	if err != nil {
		panic(fmt.Sprintf("Unable to load AWS config: %v", err))
	}

	retryPolicy, err = orcaconfig.RetryPolicy(logger)
	if err != nil {
		panic(fmt.Sprintf("Invalid retry settings: %v", err))
	}
}

func connect(ctx context.Context) error {
	info, err := orcaconfig.LoadDBConnectInfo()
	if err != nil {
		return err
	}
	sqlDB, err := db.Open(ctx, info, retryPolicy, logger)
	if err != nil {
		return err
	}

	jobStore := jobs.NewPostgresStore(sqlDB, logger)
	controller := jobs.NewController(jobStore, retryPolicy, logger)

	opts := []reconcile.Option{
		reconcile.WithMetrics(metrics.NewPublisher(cloudwatch.NewFromConfig(awsConfig), os.Getenv("METRICS_NAMESPACE"))),
	}

	if topic := os.Getenv("FAILURE_TOPIC_ARN"); topic != "" {
		tmpl, err := templates.Parse("job-failure", jobFailureTemplate)
		if err != nil {
			return fmt.Errorf("failed to parse job failure template: %w", err)
		}
		account, err := accounts.GetAccountID(ctx, sts.NewFromConfig(awsConfig))
		if err != nil {
			logger.Warn().Err(err).Msg("Unable to resolve account id for notifications")
		}
		notifier := notifications.NewJobFailureNotifier(sns.NewFromConfig(awsConfig), topic, account, os.Getenv("STACK_NAME"), tmpl, logger)
		opts = append(opts, reconcile.WithNotifier(notifier))
	}

	engine = reconcile.NewEngine(controller, reconcile.NewPostgresStore(sqlDB, logger), jobStore, retryPolicy, logger, opts...)
	return nil
}

func handler(ctx context.Context, input Input) (Output, error) {
	log := logging.ForInvocation(ctx, logger)
	log.Info().Int64("jobId", input.JobID).Str("orcaArchiveLocation", input.OrcaArchiveLocation).Msg("Starting reconciliation")

	if _, err := engine.Run(ctx, jobs.JobCursor{JobID: input.JobID}, input.OrcaArchiveLocation); err != nil {
		return Output{}, err
	}
	return Output{JobID: input.JobID}, nil
}

func main() {
	if err := connect(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Unable to connect to catalog database")
	}
	lambda.Start(handler)
}
