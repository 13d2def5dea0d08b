package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"orca/internal/claims"
	orcaconfig "orca/internal/config"
	"orca/internal/db"
	"orca/internal/events"
	"orca/internal/files"
	"orca/internal/inventory"
	"orca/internal/jobs"
	"orca/internal/logging"
	"orca/internal/queues"
	orcaretry "orca/internal/retry"
	"orca/internal/status"
)

// Output is handed to perform-orca-reconcile.
type Output struct {
	JobID               int64  `json:"jobId"`
	OrcaArchiveLocation string `json:"orcaArchiveLocation"`
}

type archiveLister struct {
	queue      *queues.Queue
	reader     *inventory.Reader
	controller *jobs.Controller
	logger     zerolog.Logger
}

var (
	logger       zerolog.Logger
	awsConfig    aws.Config
	retryPolicy  orcaretry.Policy
	lister       *archiveLister
	claimTable   string
	queueURL     string
	dynamoClient *dynamodb.Client
	s3Client     *s3.Client
	sqsClient    *sqs.Client
)

func init() {
	logger = logging.New("get-current-archive-list", os.Getenv("LOG_LEVEL"))

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

	queueURL = os.Getenv("INTERNAL_REPORT_QUEUE_URL")
	claimTable = os.Getenv("DYNAMODB_JOB_CLAIM_TABLE")
	s3Client = s3.NewFromConfig(awsConfig)
	sqsClient = sqs.NewFromConfig(awsConfig)
	dynamoClient = dynamodb.NewFromConfig(awsConfig)
}

// connect opens the catalog database and wires the handler's components.
func connect(ctx context.Context) error {
	info, err := orcaconfig.LoadDBConnectInfo()
	if err != nil {
		return err
	}
	sqlDB, err := db.Open(ctx, info, retryPolicy, logger)
	if err != nil {
		return err
	}

	var opts []jobs.Option
	if claimTable != "" {
		opts = append(opts, jobs.WithClaims(claims.NewTable(dynamoClient, claimTable, logger)))
	}

	lister = &archiveLister{
		queue:      queues.NewQueue(sqsClient, queueURL, retryPolicy, logger),
		reader:     inventory.NewReader(s3Client, retryPolicy, logger),
		controller: jobs.NewController(jobs.NewPostgresStore(sqlDB, logger), retryPolicy, logger, opts...),
		logger:     logger,
	}
	return nil
}

// unrecoverable reports whether a failed trigger can never succeed and
// should leave the queue.
func unrecoverable(err error) bool {
	return orcaretry.IsPermanent(err) ||
		errors.Is(err, inventory.ErrInvalidManifestName) ||
		errors.Is(err, inventory.ErrInvalidPartExtension) ||
		errors.Is(err, inventory.ErrManifestValidation) ||
		errors.Is(err, files.ErrObjectNotFound)
}

func (l *archiveLister) discard(ctx context.Context, log zerolog.Logger, msg queues.Message) {
	if err := l.queue.Delete(ctx, msg); err != nil {
		log.Error().Err(err).Str("messageId", msg.MessageId).Msg("Failed to delete queue message")
	}
}

func (l *archiveLister) handle(ctx context.Context) (Output, error) {
	log := logging.ForInvocation(ctx, l.logger)

	msg, err := l.queue.ReceiveOne(ctx)
	if err != nil {
		return Output{}, err
	}
	log = log.With().Str("messageId", msg.MessageId).Logger()

	trigger, err := events.ParseTrigger(msg.Body)
	if err != nil {
		log.Error().Err(err).Msg("Discarding malformed trigger")
		l.discard(ctx, log, msg)
		return Output{}, err
	}

	manifest, err := l.reader.Read(ctx, trigger.ManifestKey, trigger.ReportBucketName, trigger.ReportBucketRegion)
	if err != nil {
		if unrecoverable(err) {
			log.Error().Err(err).Str("manifestKey", trigger.ManifestKey).Msg("Discarding unusable inventory manifest")
			l.discard(ctx, log, msg)
		}
		return Output{}, err
	}

	cursor, created, err := l.controller.CreateJob(ctx, manifest.SourceBucket, manifest.CreationTimestamp.Seconds())
	if err != nil {
		return Output{}, err
	}
	log = log.With().Int64("jobId", cursor.JobID).Logger()
	output := Output{JobID: cursor.JobID, OrcaArchiveLocation: manifest.SourceBucket}

	if !created {
		job, err := l.controller.GetJob(ctx, cursor)
		if err != nil {
			return Output{}, err
		}
		if job.Status != status.GettingS3List {
			return l.redelivered(ctx, log, msg, job, output)
		}
		log.Warn().Msg("Restaging inventory for unfinished job")
	}

	err = l.controller.GetCurrentArchiveList(ctx, cursor, manifest, trigger.ReportBucketRegion)
	if err == nil {
		err = l.controller.UpdateJob(ctx, cursor, status.Staged, nil)
	}
	if err != nil {
		if errors.Is(err, status.ErrInvalidTransition) {
			log.Warn().Err(err).Msg("Job was advanced by another invocation")
			l.discard(ctx, log, msg)
			return Output{}, err
		}
		if failErr := l.controller.FailJob(ctx, cursor, err); failErr != nil {
			log.Error().Err(failErr).Msg("Failed to record job error")
		}
		l.discard(ctx, log, msg)
		return Output{}, err
	}

	if err := l.queue.Delete(ctx, msg); err != nil {
		return Output{}, err
	}

	log.Info().Str("orcaArchiveLocation", manifest.SourceBucket).Msg("Inventory staged for reconciliation")
	return output, nil
}

// redelivered settles a trigger whose job was already staged by an earlier
// delivery. A STAGED job is handed on again. A job further along is left
// alone.
func (l *archiveLister) redelivered(ctx context.Context, log zerolog.Logger, msg queues.Message, job jobs.Job, output Output) (Output, error) {
	if err := l.queue.Delete(ctx, msg); err != nil {
		return Output{}, err
	}
	if job.Status == status.Staged {
		log.Info().Msg("Inventory already staged, handing job on")
		return output, nil
	}
	log.Warn().Stringer("status", job.Status).Msg("Discarding trigger for job already past staging")
	return Output{}, jobs.ErrorJobAlreadyStarted(job.ID, job.Status)
}

func handler(ctx context.Context) (Output, error) {
	return lister.handle(ctx)
}

func main() {
	if err := connect(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Unable to connect to catalog database")
	}
	lambda.Start(handler)
}
