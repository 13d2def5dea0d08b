package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	orcaconfig "orca/internal/config"
	"orca/internal/logging"
	"orca/internal/queues"
)

var (
	logger zerolog.Logger
	queue  *queues.Queue
)

func init() {
	logger = logging.New("post-inventory-to-queue", os.Getenv("LOG_LEVEL"))

	awsConfig, err := config.LoadDefaultConfig(context.Background(),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 5)
		}),
	)
	if err != nil {
		panic(fmt.Sprintf("Unable to load AWS config: %v", err))
	}

	policy, err := orcaconfig.RetryPolicy(logger)
	if err != nil {
		panic(fmt.Sprintf("Invalid retry settings: %v", err))
	}

	queue = queues.NewQueue(sqs.NewFromConfig(awsConfig), os.Getenv("TARGET_QUEUE_URL"), policy, logger)
}

func handler(ctx context.Context, event awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
	log := logging.ForInvocation(ctx, logger)

	triggers, failedEvents := queues.UnwrapInventoryNotifications(event, log)

	for _, t := range triggers {
		body, err := json.Marshal(t.Trigger)
		if err != nil {
			return awsevents.SQSEventResponse{}, err
		}

		if err := queue.Post(ctx, string(body), queues.MethodPost); err != nil {
			log.Error().Err(err).Str("messageId", t.MessageId).Msg("Failed to queue inventory manifest")
			failedEvents = append(failedEvents, awsevents.SQSBatchItemFailure{ItemIdentifier: t.MessageId})
			continue
		}

		log.Info().
			Str("bucket", t.ReportBucketName).
			Str("manifestKey", t.ManifestKey).
			Msg("Queued inventory manifest for reconciliation")
	}

	return awsevents.SQSEventResponse{BatchItemFailures: failedEvents}, nil
}

func main() {
	lambda.Start(handler)
}
