package main

import (
	"context"
	"errors"
	"testing"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orca/internal/queues"
	"orca/internal/queues/queuestest"
	"orca/internal/retry"
)

const s3Notification = `{
  "Records": [{
    "eventName": "ObjectCreated:Put",
    "awsRegion": "us-west-2",
    "s3": {
      "bucket": {"name": "orca-reports"},
      "object": {"key": "orca-archive/inventory/2024-01-01T01-00Z/manifest.json"}
    }
  }]
}`

const partNotification = `{
  "Records": [{
    "eventName": "ObjectCreated:Put",
    "awsRegion": "us-west-2",
    "s3": {
      "bucket": {"name": "orca-reports"},
      "object": {"key": "orca-archive/inventory/data/part-1.csv.gz"}
    }
  }]
}`

func setup(t *testing.T) *queuestest.MockSQSClient {
	t.Helper()
	client := queuestest.NewMockSQSClient()
	policy := retry.NewPolicy(zerolog.Nop())
	policy.Base = 0
	policy.MaxJitter = 0
	policy.MaxRetries = 0
	logger = zerolog.Nop()
	queue = queues.NewQueue(client, "https://sqs.example/orca.fifo", policy, logger)
	return client
}

func TestHandler_QueuesManifestTriggers(t *testing.T) {
	client := setup(t)

	resp, err := handler(context.Background(), awsevents.SQSEvent{Records: []awsevents.SQSMessage{
		{MessageId: "m1", Body: s3Notification},
		{MessageId: "m2", Body: partNotification},
		{MessageId: "m3", Body: "not json"},
	}})
	require.NoError(t, err)

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m3", resp.BatchItemFailures[0].ItemIdentifier)

	require.Len(t, client.Sent, 1)
	assert.JSONEq(t, `{
		"reportBucketRegion": "us-west-2",
		"reportBucketName": "orca-reports",
		"manifestKey": "orca-archive/inventory/2024-01-01T01-00Z/manifest.json"
	}`, aws.ToString(client.Sent[0].MessageBody))
	assert.Equal(t, queues.MessageGroupId, aws.ToString(client.Sent[0].MessageGroupId))
}

func TestHandler_PostFailureIsBatchFailure(t *testing.T) {
	client := setup(t)
	client.SendErrors = []error{errors.New("sqs unavailable")}

	resp, err := handler(context.Background(), awsevents.SQSEvent{Records: []awsevents.SQSMessage{
		{MessageId: "m1", Body: s3Notification},
	}})
	require.NoError(t, err)

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)
}
