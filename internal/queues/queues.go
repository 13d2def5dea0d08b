// Package queues moves reconciliation triggers through the internal FIFO queue.
package queues

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"orca/internal/retry"
)

// RequestMethod tags a queued message with the operation it requests.
type RequestMethod string

const (
	MethodPost RequestMethod = "post"
	MethodPut  RequestMethod = "put"

	MessageGroupId = "reconcile_request_group"
)

type SQSClientInterface interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Message is a received queue message.
type Message struct {
	MessageId     string
	ReceiptHandle string
	Body          string
}

// DeduplicationID is the FIFO deduplication id for body under method.
func DeduplicationID(body string, method RequestMethod) string {
	sum := sha256.Sum256([]byte(body + string(method)))
	return hex.EncodeToString(sum[:])
}

type Queue struct {
	client   SQSClientInterface
	queueURL string
	retry    retry.Policy
	logger   zerolog.Logger
}

func NewQueue(client SQSClientInterface, queueURL string, policy retry.Policy, logger zerolog.Logger) *Queue {
	return &Queue{
		client:   client,
		queueURL: queueURL,
		retry:    policy.WithNonRetryable(ErrEmptyQueue, ErrUnexpectedMessageCount),
		logger:   logger.With().Str("queue", queueURL).Logger(),
	}
}

// Post sends body to the FIFO queue. Identical body and method pairs share a
// deduplication id, so redelivery within the dedup window is dropped by SQS.
func (q *Queue) Post(ctx context.Context, body string, method RequestMethod) error {
	dedupID := DeduplicationID(body, method)
	err := q.retry.Do(ctx, "post to queue", func(ctx context.Context) error {
		_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:               aws.String(q.queueURL),
			MessageBody:            aws.String(body),
			MessageGroupId:         aws.String(MessageGroupId),
			MessageDeduplicationId: aws.String(dedupID),
		})
		return err
	})
	if err != nil {
		return err
	}
	q.logger.Info().Str("deduplicationId", dedupID).Msg("Posted message to queue")
	return nil
}

// ReceiveOne pulls exactly one message. An empty queue and a batch of more
// than one are both errors that are not retried.
func (q *Queue) ReceiveOne(ctx context.Context) (Message, error) {
	return retry.DoWithData(ctx, q.retry, "receive from queue", func(ctx context.Context) (Message, error) {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     1,
		})
		if err != nil {
			return Message{}, err
		}

		switch len(out.Messages) {
		case 0:
			return Message{}, ErrorEmptyQueue(q.queueURL)
		case 1:
			m := out.Messages[0]
			return Message{
				MessageId:     aws.ToString(m.MessageId),
				ReceiptHandle: aws.ToString(m.ReceiptHandle),
				Body:          aws.ToString(m.Body),
			}, nil
		default:
			return Message{}, ErrorUnexpectedMessageCount(q.queueURL, len(out.Messages))
		}
	})
}

// Delete removes a processed message.
func (q *Queue) Delete(ctx context.Context, m Message) error {
	return q.retry.Do(ctx, "delete from queue", func(ctx context.Context) error {
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: aws.String(m.ReceiptHandle),
		})
		return err
	})
}
