package notifications

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

type SNSClientInterface interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotification represents an abstraction for a notification to be published via AWS SNS.
type SNSNotification interface {
	Message() (string, error)
	Subject() string
	TopicArn() string
}

type JobFailureNotification struct {
	Account      string
	Stack        string
	Date         string
	JobID        int64
	ReportSource string
	ErrorMessage string
	Title        string
	Template     *template.Template
	Topic        string
}

func (n JobFailureNotification) Message() (string, error) {
	var buf bytes.Buffer
	if err := n.Template.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (n JobFailureNotification) Subject() string {
	return n.Title
}

func (n JobFailureNotification) TopicArn() string {
	return n.Topic
}

func SendNotification(ctx context.Context, client SNSClientInterface, notification SNSNotification, logger zerolog.Logger) error {
	message, err := notification.Message()
	if err != nil {
		return err
	}

	result, err := client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(notification.TopicArn()),
		Subject:  aws.String(notification.Subject()),
		Message:  aws.String(message),
	})
	if err != nil {
		return err
	}

	logger.Info().Str("messageId", aws.ToString(result.MessageId)).Msg("Notification sent successfully")
	return nil
}

// JobFailureNotifier publishes a JobFailureNotification when a job ends in
// ERROR.
type JobFailureNotifier struct {
	client   SNSClientInterface
	topic    string
	account  string
	stack    string
	template *template.Template
	logger   zerolog.Logger
	now      func() time.Time
}

func NewJobFailureNotifier(client SNSClientInterface, topic, account, stack string, tmpl *template.Template, logger zerolog.Logger) *JobFailureNotifier {
	return &JobFailureNotifier{
		client:   client,
		topic:    topic,
		account:  account,
		stack:    stack,
		template: tmpl,
		logger:   logger,
		now:      time.Now,
	}
}

func (n *JobFailureNotifier) NotifyJobFailure(ctx context.Context, jobID int64, reportSource string, cause error) error {
	notification := JobFailureNotification{
		Account:      n.account,
		Stack:        n.stack,
		Date:         n.now().UTC().String(),
		JobID:        jobID,
		ReportSource: reportSource,
		ErrorMessage: cause.Error(),
		Title:        fmt.Sprintf("ORCA Reconciliation Failure: %s", reportSource),
		Template:     n.template,
		Topic:        n.topic,
	}
	return SendNotification(ctx, n.client, notification, n.logger)
}
