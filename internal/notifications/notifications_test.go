package notifications

import (
	"context"
	"errors"
	"testing"
	"text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const templateContent = `Reconciliation job failed for:

Account: {{.Account}}
Stack: {{.Stack}}
Time: {{.Date}}

Job: {{.JobID}}
Archive bucket: {{.ReportSource}}
Error: {{.ErrorMessage}}
`

type mockSNSClient struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestJobFailureNotificationMessage(t *testing.T) {
	tmpl, err := template.New("test").Parse(templateContent)
	if err != nil {
		t.Fatalf("Failed to parse template: %v", err)
	}

	notification := JobFailureNotification{
		Account:      "123456789012",
		Stack:        "orca",
		Date:         "2025-06-26 14:30:25 +0000 UTC",
		JobID:        42,
		ReportSource: "orca-archive",
		ErrorMessage: "failed to import inventory part",
		Title:        "ORCA Reconciliation Failure: orca-archive",
		Template:     tmpl,
		Topic:        "arn:aws:sns:us-east-1:123456789012:test-topic",
	}

	message, err := notification.Message()
	if err != nil {
		t.Fatalf("Failed to execute template: %v", err)
	}

	expected := `Reconciliation job failed for:

Account: 123456789012
Stack: orca
Time: 2025-06-26 14:30:25 +0000 UTC

Job: 42
Archive bucket: orca-archive
Error: failed to import inventory part
`

	if message != expected {
		t.Errorf("Template output mismatch.\nExpected:\n%s\nGot:\n%s", expected, message)
	}

	if notification.Subject() != "ORCA Reconciliation Failure: orca-archive" {
		t.Errorf("Unexpected subject: %s", notification.Subject())
	}

	if notification.TopicArn() != "arn:aws:sns:us-east-1:123456789012:test-topic" {
		t.Errorf("Unexpected topic ARN: %s", notification.TopicArn())
	}
}

func TestJobFailureNotifier(t *testing.T) {
	tmpl := template.Must(template.New("test").Parse(templateContent))
	client := &mockSNSClient{}
	notifier := NewJobFailureNotifier(client, "arn:aws:sns:us-east-1:123456789012:test-topic", "123456789012", "orca", tmpl, zerolog.Nop())
	notifier.now = func() time.Time { return time.Date(2025, 6, 26, 14, 30, 25, 0, time.UTC) }

	err := notifier.NotifyJobFailure(context.Background(), 7, "orca-archive", errors.New("boom"))
	require.NoError(t, err)

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:test-topic", aws.ToString(in.TopicArn))
	assert.Equal(t, "ORCA Reconciliation Failure: orca-archive", aws.ToString(in.Subject))
	assert.Contains(t, aws.ToString(in.Message), "Job: 7")
	assert.Contains(t, aws.ToString(in.Message), "Error: boom")
	assert.Contains(t, aws.ToString(in.Message), "Time: 2025-06-26 14:30:25 +0000 UTC")
}

func TestJobFailureNotifier_PublishError(t *testing.T) {
	tmpl := template.Must(template.New("test").Parse(templateContent))
	client := &mockSNSClient{err: errors.New("sns unavailable")}
	notifier := NewJobFailureNotifier(client, "topic", "acct", "orca", tmpl, zerolog.Nop())

	err := notifier.NotifyJobFailure(context.Background(), 7, "orca-archive", errors.New("boom"))
	assert.EqualError(t, err, "sns unavailable")
}
