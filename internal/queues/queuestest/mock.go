// Package queuestest provides an in-memory SQS double for tests.
package queuestest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type MockSQSClient struct {
	mu sync.Mutex

	Sent     []*sqs.SendMessageInput
	Deleted  []string
	Messages []types.Message

	// Overrides the number of messages returned per receive when set.
	ReceiveBatch int

	SendErrors    []error
	ReceiveErrors []error

	ReceiveCalls int
}

func NewMockSQSClient() *MockSQSClient {
	return &MockSQSClient{}
}

func (m *MockSQSClient) AddMessage(id, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("receipt-" + id),
		Body:          aws.String(body),
	})
}

func (m *MockSQSClient) SendMessage(ctx context.Context, input *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SendErrors) > 0 {
		err := m.SendErrors[0]
		m.SendErrors = m.SendErrors[1:]
		return nil, err
	}
	m.Sent = append(m.Sent, input)
	return &sqs.SendMessageOutput{MessageId: aws.String(fmt.Sprintf("msg-%d", len(m.Sent)))}, nil
}

func (m *MockSQSClient) ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReceiveCalls++
	if len(m.ReceiveErrors) > 0 {
		err := m.ReceiveErrors[0]
		m.ReceiveErrors = m.ReceiveErrors[1:]
		return nil, err
	}

	n := int(input.MaxNumberOfMessages)
	if m.ReceiveBatch > 0 {
		n = m.ReceiveBatch
	}
	if n > len(m.Messages) {
		n = len(m.Messages)
	}
	return &sqs.ReceiveMessageOutput{Messages: m.Messages[:n]}, nil
}

func (m *MockSQSClient) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := aws.ToString(input.ReceiptHandle)
	m.Deleted = append(m.Deleted, handle)
	for i, msg := range m.Messages {
		if aws.ToString(msg.ReceiptHandle) == handle {
			m.Messages = append(m.Messages[:i], m.Messages[i+1:]...)
			break
		}
	}
	return &sqs.DeleteMessageOutput{}, nil
}
