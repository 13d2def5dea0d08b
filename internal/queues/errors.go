package queues

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQueue             = errors.New("no message available on queue")
	ErrUnexpectedMessageCount = errors.New("unexpected number of messages received")
)

func ErrorEmptyQueue(queueURL string) error {
	return fmt.Errorf("%w: %s", ErrEmptyQueue, queueURL)
}

func ErrorUnexpectedMessageCount(queueURL string, count int) error {
	return fmt.Errorf("%w: expected 1 from %s, got %d", ErrUnexpectedMessageCount, queueURL, count)
}
