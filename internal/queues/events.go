package queues

import (
	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"orca/internal/events"
)

// TriggerWithMessageId ties a manifest trigger to the SQS record it came from.
type TriggerWithMessageId struct {
	MessageId string
	events.Trigger
}

// UnwrapInventoryNotifications extracts one trigger per created manifest.json
// from the SQS batch. Records that cannot be parsed are reported as batch
// item failures; notifications for other objects are dropped.
func UnwrapInventoryNotifications(event awsevents.SQSEvent, logger zerolog.Logger) ([]TriggerWithMessageId, []awsevents.SQSBatchItemFailure) {
	var triggers []TriggerWithMessageId
	var failedEvents []awsevents.SQSBatchItemFailure

	for _, record := range event.Records {
		notifications, err := events.ParseNotifications([]byte(record.Body))
		if err != nil {
			logger.Error().Err(err).Str("messageId", record.MessageId).Msg("Failed to parse inventory notification")
			failedEvents = append(failedEvents, awsevents.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		for _, n := range notifications {
			if !n.IsObjectCreated() || !events.IsManifestKey(n) {
				logger.Debug().Str("key", n.Key).Str("eventName", n.EventName).Msg("Ignoring notification")
				continue
			}
			if n.Region == "" {
				n.Region = record.AWSRegion
			}
			triggers = append(triggers, TriggerWithMessageId{record.MessageId, n.Trigger()})
		}
	}

	return triggers, failedEvents
}
