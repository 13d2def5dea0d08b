package events

import (
	"encoding/json"
	"fmt"
	"net/url"

	awsevents "github.com/aws/aws-lambda-go/events"
)

// InventoryNotification is one object-created notification, whatever shape it
// arrived in.
type InventoryNotification struct {
	EventName string
	Region    string
	Bucket    string
	Key       string
}

func (n InventoryNotification) ObjectKey() string {
	return n.Key
}

func (n InventoryNotification) IsObjectCreated() bool {
	return IsObjectCreatedName(n.EventName)
}

// Trigger builds the manifest-fetch request for this notification.
func (n InventoryNotification) Trigger() Trigger {
	return Trigger{
		ReportBucketRegion: n.Region,
		ReportBucketName:   n.Bucket,
		ManifestKey:        n.Key,
	}
}

type envelope struct {
	Records    json.RawMessage `json:"Records"`
	DetailType string          `json:"detail-type"`
	Event      string          `json:"Event"`
}

// ParseNotifications decodes an SQS message body carrying either a native S3
// event notification or an EventBridge "Object Created" event. The S3 test
// event sent when a notification is configured yields no notifications.
func ParseNotifications(body []byte) ([]InventoryNotification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}

	switch {
	case env.Event == "s3:TestEvent":
		return nil, nil
	case env.DetailType != "":
		var event EventBridgeEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, fmt.Errorf("failed to parse EventBridge event: %w", err)
		}
		if event.Source != "aws.s3" {
			return nil, nil
		}
		return []InventoryNotification{event.Notification()}, nil
	case len(env.Records) > 0:
		var event awsevents.S3Event
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, fmt.Errorf("failed to parse S3 event: %w", err)
		}
		notifications := make([]InventoryNotification, 0, len(event.Records))
		for _, record := range event.Records {
			key, err := url.QueryUnescape(record.S3.Object.Key)
			if err != nil {
				return nil, fmt.Errorf("failed to decode object key %q: %w", record.S3.Object.Key, err)
			}
			notifications = append(notifications, InventoryNotification{
				EventName: record.EventName,
				Region:    record.AWSRegion,
				Bucket:    record.S3.Bucket.Name,
				Key:       key,
			})
		}
		return notifications, nil
	default:
		return nil, fmt.Errorf("unrecognized notification shape")
	}
}
