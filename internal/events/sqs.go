package events

// EventBridgeEvent is an S3 event routed through EventBridge to SQS.
type EventBridgeEvent struct {
	DetailType string `json:"detail-type"`
	Source     string `json:"source"`
	Region     string `json:"region"`
	Detail     struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int    `json:"size,omitempty"`
			ETag string `json:"etag"`
		} `json:"object"`
		Reason string `json:"reason"`
	} `json:"detail"`
}

func (e *EventBridgeEvent) BucketName() string {
	return e.Detail.Bucket.Name
}

func (e *EventBridgeEvent) ObjectKey() string {
	return e.Detail.Object.Key
}

func (e *EventBridgeEvent) Notification() InventoryNotification {
	return InventoryNotification{
		EventName: e.DetailType,
		Region:    e.Region,
		Bucket:    e.BucketName(),
		Key:       e.ObjectKey(),
	}
}
