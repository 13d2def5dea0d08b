package events

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Trigger asks the archive-list step to read one inventory manifest.
type Trigger struct {
	ReportBucketRegion string `json:"reportBucketRegion" validate:"required"`
	ReportBucketName   string `json:"reportBucketName" validate:"required"`
	ManifestKey        string `json:"manifestKey" validate:"required"`
}

func (t Trigger) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}
	return nil
}

// ParseTrigger decodes and validates a queued trigger body.
func ParseTrigger(body string) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return t, fmt.Errorf("failed to parse trigger: %w", err)
	}
	return t, t.Validate()
}
