package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrigger(t *testing.T) {
	trigger, err := ParseTrigger(`{"reportBucketRegion":"us-west-2","reportBucketName":"orca-reports","manifestKey":"inv/manifest.json"}`)
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", trigger.ReportBucketRegion)
	assert.Equal(t, "orca-reports", trigger.ReportBucketName)
	assert.Equal(t, "inv/manifest.json", trigger.ManifestKey)
}

func TestParseTrigger_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{"},
		{"missing region", `{"reportBucketName":"orca-reports","manifestKey":"inv/manifest.json"}`},
		{"missing key", `{"reportBucketRegion":"us-west-2","reportBucketName":"orca-reports"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTrigger(tt.body)
			assert.Error(t, err)
		})
	}
}
