package inventory

import (
	"fmt"
	"sort"
	"strings"
)

// Inventory CSV fields, as named in the manifest fileSchema, mapped to their
// staging table columns.
var schemaColumns = map[string]string{
	"Bucket":                       "bucket",
	"Key":                          "key",
	"VersionId":                    "version_id",
	"IsLatest":                     "is_latest",
	"IsDeleteMarker":               "is_delete_marker",
	"Size":                         "size_in_bytes",
	"LastModifiedDate":             "last_update",
	"ETag":                         "etag",
	"StorageClass":                 "storage_class",
	"IsMultipartUploaded":          "is_multipart_uploaded",
	"ReplicationStatus":            "replication_status",
	"EncryptionStatus":             "encryption_status",
	"ObjectLockRetainUntilDate":    "object_lock_retain_until_date",
	"ObjectLockMode":               "object_lock_mode",
	"ObjectLockLegalHoldStatus":    "object_lock_legal_hold_status",
	"IntelligentTieringAccessTier": "intelligent_tiering_access_tier",
	"BucketKeyStatus":              "bucket_key_status",
	"ChecksumAlgorithm":            "checksum_algorithm",
	"ObjectAccessControlList":      "object_access_control_list",
	"ObjectOwner":                  "object_owner",
}

// RequiredFields must be present in every manifest schema for the comparison
// to be meaningful.
var RequiredFields = []string{"Bucket", "Key", "Size", "LastModifiedDate", "ETag", "StorageClass"}

// StagingColumns maps schema field names to staging table column names,
// preserving order.
func StagingColumns(schema []string) ([]string, error) {
	columns := make([]string, 0, len(schema))
	seen := make(map[string]bool, len(schema))

	for _, field := range schema {
		column, ok := schemaColumns[field]
		if !ok {
			return nil, ErrorManifestValidation(fmt.Errorf("unknown fileSchema field %q", field))
		}
		if seen[field] {
			return nil, ErrorManifestValidation(fmt.Errorf("duplicate fileSchema field %q", field))
		}
		seen[field] = true
		columns = append(columns, column)
	}

	var missing []string
	for _, field := range RequiredFields {
		if !seen[field] {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, ErrorManifestValidation(fmt.Errorf("fileSchema missing fields: %s", strings.Join(missing, ", ")))
	}

	return columns, nil
}

// AllStagingColumns lists every staging column in a stable order. Staging
// tables carry all of them so comparison queries can reference optional
// fields such as is_latest whatever the manifest schema.
func AllStagingColumns() []string {
	columns := make([]string, 0, len(schemaColumns))
	for _, column := range schemaColumns {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}
