package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"orca/internal/files"
	"orca/internal/retry"
)

const (
	ManifestFile     = "manifest.json"
	PartFileSuffix   = ".csv.gz"
	INVENTORY_FORMAT = "CSV"
)

var validate = validator.New()

// Timestamp is an inventory creation time in milliseconds since the epoch.
// S3 writes it as a quoted string; plain JSON numbers are accepted too.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(data, `"`)
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("creationTimestamp %s is not epoch milliseconds: %w", data, err)
	}
	*t = Timestamp(ms)
	return nil
}

// Seconds converts the millisecond timestamp to fractional seconds.
func (t Timestamp) Seconds() float64 {
	return float64(t) / 1000
}

// Manifest represents the S3 Inventory manifest.json structure
type Manifest struct {
	SourceBucket      string          `json:"sourceBucket" validate:"required"`
	DestinationBucket string          `json:"destinationBucket"`
	Version           string          `json:"version"`
	CreationTimestamp Timestamp       `json:"creationTimestamp" validate:"required,gt=0"`
	FileFormat        string          `json:"fileFormat"`
	FileSchema        string          `json:"fileSchema" validate:"required"`
	Files             []InventoryFile `json:"files" validate:"required,min=1,dive"`

	// Location of the manifest itself, filled from the trigger.
	ReportBucket string `json:"-"`
	ReportRegion string `json:"-"`
}

// InventoryFile represents a single inventory data file
type InventoryFile struct {
	Key         string `json:"key" validate:"required"`
	Size        int64  `json:"size"`
	MD5Checksum string `json:"MD5checksum"`
}

// Bucket returns the bucket holding the inventory part files
func (m *Manifest) Bucket() string {
	if m.DestinationBucket != "" {
		return parseDestinationBucket(m.DestinationBucket)
	}
	return m.ReportBucket
}

// ParseFileSchema parses the comma-separated schema string into a slice of header names
func (m *Manifest) ParseFileSchema() []string {
	headers := strings.Split(m.FileSchema, ",")
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	return headers
}

// PartObjects returns the S3 locations of every inventory part file
func (m *Manifest) PartObjects() []files.S3Object {
	objs := make([]files.S3Object, 0, len(m.Files))
	for _, f := range m.Files {
		objs = append(objs, files.NewS3Object(m.Bucket(), f.Key))
	}
	return objs
}

// Validate checks required keys, the CSV format, the column schema and the
// part file extensions.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return ErrorManifestValidation(err)
	}
	if m.FileFormat != "" && m.FileFormat != INVENTORY_FORMAT {
		return ErrorManifestValidation(fmt.Errorf("unsupported format: %s", m.FileFormat))
	}
	if _, err := StagingColumns(m.ParseFileSchema()); err != nil {
		return err
	}
	for _, f := range m.Files {
		if !strings.HasSuffix(f.Key, PartFileSuffix) {
			return ErrorInvalidPartExtension(f.Key)
		}
	}
	return nil
}

// Reader fetches and validates inventory manifests and prepares their part
// files for the database bulk import.
type Reader struct {
	s3Client files.ObjectStore
	retry    retry.Policy
	logger   zerolog.Logger
}

func NewReader(s3Client files.ObjectStore, policy retry.Policy, logger zerolog.Logger) *Reader {
	return &Reader{
		s3Client: s3Client,
		retry:    policy.WithNonRetryable(ErrInvalidManifestName, ErrInvalidPartExtension, ErrManifestValidation, files.ErrObjectNotFound),
		logger:   logger,
	}
}

// Read loads the manifest at bucket/manifestKey, validates it, and makes sure
// every part file carries gzip content-encoding metadata.
func (r *Reader) Read(ctx context.Context, manifestKey, bucket, region string) (*Manifest, error) {
	obj := files.NewS3Object(bucket, manifestKey)

	if path.Base(manifestKey) != ManifestFile {
		return nil, ErrorInvalidManifestName(obj.URI())
	}

	r.logger.Info().Str("manifest", obj.URI()).Msg("Reading inventory manifest")

	manifest, err := retry.DoWithData(ctx, r.retry, "get inventory manifest", func(ctx context.Context) (*Manifest, error) {
		return GetInventoryManifest(ctx, r.s3Client, obj)
	})
	if err != nil {
		return nil, err
	}
	manifest.ReportBucket = bucket
	manifest.ReportRegion = region

	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	for _, part := range manifest.PartObjects() {
		patched, err := retry.DoWithData(ctx, r.retry, "ensure gzip encoding", func(ctx context.Context) (bool, error) {
			return files.EnsureGzipEncoding(ctx, r.s3Client, part)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to prepare inventory file %s: %w", part.URI(), err)
		}
		if patched {
			r.logger.Info().Str("part", part.URI()).Msg("Added gzip content-encoding to inventory file")
		}
	}

	r.logger.Info().
		Str("sourceBucket", manifest.SourceBucket).
		Int("files", len(manifest.Files)).
		Msg("Inventory manifest ready for import")

	return manifest, nil
}

// GetInventoryManifest downloads and decodes a manifest without validating it.
func GetInventoryManifest(ctx context.Context, s3Client files.ObjectStore, obj files.S3Object) (*Manifest, error) {
	manifestReader, err := files.DownloadObject(ctx, s3Client, obj)
	if err != nil {
		return nil, err
	}
	defer func() { _ = manifestReader.Close() }()

	var manifest Manifest
	if err := json.NewDecoder(manifestReader).Decode(&manifest); err != nil {
		return nil, ErrorManifestValidation(fmt.Errorf("failed to parse manifest: %w", err))
	}

	return &manifest, nil
}

func parseDestinationBucket(bucketRef string) string {
	// If it's an ARN format
	if len(bucketRef) > 13 && bucketRef[:13] == "arn:aws:s3:::" {
		return bucketRef[13:]
	}
	return bucketRef
}
