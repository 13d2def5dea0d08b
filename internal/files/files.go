package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const GzipContentEncoding = "gzip"

// ObjectStore defines the S3 operations used to read manifests and patch
// inventory part metadata
type ObjectStore interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, input *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3Object represents an S3 object
type S3Object struct {
	Bucket string
	Key    string
}

// NewS3Object creates a new S3Object
func NewS3Object(bucket, key string) S3Object {
	return S3Object{Bucket: bucket, Key: key}
}

// URI returns a human-readable URI for the S3 object
func (obj S3Object) URI() string {
	return fmt.Sprintf("s3://%s/%s", obj.Bucket, obj.Key)
}

// Name returns the final path element of the key
func (obj S3Object) Name() string {
	return path.Base(obj.Key)
}

// DownloadObject opens the object body.
func DownloadObject(ctx context.Context, client ObjectStore, obj S3Object) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrorObjectNotFound(obj.URI())
		}
		return nil, ErrorObjectNotRetrieved(obj.URI(), err)
	}

	return out.Body, nil
}

// EnsureGzipEncoding sets Content-Encoding: gzip on the object when it is not
// already present, preserving its user metadata and content type. It reports
// whether a patch was made.
func EnsureGzipEncoding(ctx context.Context, client ObjectStore, obj S3Object) (bool, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		if IsNotFound(err) {
			return false, ErrorObjectNotFound(obj.URI())
		}
		return false, ErrorMetadataNotRetrieved(obj.URI(), err)
	}

	if aws.ToString(head.ContentEncoding) == GzipContentEncoding {
		return false, nil
	}

	_, err = client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(obj.Bucket),
		Key:               aws.String(obj.Key),
		CopySource:        aws.String(obj.Bucket + "/" + url.PathEscape(obj.Key)),
		ContentEncoding:   aws.String(GzipContentEncoding),
		ContentType:       head.ContentType,
		Metadata:          head.Metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return false, ErrorMetadataNotPatched(obj.URI(), err)
	}

	return true, nil
}

// IsNotFound checks if an error is a "not found" error from S3
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}
