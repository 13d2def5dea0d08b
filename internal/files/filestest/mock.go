// Package filestest provides an in-memory S3 double for tests.
package filestest

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type Object struct {
	Body            []byte
	ContentEncoding string
	ContentType     string
	Metadata        map[string]string
}

// MockS3Client keeps objects keyed by "bucket/key" and counts calls per
// operation.
type MockS3Client struct {
	mu      sync.Mutex
	Objects map[string]*Object
	Errors  map[string]error // keyed by "get:", "head:" or "copy:" + "bucket/key"

	GetCalls  int
	HeadCalls int
	CopyCalls int
}

func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		Objects: make(map[string]*Object),
		Errors:  make(map[string]error),
	}
}

func (m *MockS3Client) AddObject(bucket, key string, obj *Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[bucket+"/"+key] = obj
}

func (m *MockS3Client) AddError(operation, bucket, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[operation+":"+bucket+"/"+key] = err
}

func (m *MockS3Client) Object(bucket, key string) *Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Objects[bucket+"/"+key]
}

func (m *MockS3Client) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetCalls + m.HeadCalls + m.CopyCalls
}

func notFound() error {
	return &smithy.GenericAPIError{Code: "NoSuchKey", Message: "Key not found", Fault: smithy.FaultClient}
}

func (m *MockS3Client) GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++

	key := aws.ToString(input.Bucket) + "/" + aws.ToString(input.Key)
	if err, ok := m.Errors["get:"+key]; ok {
		return nil, err
	}
	obj, ok := m.Objects[key]
	if !ok {
		return nil, notFound()
	}
	return &s3.GetObjectOutput{
		Body:            io.NopCloser(bytes.NewReader(obj.Body)),
		ContentEncoding: aws.String(obj.ContentEncoding),
		ContentType:     aws.String(obj.ContentType),
		Metadata:        obj.Metadata,
	}, nil
}

func (m *MockS3Client) HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HeadCalls++

	key := aws.ToString(input.Bucket) + "/" + aws.ToString(input.Key)
	if err, ok := m.Errors["head:"+key]; ok {
		return nil, err
	}
	obj, ok := m.Objects[key]
	if !ok {
		return nil, notFound()
	}
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.Body))),
		Metadata:      obj.Metadata,
	}
	if obj.ContentEncoding != "" {
		out.ContentEncoding = aws.String(obj.ContentEncoding)
	}
	if obj.ContentType != "" {
		out.ContentType = aws.String(obj.ContentType)
	}
	return out, nil
}

func (m *MockS3Client) CopyObject(ctx context.Context, input *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CopyCalls++

	key := aws.ToString(input.Bucket) + "/" + aws.ToString(input.Key)
	if err, ok := m.Errors["copy:"+key]; ok {
		return nil, err
	}

	source, err := url.PathUnescape(aws.ToString(input.CopySource))
	if err != nil {
		return nil, err
	}
	src, ok := m.Objects[strings.TrimPrefix(source, "/")]
	if !ok {
		return nil, notFound()
	}

	m.Objects[key] = &Object{
		Body:            src.Body,
		ContentEncoding: aws.ToString(input.ContentEncoding),
		ContentType:     aws.ToString(input.ContentType),
		Metadata:        input.Metadata,
	}
	return &s3.CopyObjectOutput{}, nil
}
