package files

import (
	"errors"
	"fmt"
)

var (
	ErrMetadataNotPatched   = errors.New("failed to patch object metadata")
	ErrMetadataNotRetrieved = errors.New("metadata not retrieved")
	ErrObjectNotFound       = errors.New("object not found")
	ErrObjectNotRetrieved   = errors.New("object not retrieved")
)

func ErrorMetadataNotPatched(uri string, cause error) error {
	return fmt.Errorf("%w: uri=%s cause=%v", ErrMetadataNotPatched, uri, cause)
}

func ErrorMetadataNotRetrieved(uri string, cause error) error {
	return fmt.Errorf("%w: uri=%s cause=%v", ErrMetadataNotRetrieved, uri, cause)
}

func ErrorObjectNotFound(uri string) error {
	return fmt.Errorf("%w: uri=%s", ErrObjectNotFound, uri)
}

func ErrorObjectNotRetrieved(uri string, cause error) error {
	return fmt.Errorf("%w: uri=%s cause=%v", ErrObjectNotRetrieved, uri, cause)
}
