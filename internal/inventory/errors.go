package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidManifestName  = errors.New("manifest object must be named " + ManifestFile)
	ErrInvalidPartExtension = errors.New("inventory file must end in " + PartFileSuffix)
	ErrManifestValidation   = errors.New("invalid inventory manifest")
)

func ErrorInvalidManifestName(uri string) error {
	return fmt.Errorf("%w: uri=%s", ErrInvalidManifestName, uri)
}

func ErrorInvalidPartExtension(key string) error {
	return fmt.Errorf("%w: key=%s", ErrInvalidPartExtension, key)
}

func ErrorManifestValidation(cause error) error {
	return fmt.Errorf("%w: %v", ErrManifestValidation, cause)
}
