package claims

import (
	"errors"
	"fmt"
)

var (
	ErrClaimNotFound      = errors.New("job claim not found")
	ErrUnmarshallingClaim = errors.New("failed to unmarshal job claim")
)

func ErrorClaimNotFound(key string) error {
	return fmt.Errorf("%w: key=%s", ErrClaimNotFound, key)
}

func ErrorUnmarshallingClaim(cause error) error {
	return fmt.Errorf("%w: cause=%v", ErrUnmarshallingClaim, cause)
}
