package config

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDBConnectInfo = errors.New("invalid database connection info")
	ErrInvalidSetting       = errors.New("invalid setting")
)

func ErrorInvalidDBConnectInfo(cause error) error {
	return fmt.Errorf("%w: cause=%v", ErrInvalidDBConnectInfo, cause)
}

func ErrorInvalidSetting(name, value string, cause error) error {
	return fmt.Errorf("%w: %s=%q cause=%v", ErrInvalidSetting, name, value, cause)
}
