package pca9685

import (
	"errors"
	"fmt"
)

var ErrInvalidChannel = errors.New("pca9685: invalid channel")

// RangeError reports a duty value outside [0, Max] in strict mode.
type RangeError struct {
	Value int
	Max   uint16
}

func (e *RangeError) Error() string {
	if e.Value < 0 {
		return fmt.Sprintf("pca9685: duty %d < 0", e.Value)
	}
	return fmt.Sprintf("pca9685: duty %d > max bits (%d)", e.Value, e.Max)
}

// ConfigError reports an unusable driver configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pca9685: %s %s", e.Field, e.Reason)
}
