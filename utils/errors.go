package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewOutOfRangeError is used when an index or id does not address an existing element.
func NewOutOfRangeError(kind string, id, size int) error {
	return errors.Errorf("%s %d out of range [0, %d)", kind, id, size)
}

// NewConfigValidationFieldRequiredError is used when a required config field is missing or invalid.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return errors.Errorf("%s: %q is required", path, field)
}

// NewConfigValidationError is used when a config field is set to an invalid value.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}
