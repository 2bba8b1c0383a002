package slam

import (
	"github.com/pkg/errors"
)

var (
	// ErrKeyframeNotFound is returned when a keyframe id does not exist in the map.
	ErrKeyframeNotFound = errors.New("keyframe not found")
	// ErrFeatureNotFound is returned when a feature id does not exist in the map.
	ErrFeatureNotFound = errors.New("feature not found")
	// ErrDuplicateMeasurement is returned when a keyframe already observes a feature.
	ErrDuplicateMeasurement = errors.New("keyframe already has a measurement of this feature")
	// ErrInvalidMeasurement is returned for measurements with an unusable information matrix.
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrMalformedMap is returned when persisted map data cannot be decoded.
	ErrMalformedMap = errors.New("malformed map data")
)

func newKeyframeNotFoundError(id int) error {
	return errors.Wrapf(ErrKeyframeNotFound, "keyframe %d", id)
}

func newFeatureNotFoundError(id int) error {
	return errors.Wrapf(ErrFeatureNotFound, "feature %d", id)
}

func newMalformedMapError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedMap, format, args...)
}
