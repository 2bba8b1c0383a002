package slam

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/sfm/logging"
)

// Format is an on-disk map encoding.
type Format string

// The supported map encodings.
const (
	FormatBinary Format = "binary"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatBSON   Format = "bson"
)

// FormatFromPath chooses an encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		return FormatBinary, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".bson":
		return FormatBSON, nil
	default:
		return "", errors.Errorf("unknown map file extension %q", filepath.Ext(path))
	}
}

// Write encodes the map in the given format.
func (m *Map) Write(w io.Writer, format Format) error {
	switch format {
	case FormatBinary:
		return m.WriteBinary(w)
	case FormatJSON:
		return m.WriteJSON(w)
	case FormatYAML:
		return m.WriteYAML(w)
	case FormatBSON:
		return m.WriteBSON(w)
	default:
		return errors.Errorf("unknown map format %q", format)
	}
}

// Read decodes a map in the given format.
func Read(r io.Reader, format Format, logger logging.Logger) (*Map, error) {
	switch format {
	case FormatBinary:
		return ReadBinary(r, logger)
	case FormatJSON:
		return ReadJSON(r, logger)
	case FormatYAML:
		return ReadYAML(r, logger)
	case FormatBSON:
		return ReadBSON(r, logger)
	default:
		return nil, errors.Errorf("unknown map format %q", format)
	}
}

// SaveFile writes the map to path in the format named by its extension.
func (m *Map) SaveFile(path string) (err error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating map file %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	m.logger.Debugw("saving map", "path", path, "format", format,
		"keyframes", m.NumKeyframes(), "features", m.NumFeatures(), "measurements", m.MeasurementCount())
	return m.Write(f, format)
}

// LoadFile reads a map from path in the format named by its extension.
func LoadFile(path string, logger logging.Logger) (*Map, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening map file %q", path)
	}
	m, err := Read(f, format, logger)
	if closeErr := f.Close(); closeErr != nil {
		err = multierr.Combine(err, closeErr)
		m = nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error loading map file %q", path)
	}
	logger.Debugw("loaded map", "path", path, "format", format,
		"keyframes", m.NumKeyframes(), "features", m.NumFeatures(), "measurements", m.MeasurementCount())
	return m, nil
}
