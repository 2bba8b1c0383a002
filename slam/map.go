// Package slam holds the map a bundle adjuster refines: keyframes, landmark features and the 2D
// measurements linking them.
package slam

import (
	"math"
	"slices"

	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

// Map is an append-only collection of keyframes and features sharing one camera matrix. Ids are
// indices assigned at creation and are never reused. A Map has a single writer; it must not be
// mutated while an optimization runs on it.
type Map struct {
	logger       logging.Logger
	cameraMatrix transform.CameraMatrix

	keyframes        []*Keyframe
	features         []*MapFeature
	measurementCount int
	revision         uint64
}

// Observation is a measurement together with the keyframe and feature it links.
type Observation struct {
	KeyframeID  int
	FeatureID   int
	Measurement MapMeasurement
}

// NewMap returns an empty map using the camera matrix k for every keyframe.
func NewMap(k transform.CameraMatrix, logger logging.Logger) *Map {
	return &Map{logger: logger, cameraMatrix: k}
}

// AddKeyframe appends a keyframe at the given pose and returns its id.
func (m *Map) AddKeyframe(pose spatialmath.Pose) int {
	id := len(m.keyframes)
	m.keyframes = append(m.keyframes, newKeyframe(id, pose))
	m.revision++
	return id
}

// AddFeature appends a copy of the feature's estimate and covariance and returns the new id. Any
// point track on the argument is ignored; tracks are built by AddMeasurement.
func (m *Map) AddFeature(feature MapFeature) int {
	id := len(m.features)
	m.features = append(m.features, &MapFeature{
		Estimate:   feature.Estimate,
		Covariance: feature.Covariance,
		track:      map[int]struct{}{},
	})
	m.revision++
	return id
}

// AddMeasurement records that keyframe kfID observes feature featID.
func (m *Map) AddMeasurement(featID, kfID int, meas MapMeasurement) error {
	feat, err := m.FeatureForID(featID)
	if err != nil {
		return err
	}
	kf, err := m.KeyframeForID(kfID)
	if err != nil {
		return err
	}
	if err := meas.Validate(); err != nil {
		return err
	}
	if _, ok := kf.measurements[featID]; ok {
		return errors.Wrapf(ErrDuplicateMeasurement, "keyframe %d feature %d", kfID, featID)
	}
	kf.measurements[featID] = meas
	feat.track[kfID] = struct{}{}
	m.measurementCount++
	m.revision++
	return nil
}

// AddFeatureToKeyframe adds a feature and its first measurement from keyframe kfID. Nothing is
// added when an error is returned.
func (m *Map) AddFeatureToKeyframe(feature MapFeature, meas MapMeasurement, kfID int) (int, error) {
	if _, err := m.KeyframeForID(kfID); err != nil {
		return -1, err
	}
	if err := meas.Validate(); err != nil {
		return -1, err
	}
	featID := m.AddFeature(feature)
	if err := m.AddMeasurement(featID, kfID, meas); err != nil {
		// unreachable after the checks above
		return -1, err
	}
	return featID, nil
}

// KeyframeForID returns the keyframe with the given id.
func (m *Map) KeyframeForID(id int) (*Keyframe, error) {
	if id < 0 || id >= len(m.keyframes) {
		return nil, newKeyframeNotFoundError(id)
	}
	return m.keyframes[id], nil
}

// FeatureForID returns the feature with the given id.
func (m *Map) FeatureForID(id int) (*MapFeature, error) {
	if id < 0 || id >= len(m.features) {
		return nil, newFeatureNotFoundError(id)
	}
	return m.features[id], nil
}

// Keyframes returns the keyframes ordered by id. The slice must not be modified.
func (m *Map) Keyframes() []*Keyframe {
	return m.keyframes
}

// Features returns the features ordered by id. The slice must not be modified.
func (m *Map) Features() []*MapFeature {
	return m.features
}

// NumKeyframes returns the number of keyframes.
func (m *Map) NumKeyframes() int {
	return len(m.keyframes)
}

// NumFeatures returns the number of features.
func (m *Map) NumFeatures() int {
	return len(m.features)
}

// MeasurementCount returns the number of measurements added since the map was created or cleared.
func (m *Map) MeasurementCount() int {
	return m.measurementCount
}

// Revision changes whenever keyframes, features or measurements are added, a keyframe is fixed or
// released, or the map is cleared. Poses and estimates changing does not bump it.
func (m *Map) Revision() uint64 {
	return m.revision
}

// CameraMatrix returns the camera matrix shared by every keyframe.
func (m *Map) CameraMatrix() transform.CameraMatrix {
	return m.cameraMatrix
}

// SetCameraMatrix replaces the shared camera matrix.
func (m *Map) SetCameraMatrix(k transform.CameraMatrix) {
	m.cameraMatrix = k
}

// SetKeyframeFixed marks a keyframe as fixed (or not) during optimization.
func (m *Map) SetKeyframeFixed(id int, fixed bool) error {
	kf, err := m.KeyframeForID(id)
	if err != nil {
		return err
	}
	if kf.fixed != fixed {
		kf.fixed = fixed
		m.revision++
	}
	return nil
}

// FindClosestKeyframe returns the id of the keyframe nearest to pose under
// spatialmath.PoseDistance, or -1 when the map has no keyframes.
func (m *Map) FindClosestKeyframe(pose spatialmath.Pose) int {
	closest := -1
	best := math.Inf(1)
	for _, kf := range m.keyframes {
		if d := spatialmath.PoseDistance(kf.Pose, pose); d < best {
			best = d
			closest = kf.id
		}
	}
	return closest
}

// SelectVisibleFeatures returns the sorted ids of features observed by keyframes within maxDistance
// of pose which, projected into a camera at pose with the given calibration, land inside the image
// in front of the camera.
func (m *Map) SelectVisibleFeatures(
	pose spatialmath.Pose,
	calibration *transform.PinholeCameraIntrinsics,
	maxDistance float64,
) ([]int, error) {
	if err := calibration.CheckValid(); err != nil {
		return nil, err
	}
	candidates := map[int]struct{}{}
	for _, kf := range m.keyframes {
		if spatialmath.PoseDistance(kf.Pose, pose) > maxDistance {
			continue
		}
		for featID := range kf.measurements {
			candidates[featID] = struct{}{}
		}
	}

	visible := make([]int, 0, len(candidates))
	for featID := range candidates {
		p := m.features[featID].Position()
		if !utils.IsFinite(p.X, p.Y, p.Z) {
			continue
		}
		px, ok := calibration.PointToPixel(pose.Transform(p))
		if !ok || !calibration.InBounds(px) {
			continue
		}
		visible = append(visible, featID)
	}
	slices.Sort(visible)
	return visible, nil
}

// Measurements returns every measurement ordered by keyframe id, then feature id.
func (m *Map) Measurements() []Observation {
	out := make([]Observation, 0, m.measurementCount)
	for _, kf := range m.keyframes {
		for _, featID := range kf.FeatureIDs() {
			out = append(out, Observation{KeyframeID: kf.id, FeatureID: featID, Measurement: kf.measurements[featID]})
		}
	}
	return out
}

// Clear removes every keyframe, feature and measurement. Ids restart at zero.
func (m *Map) Clear() {
	m.logger.Debugw("clearing map", "keyframes", len(m.keyframes), "features", len(m.features))
	m.keyframes = nil
	m.features = nil
	m.measurementCount = 0
	m.revision++
}

// CheckConsistency verifies that every measurement appears in its feature's track and that every
// track entry has a matching measurement.
func (m *Map) CheckConsistency() error {
	count := 0
	for _, kf := range m.keyframes {
		for featID := range kf.measurements {
			feat, err := m.FeatureForID(featID)
			if err != nil {
				return errors.Wrapf(err, "keyframe %d measures a missing feature", kf.id)
			}
			if !feat.ObservedBy(kf.id) {
				return errors.Errorf("feature %d track is missing keyframe %d", featID, kf.id)
			}
			count++
		}
	}
	for featID, feat := range m.features {
		for kfID := range feat.track {
			kf, err := m.KeyframeForID(kfID)
			if err != nil {
				return errors.Wrapf(err, "feature %d track references a missing keyframe", featID)
			}
			if _, ok := kf.measurements[featID]; !ok {
				return errors.Errorf("keyframe %d has no measurement of tracked feature %d", kfID, featID)
			}
		}
	}
	if count != m.measurementCount {
		return errors.Errorf("measurement count %d does not match %d stored measurements", m.measurementCount, count)
	}
	return nil
}
