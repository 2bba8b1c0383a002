package slam

import (
	"slices"

	"github.com/samber/lo"

	"go.viam.com/sfm/spatialmath"
)

// Keyframe is a camera pose and the feature observations made from it. Pose maps world
// coordinates into the camera frame.
type Keyframe struct {
	Pose spatialmath.Pose

	id           int
	fixed        bool
	measurements map[int]MapMeasurement
}

func newKeyframe(id int, pose spatialmath.Pose) *Keyframe {
	return &Keyframe{Pose: pose, id: id, measurements: map[int]MapMeasurement{}}
}

// ID returns the keyframe id.
func (kf *Keyframe) ID() int {
	return kf.id
}

// Fixed reports whether the optimizer must leave this keyframe's pose untouched.
func (kf *Keyframe) Fixed() bool {
	return kf.fixed
}

// Measurement returns the observation of a feature from this keyframe.
func (kf *Keyframe) Measurement(featID int) (MapMeasurement, bool) {
	m, ok := kf.measurements[featID]
	return m, ok
}

// FeatureIDs returns the sorted ids of the features observed from this keyframe.
func (kf *Keyframe) FeatureIDs() []int {
	ids := lo.Keys(kf.measurements)
	slices.Sort(ids)
	return ids
}

// NumMeasurements returns the number of features observed from this keyframe.
func (kf *Keyframe) NumMeasurements() int {
	return len(kf.measurements)
}
