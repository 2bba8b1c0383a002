package slam

import (
	"slices"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"
)

// MapFeature is a landmark: a homogeneous 3D point estimate (x, y, z, w), its 4x4 covariance and the
// set of keyframes observing it. The scale w is not normalized.
type MapFeature struct {
	Estimate   [4]float64
	Covariance [16]float64

	track map[int]struct{}
}

// NewMapFeature returns a feature at p with unit scale and identity covariance.
func NewMapFeature(p r3.Vector) MapFeature {
	return MapFeature{
		Estimate:   [4]float64{p.X, p.Y, p.Z, 1},
		Covariance: [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1},
	}
}

// Position returns the dehomogenized point. A point at infinity has non-finite coordinates.
func (f *MapFeature) Position() r3.Vector {
	w := f.Estimate[3]
	return r3.Vector{X: f.Estimate[0] / w, Y: f.Estimate[1] / w, Z: f.Estimate[2] / w}
}

// SetPosition moves the dehomogenized point to p, keeping the homogeneous scale.
func (f *MapFeature) SetPosition(p r3.Vector) {
	w := f.Estimate[3]
	f.Estimate[0], f.Estimate[1], f.Estimate[2] = p.X*w, p.Y*w, p.Z*w
}

// PointTrack returns the sorted ids of the keyframes observing the feature.
func (f *MapFeature) PointTrack() []int {
	track := lo.Keys(f.track)
	slices.Sort(track)
	return track
}

// TrackLength returns the number of keyframes observing the feature.
func (f *MapFeature) TrackLength() int {
	return len(f.track)
}

// ObservedBy reports whether keyframe kfID observes the feature.
func (f *MapFeature) ObservedBy(kfID int) bool {
	_, ok := f.track[kfID]
	return ok
}
