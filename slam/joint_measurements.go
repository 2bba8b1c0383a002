package slam

import (
	"slices"

	"github.com/samber/lo"
)

// JointMeasurements indexes, for every pair of keyframes, the features both of them observe. It is
// derived from a map and holds no map data.
type JointMeasurements struct {
	shared map[int]map[int]map[int]struct{}
}

// NewJointMeasurements returns an empty index.
func NewJointMeasurements() *JointMeasurements {
	return &JointMeasurements{shared: map[int]map[int]map[int]struct{}{}}
}

// BuildJointMeasurements indexes every pair of keyframes in each feature's point track.
func BuildJointMeasurements(m *Map) *JointMeasurements {
	jm := NewJointMeasurements()
	for featID, feat := range m.features {
		track := feat.PointTrack()
		for i, a := range track {
			for _, b := range track[i+1:] {
				jm.AddMeasurementForEntity(a, b, featID)
			}
		}
	}
	return jm
}

// AddMeasurementForEntity records that keyframes kfA and kfB both observe featID. Both directions
// are recorded; a keyframe paired with itself is ignored.
func (jm *JointMeasurements) AddMeasurementForEntity(kfA, kfB, featID int) {
	if kfA == kfB {
		return
	}
	jm.add(kfA, kfB, featID)
	jm.add(kfB, kfA, featID)
}

func (jm *JointMeasurements) add(from, to, featID int) {
	partners, ok := jm.shared[from]
	if !ok {
		partners = map[int]map[int]struct{}{}
		jm.shared[from] = partners
	}
	features, ok := partners[to]
	if !ok {
		features = map[int]struct{}{}
		partners[to] = features
	}
	features[featID] = struct{}{}
}

// Partners returns the sorted ids of keyframes sharing at least one feature with kf.
func (jm *JointMeasurements) Partners(kf int) []int {
	partners := lo.Keys(jm.shared[kf])
	slices.Sort(partners)
	return partners
}

// Shared returns the sorted ids of features observed by both keyframes.
func (jm *JointMeasurements) Shared(kfA, kfB int) []int {
	features := lo.Keys(jm.shared[kfA][kfB])
	slices.Sort(features)
	return features
}

// Pairs returns every co-observing keyframe pair once, as (a, b) with a < b, in sorted order.
func (jm *JointMeasurements) Pairs() [][2]int {
	var pairs [][2]int
	keyframes := lo.Keys(jm.shared)
	slices.Sort(keyframes)
	for _, a := range keyframes {
		for _, b := range jm.Partners(a) {
			if a < b {
				pairs = append(pairs, [2]int{a, b})
			}
		}
	}
	return pairs
}

// NumPairs returns the number of unordered co-observing keyframe pairs.
func (jm *JointMeasurements) NumPairs() int {
	n := 0
	for _, partners := range jm.shared {
		n += len(partners)
	}
	return n / 2
}
