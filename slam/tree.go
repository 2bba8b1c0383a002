package slam

import (
	"encoding/json"
	"io"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
)

// MapTree is the structured form of a map with named fields. It carries the same numeric state as
// the binary layout plus the keyframes' fixed flags.
type MapTree struct {
	Intrinsics   [9]float64        `json:"intrinsics" yaml:"intrinsics" bson:"intrinsics"`
	Keyframes    []KeyframeNode    `json:"keyframes" yaml:"keyframes" bson:"keyframes"`
	Features     []FeatureNode     `json:"features" yaml:"features" bson:"features"`
	Measurements []MeasurementNode `json:"measurements" yaml:"measurements" bson:"measurements"`
}

// KeyframeNode is a keyframe in a MapTree. Rotation is a quaternion (w, x, y, z).
type KeyframeNode struct {
	ID          int        `json:"id" yaml:"id" bson:"id"`
	Rotation    [4]float64 `json:"rotation" yaml:"rotation" bson:"rotation"`
	Translation [3]float64 `json:"translation" yaml:"translation" bson:"translation"`
	Fixed       bool       `json:"fixed,omitempty" yaml:"fixed,omitempty" bson:"fixed,omitempty"`
}

// FeatureNode is a feature in a MapTree.
type FeatureNode struct {
	ID         int         `json:"id" yaml:"id" bson:"id"`
	Estimate   [4]float64  `json:"estimate" yaml:"estimate" bson:"estimate"`
	Covariance [16]float64 `json:"covariance" yaml:"covariance" bson:"covariance"`
}

// MeasurementNode is a measurement in a MapTree.
type MeasurementNode struct {
	Keyframe    int        `json:"keyframe" yaml:"keyframe" bson:"keyframe"`
	Feature     int        `json:"feature" yaml:"feature" bson:"feature"`
	Point       [2]float64 `json:"point" yaml:"point" bson:"point"`
	Information [4]float64 `json:"information" yaml:"information" bson:"information"`
}

// Tree returns the structured form of the map.
func (m *Map) Tree() *MapTree {
	tree := &MapTree{
		Intrinsics:   [9]float64(m.cameraMatrix),
		Keyframes:    make([]KeyframeNode, 0, len(m.keyframes)),
		Features:     make([]FeatureNode, 0, len(m.features)),
		Measurements: make([]MeasurementNode, 0, m.measurementCount),
	}
	for _, kf := range m.keyframes {
		q := kf.Pose.Quaternion()
		t := kf.Pose.Point()
		tree.Keyframes = append(tree.Keyframes, KeyframeNode{
			ID:          kf.id,
			Rotation:    [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
			Translation: [3]float64{t.X, t.Y, t.Z},
			Fixed:       kf.fixed,
		})
	}
	for id, feat := range m.features {
		tree.Features = append(tree.Features, FeatureNode{ID: id, Estimate: feat.Estimate, Covariance: feat.Covariance})
	}
	for _, o := range m.Measurements() {
		tree.Measurements = append(tree.Measurements, MeasurementNode{
			Keyframe:    o.KeyframeID,
			Feature:     o.FeatureID,
			Point:       [2]float64{o.Measurement.Point.X, o.Measurement.Point.Y},
			Information: o.Measurement.Information,
		})
	}
	return tree
}

// NewMapFromTree builds a map from its structured form. Keyframe and feature ids must be exactly
// 0..n-1, in any order.
func NewMapFromTree(tree *MapTree, logger logging.Logger) (*Map, error) {
	if tree == nil {
		return nil, newMalformedMapError("empty map tree")
	}
	m := NewMap(transform.CameraMatrix(tree.Intrinsics), logger)

	keyframes := slices.Clone(tree.Keyframes)
	slices.SortFunc(keyframes, func(a, b KeyframeNode) int { return a.ID - b.ID })
	for i, node := range keyframes {
		if node.ID != i {
			return nil, newMalformedMapError("keyframe ids must be 0..%d, found %d", len(keyframes)-1, node.ID)
		}
		pose, err := poseFromRecord(node.Rotation, node.Translation)
		if err != nil {
			return nil, errors.Wrapf(err, "keyframe %d", node.ID)
		}
		m.AddKeyframe(pose)
		if node.Fixed {
			m.keyframes[i].fixed = true
		}
	}

	features := slices.Clone(tree.Features)
	slices.SortFunc(features, func(a, b FeatureNode) int { return a.ID - b.ID })
	for i, node := range features {
		if node.ID != i {
			return nil, newMalformedMapError("feature ids must be 0..%d, found %d", len(features)-1, node.ID)
		}
		m.AddFeature(MapFeature{Estimate: node.Estimate, Covariance: node.Covariance})
	}

	for i, node := range tree.Measurements {
		meas := MapMeasurement{Point: r2.Point{X: node.Point[0], Y: node.Point[1]}, Information: node.Information}
		if err := m.AddMeasurement(node.Feature, node.Keyframe, meas); err != nil {
			return nil, newMalformedMapError("measurement %d: %v", i, err)
		}
	}
	return m, nil
}

// WriteJSON encodes the map tree as JSON.
func (m *Map) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(m.Tree()), "error encoding JSON map")
}

// ReadJSON decodes a JSON map tree.
func ReadJSON(r io.Reader, logger logging.Logger) (*Map, error) {
	var tree MapTree
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tree); err != nil {
		return nil, newMalformedMapError("decoding JSON: %v", err)
	}
	return NewMapFromTree(&tree, logger)
}

// WriteYAML encodes the map tree as YAML.
func (m *Map) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.Tree()); err != nil {
		return errors.Wrap(err, "error encoding YAML map")
	}
	return errors.Wrap(enc.Close(), "error encoding YAML map")
}

// ReadYAML decodes a YAML map tree.
func ReadYAML(r io.Reader, logger logging.Logger) (*Map, error) {
	var tree MapTree
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tree); err != nil {
		return nil, newMalformedMapError("decoding YAML: %v", err)
	}
	return NewMapFromTree(&tree, logger)
}

// WriteBSON encodes the map tree as a BSON document.
func (m *Map) WriteBSON(w io.Writer) error {
	data, err := bson.Marshal(m.Tree())
	if err != nil {
		return errors.Wrap(err, "error encoding BSON map")
	}
	_, err = w.Write(data)
	return errors.Wrap(err, "error writing BSON map")
}

// ReadBSON decodes a BSON map tree.
func ReadBSON(r io.Reader, logger logging.Logger) (*Map, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "error reading BSON map")
	}
	var tree MapTree
	if err := bson.Unmarshal(data, &tree); err != nil {
		return nil, newMalformedMapError("decoding BSON: %v", err)
	}
	return NewMapFromTree(&tree, logger)
}
