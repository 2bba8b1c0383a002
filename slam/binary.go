package slam

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/spatialmath"
)

// preallocLimit caps how many entries a decoder reserves up front from an untrusted header.
const preallocLimit = 1 << 16

var byteOrder = binary.LittleEndian

type keyframeRecord struct {
	Rotation    [4]float64 // w, x, y, z
	Translation [3]float64
}

type featureRecord struct {
	Estimate   [4]float64
	Covariance [16]float64
}

// binaryWriter keeps the first write error so the layout reads top to bottom.
type binaryWriter struct {
	w   io.Writer
	err error
}

func (bw *binaryWriter) put(v interface{}) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, byteOrder, v)
}

// WriteBinary encodes the map in the fixed little-endian layout:
//
//	uint32 nKeyframes, nFeatures, nMeasurements
//	float64[9] camera matrix, row-major
//	per keyframe: float64[4] rotation (w, x, y, z), float64[3] translation
//	per feature: float64[4] estimate, float64[16] covariance
//	float64[2] point, per measurement
//	float64[4] information, per measurement
//	uint32 keyframe index, per measurement
//	uint32 feature index, per measurement
//
// Fixed flags are not encoded.
func (m *Map) WriteBinary(w io.Writer) error {
	if uint64(len(m.keyframes)) > math.MaxUint32 || uint64(len(m.features)) > math.MaxUint32 ||
		uint64(m.measurementCount) > math.MaxUint32 {
		return errors.New("map is too large for the binary format")
	}
	buffered := bufio.NewWriter(w)
	bw := &binaryWriter{w: buffered}
	obs := m.Measurements()

	bw.put([3]uint32{uint32(len(m.keyframes)), uint32(len(m.features)), uint32(len(obs))})
	bw.put([9]float64(m.cameraMatrix))
	for _, kf := range m.keyframes {
		q := kf.Pose.Quaternion()
		t := kf.Pose.Point()
		bw.put(keyframeRecord{
			Rotation:    [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
			Translation: [3]float64{t.X, t.Y, t.Z},
		})
	}
	for _, feat := range m.features {
		bw.put(featureRecord{Estimate: feat.Estimate, Covariance: feat.Covariance})
	}
	for _, o := range obs {
		bw.put([2]float64{o.Measurement.Point.X, o.Measurement.Point.Y})
	}
	for _, o := range obs {
		bw.put(o.Measurement.Information)
	}
	for _, o := range obs {
		bw.put(uint32(o.KeyframeID))
	}
	for _, o := range obs {
		bw.put(uint32(o.FeatureID))
	}
	if bw.err != nil {
		return errors.Wrap(bw.err, "error writing binary map")
	}
	return errors.Wrap(buffered.Flush(), "error flushing binary map")
}

// ReadBinary decodes a map written by WriteBinary. On error no map is returned.
func ReadBinary(r io.Reader, logger logging.Logger) (*Map, error) {
	br := bufio.NewReader(r)
	read := func(what string, v interface{}) error {
		if err := binary.Read(br, byteOrder, v); err != nil {
			return newMalformedMapError("reading %s: %v", what, err)
		}
		return nil
	}

	var header [3]uint32
	if err := read("header", &header); err != nil {
		return nil, err
	}
	numKeyframes, numFeatures, numMeasurements := int(header[0]), int(header[1]), int(header[2])

	var k [9]float64
	if err := read("camera matrix", &k); err != nil {
		return nil, err
	}
	m := NewMap(transform.CameraMatrix(k), logger)

	for i := 0; i < numKeyframes; i++ {
		var rec keyframeRecord
		if err := read("keyframe", &rec); err != nil {
			return nil, errors.Wrapf(err, "keyframe %d", i)
		}
		pose, err := poseFromRecord(rec.Rotation, rec.Translation)
		if err != nil {
			return nil, errors.Wrapf(err, "keyframe %d", i)
		}
		m.AddKeyframe(pose)
	}
	for i := 0; i < numFeatures; i++ {
		var rec featureRecord
		if err := read("feature", &rec); err != nil {
			return nil, errors.Wrapf(err, "feature %d", i)
		}
		m.AddFeature(MapFeature{Estimate: rec.Estimate, Covariance: rec.Covariance})
	}

	points := make([][2]float64, 0, min(numMeasurements, preallocLimit))
	for i := 0; i < numMeasurements; i++ {
		var p [2]float64
		if err := read("measurement point", &p); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	information := make([][4]float64, 0, len(points))
	for i := 0; i < numMeasurements; i++ {
		var info [4]float64
		if err := read("measurement information", &info); err != nil {
			return nil, err
		}
		information = append(information, info)
	}
	kfIndices := make([]uint32, 0, len(points))
	for i := 0; i < numMeasurements; i++ {
		var idx uint32
		if err := read("measurement keyframe index", &idx); err != nil {
			return nil, err
		}
		kfIndices = append(kfIndices, idx)
	}
	for i := 0; i < numMeasurements; i++ {
		var featIdx uint32
		if err := read("measurement feature index", &featIdx); err != nil {
			return nil, err
		}
		meas := MapMeasurement{Point: r2.Point{X: points[i][0], Y: points[i][1]}, Information: information[i]}
		if err := m.AddMeasurement(int(featIdx), int(kfIndices[i]), meas); err != nil {
			return nil, newMalformedMapError("measurement %d: %v", i, err)
		}
	}
	return m, nil
}

func poseFromRecord(rotation [4]float64, translation [3]float64) (spatialmath.Pose, error) {
	q := quat.Number{Real: rotation[0], Imag: rotation[1], Jmag: rotation[2], Kmag: rotation[3]}
	norm := quat.Abs(q)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return spatialmath.Pose{}, newMalformedMapError("invalid rotation %v", rotation)
	}
	return spatialmath.NewPoseFromQuaternion(r3.Vector{X: translation[0], Y: translation[1], Z: translation[2]}, q), nil
}
