package sba

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/sfm/slam"
)

// ReprojectionStats summarizes the pixel distance between each measurement and its feature
// projected through the observing keyframe.
type ReprojectionStats struct {
	Count int
	// Behind counts measurements whose feature is not in front of the camera; they are excluded.
	Behind    int
	Mean      float64
	Median    float64
	RMS       float64
	P95       float64
	Max       float64
	Keyframes []KeyframeReprojection
}

// KeyframeReprojection is the reprojection error of the measurements of one keyframe.
type KeyframeReprojection struct {
	ID    int
	Count int
	RMS   float64
}

// NewReprojectionStats computes reprojection statistics over every measurement of the map.
func NewReprojectionStats(m *slam.Map) (*ReprojectionStats, error) {
	k := m.CameraMatrix()
	out := &ReprojectionStats{}
	var distances, squared stats.Float64Data
	for _, kf := range m.Keyframes() {
		perKeyframe := KeyframeReprojection{ID: kf.ID()}
		sum := 0.
		for _, featID := range kf.FeatureIDs() {
			meas, _ := kf.Measurement(featID)
			px, ok := k.Project(kf.Pose.Transform(m.Features()[featID].Position()))
			if !ok {
				out.Behind++
				continue
			}
			d := meas.Point.Sub(px).Norm()
			distances = append(distances, d)
			squared = append(squared, d*d)
			sum += d * d
			perKeyframe.Count++
		}
		if perKeyframe.Count > 0 {
			perKeyframe.RMS = math.Sqrt(sum / float64(perKeyframe.Count))
		}
		out.Keyframes = append(out.Keyframes, perKeyframe)
	}

	out.Count = len(distances)
	if out.Count == 0 {
		return out, nil
	}
	var err error
	if out.Mean, err = stats.Mean(distances); err != nil {
		return nil, errors.Wrap(err, "mean reprojection error")
	}
	if out.Median, err = stats.Median(distances); err != nil {
		return nil, errors.Wrap(err, "median reprojection error")
	}
	if out.P95, err = stats.Percentile(distances, 95); err != nil {
		return nil, errors.Wrap(err, "95th percentile reprojection error")
	}
	if out.Max, err = stats.Max(distances); err != nil {
		return nil, errors.Wrap(err, "max reprojection error")
	}
	meanSquared, err := stats.Mean(squared)
	if err != nil {
		return nil, errors.Wrap(err, "rms reprojection error")
	}
	out.RMS = math.Sqrt(meanSquared)
	return out, nil
}
