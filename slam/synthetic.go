package slam

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/spatialmath"
)

// SceneParams describes a synthetic scene: cameras spaced along the x axis all looking at a common
// target, and features spread through a box in front of them by Latin hypercube sampling.
type SceneParams struct {
	Intrinsics   transform.PinholeCameraIntrinsics
	NumKeyframes int
	NumFeatures  int
	// Baseline is the distance between neighboring camera centers.
	Baseline float64
	Target   r3.Vector
	BoxMin   r3.Vector
	BoxMax   r3.Vector
	// PixelNoise is the standard deviation of the Gaussian noise added to measurements.
	PixelNoise float64
	// RotationNoise and TranslationNoise perturb the initial pose of every keyframe not fixed.
	RotationNoise    float64
	TranslationNoise float64
	// PointNoise perturbs every initial feature position.
	PointNoise float64
	// NumFixed keyframes, starting at id 0, are fixed at their true pose.
	NumFixed int
	Seed     int64
}

// DefaultSceneParams is a close range, wide angle scene of three cameras and ten features, with
// keyframe 0 as the only fixed keyframe. Every feature projects inside every image.
func DefaultSceneParams() SceneParams {
	return SceneParams{
		Intrinsics:       transform.PinholeCameraIntrinsics{Width: 15000, Height: 15000, Fx: 6000, Fy: 6000, Ppx: 7500, Ppy: 7500},
		NumKeyframes:     3,
		NumFeatures:      10,
		Baseline:         0.5,
		Target:           r3.Vector{X: 0, Y: 0, Z: 0.8},
		BoxMin:           r3.Vector{X: -0.6, Y: -0.45, Z: 0.5},
		BoxMax:           r3.Vector{X: 0.6, Y: 0.45, Z: 1.2},
		PixelNoise:       0.3,
		RotationNoise:    0.02,
		TranslationNoise: 0.02,
		PointNoise:       0.01,
		NumFixed:         1,
		Seed:             1,
	}
}

// Scene is a generated map together with the ground truth it was generated from.
type Scene struct {
	Map        *Map
	TruePoses  []spatialmath.Pose
	TruePoints []r3.Vector
}

// GenerateScene builds a synthetic scene. Every feature is observed by every keyframe; the
// measurements are exact projections of the true state plus noise.
func GenerateScene(params SceneParams, logger logging.Logger) (*Scene, error) {
	if err := params.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if params.NumKeyframes < 1 || params.NumFeatures < 0 || params.NumFixed < 0 {
		return nil, errors.Errorf("invalid scene size: %d keyframes, %d features, %d fixed",
			params.NumKeyframes, params.NumFeatures, params.NumFixed)
	}
	//nolint:gosec
	rng := rand.New(rand.NewSource(params.Seed))
	k := params.Intrinsics.CameraMatrix()
	scene := &Scene{Map: NewMap(k, logger)}

	first := -params.Baseline * float64(params.NumKeyframes-1) / 2
	for i := 0; i < params.NumKeyframes; i++ {
		center := r3.Vector{X: first + params.Baseline*float64(i)}
		pose, err := lookAt(center, params.Target)
		if err != nil {
			return nil, err
		}
		scene.TruePoses = append(scene.TruePoses, pose)
	}
	// each axis of the box is cut into NumFeatures slabs holding exactly one feature each
	size := params.BoxMax.Sub(params.BoxMin)
	n := float64(params.NumFeatures)
	slabs := [3][]int{rng.Perm(params.NumFeatures), rng.Perm(params.NumFeatures), rng.Perm(params.NumFeatures)}
	for i := 0; i < params.NumFeatures; i++ {
		scene.TruePoints = append(scene.TruePoints, params.BoxMin.Add(r3.Vector{
			X: size.X * (float64(slabs[0][i]) + rng.Float64()) / n,
			Y: size.Y * (float64(slabs[1][i]) + rng.Float64()) / n,
			Z: size.Z * (float64(slabs[2][i]) + rng.Float64()) / n,
		}))
	}

	for i, pose := range scene.TruePoses {
		if i >= params.NumFixed {
			rot := randomDirection(rng).Mul(params.RotationNoise)
			trans := randomDirection(rng).Mul(params.TranslationNoise)
			pose = spatialmath.Compose(spatialmath.ExpSE3(spatialmath.Twist{trans.X, trans.Y, trans.Z, rot.X, rot.Y, rot.Z}), pose)
		}
		id := scene.Map.AddKeyframe(pose)
		if i < params.NumFixed {
			if err := scene.Map.SetKeyframeFixed(id, true); err != nil {
				return nil, err
			}
		}
	}
	for _, p := range scene.TruePoints {
		offset := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(params.PointNoise)
		featID := scene.Map.AddFeature(NewMapFeature(p.Add(offset)))
		for kfID, pose := range scene.TruePoses {
			px, ok := k.Project(pose.Transform(p))
			if !ok {
				return nil, errors.Errorf("feature %d is behind keyframe %d", featID, kfID)
			}
			noisy := px.Add(r2.Point{X: rng.NormFloat64(), Y: rng.NormFloat64()}.Mul(params.PixelNoise))
			if err := scene.Map.AddMeasurement(featID, kfID, NewMapMeasurement(noisy)); err != nil {
				return nil, err
			}
		}
	}
	return scene, nil
}

// lookAt returns the camera-from-world pose of a camera at center whose optical axis points at
// target, with image x to the right and y along the world y axis.
func lookAt(center, target r3.Vector) (spatialmath.Pose, error) {
	z := target.Sub(center).Normalize()
	x := r3.Vector{Y: 1}.Cross(z).Normalize()
	y := z.Cross(x)
	rm, err := spatialmath.NewRotationMatrix([]float64{x.X, x.Y, x.Z, y.X, y.Y, y.Z, z.X, z.Y, z.Z})
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.NewPose(rm.Mul(center).Mul(-1), rm), nil
}

func randomDirection(rng *rand.Rand) r3.Vector {
	for {
		v := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if n := v.Norm(); n > 1e-9 {
			return v.Mul(1 / n)
		}
	}
}
