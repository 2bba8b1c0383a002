package sba

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/slam"
	"go.viam.com/sfm/spatialmath"
)

func newTestSolver(t *testing.T, cfg *Config) *SparseBundleAdjustment {
	t.Helper()
	s, err := New(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func assertNonIncreasing(t *testing.T, history []float64) {
	t.Helper()
	for i := 1; i < len(history); i++ {
		test.That(t, history[i], test.ShouldBeLessThanOrEqualTo, history[i-1])
	}
}

// alignToAnchor removes the scale left free by a single fixed keyframe: camera centers and features
// are scaled about the center of keyframe 0 by the factor that best fits the true camera centers.
func alignToAnchor(m *slam.Map, truePoses []spatialmath.Pose) ([]spatialmath.Pose, []r3.Vector) {
	anchor := truePoses[0].CameraCenter()
	var num, den float64
	for i, kf := range m.Keyframes() {
		if i == 0 {
			continue
		}
		est := kf.Pose.CameraCenter().Sub(anchor)
		num += est.Dot(truePoses[i].CameraCenter().Sub(anchor))
		den += est.Dot(est)
	}
	scale := 1.
	if den > 0 {
		scale = num / den
	}
	rescale := func(p r3.Vector) r3.Vector {
		return anchor.Add(p.Sub(anchor).Mul(scale))
	}

	var poses []spatialmath.Pose
	for _, kf := range m.Keyframes() {
		rm := kf.Pose.RotationMatrix()
		poses = append(poses, spatialmath.NewPose(rm.Mul(rescale(kf.Pose.CameraCenter())).Mul(-1), rm))
	}
	var points []r3.Vector
	for _, feat := range m.Features() {
		points = append(points, rescale(feat.Position()))
	}
	return poses, points
}

func TestSyntheticScene(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for seed := int64(1); seed <= 6; seed++ {
		params := slam.DefaultSceneParams()
		params.Seed = seed
		scene, err := slam.GenerateScene(params, logger)
		test.That(t, err, test.ShouldBeNil)
		m := scene.Map

		res, err := newTestSolver(t, nil).Optimize(context.Background(), m, NewCountAndCostDelta(30, 1e-8))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Cost, test.ShouldBeLessThan, res.InitialCost)
		test.That(t, res.Iterations, test.ShouldBeGreaterThan, 0)
		test.That(t, res.Iterations, test.ShouldBeLessThanOrEqualTo, 30)
		test.That(t, len(res.CostHistory), test.ShouldEqual, res.Iterations+1)
		assertNonIncreasing(t, res.CostHistory)

		// keyframe 0 is the only fixed keyframe, so both other poses are perturbed and recovered
		test.That(t, m.Keyframes()[0].Pose, test.ShouldResemble, scene.TruePoses[0])
		poses, points := alignToAnchor(m, scene.TruePoses)
		for i, pose := range poses {
			truth := scene.TruePoses[i]
			test.That(t, pose.Point().Sub(truth.Point()).Norm(), test.ShouldBeLessThan, 1e-3)
			test.That(t, spatialmath.AngleBetween(pose.Orientation(), truth.Orientation()), test.ShouldBeLessThan, 1e-3)
		}
		for i, p := range points {
			test.That(t, p.Sub(scene.TruePoints[i]).Norm(), test.ShouldBeLessThan, 0.05)
		}

		stats, err := NewReprojectionStats(m)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, stats.Count, test.ShouldEqual, 30)
		test.That(t, stats.Behind, test.ShouldEqual, 0)
		// residuals are of the order of the pixel noise once converged
		test.That(t, stats.RMS, test.ShouldBeLessThan, 1.)
		test.That(t, stats.Median, test.ShouldBeLessThanOrEqualTo, stats.Max)
		test.That(t, len(stats.Keyframes), test.ShouldEqual, 3)
	}
}

func TestSingleAnchorDecreasesCost(t *testing.T) {
	params := slam.DefaultSceneParams()
	params.NumFixed = 1
	params.Seed = 9
	scene, err := slam.GenerateScene(params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	s := newTestSolver(t, nil)
	res, err := s.Optimize(context.Background(), scene.Map, NewCountAndCostDelta(30, 1e-8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cost, test.ShouldBeLessThan, res.InitialCost)
	assertNonIncreasing(t, res.CostHistory)
	test.That(t, res.CostHistory[len(res.CostHistory)-1], test.ShouldEqual, res.Cost)
	test.That(t, scene.Map.Keyframes()[0].Pose, test.ShouldResemble, scene.TruePoses[0])
}

func TestWorkersAreDeterministic(t *testing.T) {
	params := slam.DefaultSceneParams()
	params.NumKeyframes = 5
	params.NumFeatures = 25
	params.NumFixed = 1
	logger := logging.NewTestLogger(t)

	var trees []*slam.MapTree
	for _, workers := range []int{1, 4} {
		scene, err := slam.GenerateScene(params, logger)
		test.That(t, err, test.ShouldBeNil)
		cfg := NewDefaultConfig()
		cfg.Workers = workers
		_, err = newTestSolver(t, cfg).Optimize(context.Background(), scene.Map, NewMaxIterations(5))
		test.That(t, err, test.ShouldBeNil)
		trees = append(trees, scene.Map.Tree())
	}
	test.That(t, trees[1], test.ShouldResemble, trees[0])
}

func TestRejectedStepRestoresState(t *testing.T) {
	params := slam.DefaultSceneParams()
	params.NumFixed = 0
	params.RotationNoise = 0.05
	params.TranslationNoise = 0.05
	scene, err := slam.GenerateScene(params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	m := scene.Map
	before := m.Tree()

	p := newProblem(m)
	p.linearize()
	ok, err := p.reduce(context.Background(), 1e-3, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.solve(), test.ShouldBeTrue)
	p.apply()
	test.That(t, m.Tree(), test.ShouldNotResemble, before)
	p.restore()
	test.That(t, m.Tree(), test.ShouldResemble, before)
}

func TestStationaryAtExactSolution(t *testing.T) {
	params := slam.DefaultSceneParams()
	params.PixelNoise = 0
	params.RotationNoise = 0
	params.TranslationNoise = 0
	params.PointNoise = 0
	scene, err := slam.GenerateScene(params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	before := scene.Map.Tree()

	res, err := newTestSolver(t, nil).Optimize(context.Background(), scene.Map, NewCountAndCostDelta(30, 1e-8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.InitialCost, test.ShouldEqual, 0.)
	test.That(t, res.Cost, test.ShouldEqual, 0.)
	test.That(t, res.Stationary, test.ShouldBeTrue)
	test.That(t, res.Iterations, test.ShouldEqual, 0)
	// lambda grows tenfold from 1e-3 until it passes 1e12
	test.That(t, res.Rejections, test.ShouldBeGreaterThanOrEqualTo, 15)
	test.That(t, res.Rejections, test.ShouldBeLessThanOrEqualTo, 16)
	test.That(t, res.Lambda, test.ShouldBeGreaterThan, DefaultMaxLambda)
	test.That(t, scene.Map.Tree(), test.ShouldResemble, before)
}

func TestFailedToConverge(t *testing.T) {
	m := slam.NewMap(transform.NewCameraMatrix(2000, 2000, 1280, 960), logging.NewTestLogger(t))
	kf0 := m.AddKeyframe(spatialmath.NewZeroPose())
	kf1 := m.AddKeyframe(spatialmath.NewPose(r3.Vector{X: -1}, nil))
	test.That(t, m.SetKeyframeFixed(kf1, true), test.ShouldBeNil)
	// so far away that the point block underflows to zero
	featID := m.AddFeature(slam.NewMapFeature(r3.Vector{Z: 1e200}))
	test.That(t, m.AddMeasurement(featID, kf0, slam.NewMapMeasurement(r2.Point{X: 1281, Y: 960})), test.ShouldBeNil)
	test.That(t, m.AddMeasurement(featID, kf1, slam.NewMapMeasurement(r2.Point{X: 1280, Y: 961})), test.ShouldBeNil)
	before := m.Tree()

	res, err := newTestSolver(t, nil).Optimize(context.Background(), m, NewCountAndCostDelta(30, 1e-8))
	test.That(t, errors.Is(err, ErrFailedToConverge), test.ShouldBeTrue)
	test.That(t, res.NumericFailures, test.ShouldBeGreaterThanOrEqualTo, 15)
	test.That(t, res.NumericFailures, test.ShouldBeLessThanOrEqualTo, 16)
	test.That(t, res.Iterations, test.ShouldEqual, 0)
	test.That(t, m.Tree(), test.ShouldResemble, before)
}

func TestDegenerateMaps(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s := newTestSolver(t, nil)
	k := transform.NewCameraMatrix(500, 500, 320, 240)

	empty := slam.NewMap(k, logger)
	res, err := s.Optimize(context.Background(), empty, NewMaxIterations(10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cost, test.ShouldEqual, 0.)
	test.That(t, res.Iterations, test.ShouldEqual, 0)

	keyframesOnly := slam.NewMap(k, logger)
	keyframesOnly.AddKeyframe(spatialmath.NewZeroPose())
	res, err = s.Optimize(context.Background(), keyframesOnly, NewMaxIterations(10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cost, test.ShouldEqual, 0.)

	unobserved := slam.NewMap(k, logger)
	unobserved.AddKeyframe(spatialmath.NewZeroPose())
	unobserved.AddFeature(slam.NewMapFeature(r3.Vector{Z: 1}))
	res, err = s.Optimize(context.Background(), unobserved, NewMaxIterations(10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cost, test.ShouldEqual, 0.)

	featuresOnly := slam.NewMap(k, logger)
	featuresOnly.AddFeature(slam.NewMapFeature(r3.Vector{Z: 1}))
	res, err = s.Optimize(context.Background(), featuresOnly, NewMaxIterations(10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cost, test.ShouldEqual, 0.)
}

func TestStructureOnly(t *testing.T) {
	params := slam.DefaultSceneParams()
	params.NumFixed = params.NumKeyframes
	params.PointNoise = 0.05
	scene, err := slam.GenerateScene(params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	res, err := newTestSolver(t, nil).Optimize(context.Background(), scene.Map, NewCountAndCostDelta(30, 1e-10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cost, test.ShouldBeLessThan, res.InitialCost)
	for i, kf := range scene.Map.Keyframes() {
		test.That(t, kf.Pose, test.ShouldResemble, scene.TruePoses[i])
	}
	for i, feat := range scene.Map.Features() {
		test.That(t, feat.Position().Sub(scene.TruePoints[i]).Norm(), test.ShouldBeLessThan, 0.01)
	}
}

func TestInvalidInitialState(t *testing.T) {
	m := slam.NewMap(transform.NewCameraMatrix(500, 500, 320, 240), logging.NewTestLogger(t))
	kfID := m.AddKeyframe(spatialmath.NewZeroPose())
	_, err := m.AddFeatureToKeyframe(slam.NewMapFeature(r3.Vector{Z: -1}), slam.NewMapMeasurement(r2.Point{X: 320, Y: 240}), kfID)
	test.That(t, err, test.ShouldBeNil)

	_, err = newTestSolver(t, nil).Optimize(context.Background(), m, NewMaxIterations(10))
	test.That(t, errors.Is(err, ErrInvalidInitialState), test.ShouldBeTrue)
}

func TestOptimizeNotReentrant(t *testing.T) {
	scene, err := slam.GenerateScene(slam.DefaultSceneParams(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	s := newTestSolver(t, nil)
	s.running.Store(true)
	_, err = s.Optimize(context.Background(), scene.Map, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeError, ErrOptimizationInProgress)

	s.running.Store(false)
	_, err = s.Optimize(context.Background(), scene.Map, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeNil)
}

func TestOptimizeCanceled(t *testing.T) {
	scene, err := slam.GenerateScene(slam.DefaultSceneParams(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	before := scene.Map.Tree()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestSolver(t, nil).Optimize(ctx, scene.Map, NewMaxIterations(10))
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, res.Iterations, test.ShouldEqual, 0)
	test.That(t, res.Cost, test.ShouldEqual, res.InitialCost)
	test.That(t, scene.Map.Tree(), test.ShouldResemble, before)
}

func TestTopologyIsCached(t *testing.T) {
	params := slam.DefaultSceneParams()
	scene, err := slam.GenerateScene(params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	m := scene.Map
	s := newTestSolver(t, nil)

	_, err = s.Optimize(context.Background(), m, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeNil)
	first := s.problem
	_, err = s.Optimize(context.Background(), m, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.problem, test.ShouldEqual, first)

	kfID := m.AddKeyframe(m.Keyframes()[2].Pose)
	feat := m.Features()[0]
	px, ok := m.CameraMatrix().Project(m.Keyframes()[kfID].Pose.Transform(feat.Position()))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m.AddMeasurement(0, kfID, slam.NewMapMeasurement(px)), test.ShouldBeNil)
	_, err = s.Optimize(context.Background(), m, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.problem, test.ShouldNotEqual, first)
	test.That(t, len(s.problem.free), test.ShouldEqual, m.NumKeyframes()-params.NumFixed)
}

func TestResetReleasesMap(t *testing.T) {
	logger := logging.NewTestLogger(t)
	params := slam.DefaultSceneParams()
	scene, err := slam.GenerateScene(params, logger)
	test.That(t, err, test.ShouldBeNil)
	s := newTestSolver(t, nil)

	_, err = s.Optimize(context.Background(), scene.Map, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.problem.m, test.ShouldEqual, scene.Map)
	test.That(t, s.Reset(), test.ShouldBeNil)
	test.That(t, s.problem, test.ShouldBeNil)

	_, err = s.Optimize(context.Background(), scene.Map, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.problem, test.ShouldNotBeNil)

	// optimizing another map replaces the reference to the first one
	params.Seed = 2
	other, err := slam.GenerateScene(params, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = s.Optimize(context.Background(), other.Map, NewMaxIterations(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.problem.m, test.ShouldEqual, other.Map)

	s.running.Store(true)
	test.That(t, s.Reset(), test.ShouldBeError, ErrOptimizationInProgress)
	test.That(t, s.problem, test.ShouldNotBeNil)
	s.running.Store(false)
}

func TestPlotCostHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost.png")
	err := PlotCostHistory(&Result{CostHistory: []float64{3, 2, 1.5, 1.4}}, path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, PlotCostHistory(&Result{}, path), test.ShouldNotBeNil)
}
