// Package sba implements sparse bundle adjustment: a Levenberg-Marquardt optimizer over the camera
// poses and feature positions of a slam.Map, solving the normal equations by Schur complement and a
// block sparse Cholesky factorization of the reduced camera system.
package sba

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/slam"
)

var (
	// ErrFailedToConverge is returned when damping reaches its ceiling without a numerically usable step.
	ErrFailedToConverge = errors.New("bundle adjustment failed to converge")
	// ErrOptimizationInProgress is returned when Optimize is called while another call is running.
	ErrOptimizationInProgress = errors.New("optimization already in progress")
	// ErrInvalidInitialState is returned when the map has a feature behind a camera observing it or
	// a non-finite estimate.
	ErrInvalidInitialState = errors.New("invalid initial state")
)

// Result summarizes an optimization run.
type Result struct {
	InitialCost float64
	Cost        float64
	// Iterations counts accepted steps.
	Iterations int
	Rejections int
	// NumericFailures counts damped systems that could not be solved.
	NumericFailures int
	Lambda          float64
	// CostHistory holds the initial cost followed by the cost after each accepted step.
	CostHistory []float64
	// Stationary is set when damping reached its ceiling because no step reduced the cost.
	Stationary bool
}

// SparseBundleAdjustment refines keyframe poses and feature estimates of a map in place. A solver
// keeps the sparsity pattern and symbolic factorization of the last map it optimized and reuses
// them while the map's topology is unchanged. The cache holds a reference to that map until Reset
// is called or a different map is optimized.
type SparseBundleAdjustment struct {
	cfg     Config
	logger  logging.Logger
	running atomic.Bool
	problem *problem
}

// New returns a solver using cfg, or the default configuration when cfg is nil.
func New(cfg *Config, logger logging.Logger) (*SparseBundleAdjustment, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate("sba"); err != nil {
		return nil, err
	}
	return &SparseBundleAdjustment{cfg: *cfg, logger: logger}, nil
}

// Reset drops the cached reduced system and the map it references. It fails with
// ErrOptimizationInProgress while Optimize is running.
func (s *SparseBundleAdjustment) Reset() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrOptimizationInProgress
	}
	defer s.running.Store(false)
	s.problem = nil
	return nil
}

// Optimize runs Levenberg-Marquardt on m until criteria is finished. The map must not be mutated
// while Optimize runs. The context is checked between iterations; on return the map always holds
// the last accepted state.
func (s *SparseBundleAdjustment) Optimize(
	ctx context.Context,
	m *slam.Map,
	criteria TerminationCriteria,
) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrOptimizationInProgress
	}
	defer s.running.Store(false)

	if m.NumKeyframes() == 0 || m.NumFeatures() == 0 || m.MeasurementCount() == 0 {
		s.logger.Debugw("nothing to optimize",
			"keyframes", m.NumKeyframes(), "features", m.NumFeatures(), "measurements", m.MeasurementCount())
		return &Result{CostHistory: []float64{0}, Lambda: s.cfg.InitialLambda}, nil
	}
	if err := m.CameraMatrix().CheckValid(); err != nil {
		return nil, err
	}

	if !s.problem.valid(m) {
		// release the previous map and its buffers before allocating new ones
		s.problem = nil
		s.problem = newProblem(m)
		s.logger.Debugw("built reduced camera system",
			"revision", m.Revision(),
			"cameras", len(s.problem.free),
			"pairs", s.problem.joint.NumPairs(),
			"blocks", s.problem.s.numBlocks(),
			"factorBlocks", s.problem.chol.l.numBlocks())
	}
	p := s.problem

	cost := p.cost()
	if math.IsInf(cost, 1) {
		return nil, errors.Wrap(ErrInvalidInitialState, "a feature is behind a camera observing it or is not finite")
	}

	res := &Result{InitialCost: cost, Cost: cost, CostHistory: []float64{cost}}
	lambda := s.cfg.InitialLambda
	// reduce runs without cancellation so a step is never left half built
	stepCtx := context.WithoutCancel(ctx)
	linearized := false

	for !criteria.Finished(cost, res.Iterations) {
		if err := ctx.Err(); err != nil {
			res.Cost, res.Lambda = cost, lambda
			return res, err
		}
		if !linearized {
			p.linearize()
			linearized = true
		}

		ok, err := p.reduce(stepCtx, lambda, s.cfg.Workers)
		if err != nil {
			return nil, err
		}
		if !ok || !p.solve() {
			res.NumericFailures++
			lambda *= s.cfg.LambdaIncrease
			s.logger.Debugw("damped system not solvable", "iteration", res.Iterations, "lambda", lambda)
			if lambda > s.cfg.MaxLambda {
				res.Cost, res.Lambda = cost, lambda
				return res, errors.Wrapf(ErrFailedToConverge, "lambda %g exceeded %g", lambda, s.cfg.MaxLambda)
			}
			continue
		}

		p.apply()
		newCost := p.cost()
		if newCost < cost {
			cost = newCost
			res.Iterations++
			res.CostHistory = append(res.CostHistory, cost)
			lambda = math.Max(lambda/s.cfg.LambdaDecrease, s.cfg.MinLambda)
			linearized = false
			s.logger.Debugw("accepted step", "iteration", res.Iterations, "cost", cost, "lambda", lambda)
			continue
		}

		p.restore()
		res.Rejections++
		lambda *= s.cfg.LambdaIncrease
		s.logger.Debugw("rejected step", "iteration", res.Iterations, "cost", newCost, "lambda", lambda)
		if lambda > s.cfg.MaxLambda {
			res.Stationary = true
			break
		}
	}

	res.Cost = cost
	res.Lambda = lambda
	s.logger.Infow("bundle adjustment finished",
		"initialCost", res.InitialCost,
		"cost", res.Cost,
		"iterations", res.Iterations,
		"rejections", res.Rejections,
		"numericFailures", res.NumericFailures,
		"stationary", res.Stationary)
	return res, nil
}
