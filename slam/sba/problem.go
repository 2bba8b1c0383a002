package sba

import (
	"context"
	"math"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"

	"go.viam.com/sfm/slam"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

const (
	pointDim = 3
	// crossLen is the number of values in a camDim x pointDim cross block.
	crossLen = camDim * pointDim
)

type observation struct {
	keyframe int
	feature  int
	// camera is the reduced camera index, or -1 when the keyframe is not optimized.
	camera int
	meas   slam.MapMeasurement
}

// contribution subtracts Y[o1]·W[o2]ᵀ from a block of the reduced camera matrix.
type contribution struct {
	o1, o2 int
	block  int
}

// problem holds everything derived from one map topology, plus the per-iteration buffers sized for
// it. It is rebuilt only when the map revision changes.
type problem struct {
	m        *slam.Map
	revision uint64

	// keyframe ids of the optimized cameras, and the reverse mapping (-1 for keyframes not optimized)
	free    []int
	reduced []int

	obs         []observation
	featureObs  [][]int
	cameraObs   [][]int
	colContribs [][]contribution

	joint *slam.JointMeasurements
	s     *blockSparse
	chol  *numericCholesky

	// linearization at the current accepted state
	pointH   [][9]float64
	pointG   [][3]float64
	cameraH  [][blockLen]float64
	cameraG  [][camDim]float64
	cross    [][crossLen]float64
	rotation []*spatialmath.RotationMatrix

	// damped reduction
	pointInv [][9]float64
	crossInv [][crossLen]float64
	rhs      []float64

	// step
	cameraDelta []float64
	pointDelta  [][3]float64
	savedPoses  []spatialmath.Pose
	savedPoints [][4]float64
}

func newProblem(m *slam.Map) *problem {
	p := &problem{m: m, revision: m.Revision()}
	numKeyframes, numFeatures := m.NumKeyframes(), m.NumFeatures()

	p.reduced = make([]int, numKeyframes)
	for _, kf := range m.Keyframes() {
		p.reduced[kf.ID()] = -1
		if kf.Fixed() || kf.NumMeasurements() == 0 {
			continue
		}
		p.reduced[kf.ID()] = len(p.free)
		p.free = append(p.free, kf.ID())
	}

	p.featureObs = make([][]int, numFeatures)
	p.cameraObs = make([][]int, len(p.free))
	for _, o := range m.Measurements() {
		idx := len(p.obs)
		cam := p.reduced[o.KeyframeID]
		p.obs = append(p.obs, observation{keyframe: o.KeyframeID, feature: o.FeatureID, camera: cam, meas: o.Measurement})
		p.featureObs[o.FeatureID] = append(p.featureObs[o.FeatureID], idx)
		if cam >= 0 {
			p.cameraObs[cam] = append(p.cameraObs[cam], idx)
		}
	}

	p.joint = slam.BuildJointMeasurements(m)
	var offDiagonal [][2]int
	for _, pair := range p.joint.Pairs() {
		a, b := p.reduced[pair[0]], p.reduced[pair[1]]
		if a >= 0 && b >= 0 {
			offDiagonal = append(offDiagonal, [2]int{a, b})
		}
	}
	p.s = newBlockSparse(len(p.free), offDiagonal)
	p.chol = newNumericCholesky(analyze(p.s))

	p.colContribs = make([][]contribution, len(p.free))
	for _, featObs := range p.featureObs {
		var seen []int
		for _, o := range featObs {
			if p.obs[o].camera >= 0 {
				seen = append(seen, o)
			}
		}
		slices.SortFunc(seen, func(a, b int) int { return p.obs[a].camera - p.obs[b].camera })
		for i, o1 := range seen {
			for _, o2 := range seen[:i+1] {
				row, col := p.obs[o1].camera, p.obs[o2].camera
				p.colContribs[col] = append(p.colContribs[col], contribution{o1: o1, o2: o2, block: p.s.find(row, col)})
			}
		}
	}

	p.pointH = make([][9]float64, numFeatures)
	p.pointG = make([][3]float64, numFeatures)
	p.pointInv = make([][9]float64, numFeatures)
	p.pointDelta = make([][3]float64, numFeatures)
	p.savedPoints = make([][4]float64, numFeatures)
	p.cameraH = make([][blockLen]float64, len(p.free))
	p.cameraG = make([][camDim]float64, len(p.free))
	p.cross = make([][crossLen]float64, len(p.obs))
	p.crossInv = make([][crossLen]float64, len(p.obs))
	p.rotation = make([]*spatialmath.RotationMatrix, numKeyframes)
	p.rhs = make([]float64, camDim*len(p.free))
	p.cameraDelta = make([]float64, camDim*len(p.free))
	p.savedPoses = make([]spatialmath.Pose, len(p.free))
	return p
}

// valid reports whether the problem still describes the map's topology.
func (p *problem) valid(m *slam.Map) bool {
	return p != nil && p.m == m && p.revision == m.Revision()
}

// residual returns observed minus predicted pixel and the camera frame point. ok is false when the
// feature is not in front of the camera.
func (p *problem) residual(o observation, k projector) (r2.Point, r3.Vector, bool) {
	kf := p.m.Keyframes()[o.keyframe]
	xc := kf.Pose.Transform(p.m.Features()[o.feature].Position())
	predicted, ok := k.Project(xc)
	if !ok || !utils.IsFinite(predicted.X, predicted.Y) {
		return r2.Point{}, xc, false
	}
	return o.meas.Point.Sub(predicted), xc, true
}

type projector interface {
	Project(p r3.Vector) (r2.Point, bool)
	ProjectionJacobian(p r3.Vector) [6]float64
}

// cost is the mean weighted squared reprojection error, or +Inf if any feature is behind a camera
// observing it or the error is not finite.
func (p *problem) cost() float64 {
	if len(p.obs) == 0 {
		return 0
	}
	k := p.m.CameraMatrix()
	total := 0.
	for _, o := range p.obs {
		r, _, ok := p.residual(o, k)
		if !ok {
			return math.Inf(1)
		}
		total += o.meas.WeightedSquaredError(r)
	}
	total /= float64(len(p.obs))
	if !utils.IsFinite(total) {
		return math.Inf(1)
	}
	return total
}

// linearize fills the point, camera and cross blocks of the normal equations at the current state.
// Jacobians are of the predicted pixel, so the gradients are Jᵀ·W·r and the solved step is added.
func (p *problem) linearize() {
	clear(p.pointH)
	clear(p.pointG)
	clear(p.cameraH)
	clear(p.cameraG)
	clear(p.cross)
	for i, kf := range p.m.Keyframes() {
		p.rotation[i] = kf.Pose.RotationMatrix()
	}

	k := p.m.CameraMatrix()
	var jc, wjc [2 * camDim]float64
	var jp, wjp [2 * pointDim]float64
	for idx, o := range p.obs {
		r, xc, ok := p.residual(o, k)
		if !ok {
			continue
		}
		proj := k.ProjectionJacobian(xc)
		info := o.meas.Information
		wr := [2]float64{info[0]*r.X + info[1]*r.Y, info[2]*r.X + info[3]*r.Y}
		for a := 0; a < 2; a++ {
			row := r3.Vector{X: proj[3*a], Y: proj[3*a+1], Z: proj[3*a+2]}
			// d(xc)/d(twist) = [I | -[xc]x], so the rotation part of the row is xc x row
			rot := xc.Cross(row)
			copy(jc[a*camDim:], []float64{row.X, row.Y, row.Z, rot.X, rot.Y, rot.Z})
			// d(xc)/d(point) = R
			pt := p.rotation[o.keyframe].MulTranspose(row)
			copy(jp[a*pointDim:], []float64{pt.X, pt.Y, pt.Z})
		}
		weight(info, jc[:], wjc[:], camDim)
		weight(info, jp[:], wjp[:], pointDim)

		jpG := general(2, pointDim, jp[:])
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, jpG, general(2, pointDim, wjp[:]), 1,
			general(pointDim, pointDim, p.pointH[o.feature][:]))
		blas64.Gemv(blas.Trans, 1, jpG, vector(wr[:]), 1, vector(p.pointG[o.feature][:]))

		if o.camera < 0 {
			continue
		}
		jcG := general(2, camDim, jc[:])
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, jcG, general(2, camDim, wjc[:]), 1,
			general(camDim, camDim, p.cameraH[o.camera][:]))
		blas64.Gemv(blas.Trans, 1, jcG, vector(wr[:]), 1, vector(p.cameraG[o.camera][:]))
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, jcG, general(2, pointDim, wjp[:]), 0,
			general(camDim, pointDim, p.cross[idx][:]))
	}
}

// weight computes dst = info·src for a 2 x n row-major src.
func weight(info [4]float64, src, dst []float64, n int) {
	for c := 0; c < n; c++ {
		a, b := src[c], src[n+c]
		dst[c] = info[0]*a + info[1]*b
		dst[n+c] = info[2]*a + info[3]*b
	}
}

func general(rows, cols int, data []float64) blas64.General {
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

func vector(data []float64) blas64.Vector {
	return blas64.Vector{N: len(data), Inc: 1, Data: data}
}

// reduce damps the normal equations with lambda, eliminates the points and factorizes the reduced
// camera system. It returns false when a damped block is not positive definite.
func (p *problem) reduce(ctx context.Context, lambda float64, workers int) (bool, error) {
	var failed atomic.Bool
	err := utils.GroupWorkParallel(ctx, len(p.pointH), workers,
		func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(_, feat int) {
				if !p.invertPoint(feat, lambda) {
					failed.Store(true)
				}
			}, nil
		})
	if err != nil || failed.Load() {
		return false, err
	}

	err = utils.GroupWorkParallel(ctx, len(p.free), workers,
		func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(_, col int) {
				p.fillColumn(col, lambda)
			}, nil
		})
	if err != nil {
		return false, err
	}
	return p.chol.factorize(p.s), nil
}

// invertPoint stores the inverse of the damped point block and Y = W·V⁻¹ for each observation of
// the feature.
func (p *problem) invertPoint(feat int, lambda float64) bool {
	inv := &p.pointInv[feat]
	if len(p.featureObs[feat]) == 0 {
		*inv = [9]float64{}
		return true
	}
	*inv = p.pointH[feat]
	for d := 0; d < pointDim; d++ {
		inv[d*pointDim+d] *= 1 + lambda
	}
	sym := blas64.Symmetric{Uplo: blas.Lower, N: pointDim, Stride: pointDim, Data: inv[:]}
	t, ok := lapack64.Potrf(sym)
	if !ok {
		return false
	}
	if _, ok := lapack64.Potri(t); !ok {
		return false
	}
	for r := 0; r < pointDim; r++ {
		for c := r + 1; c < pointDim; c++ {
			inv[r*pointDim+c] = inv[c*pointDim+r]
		}
	}
	for _, o := range p.featureObs[feat] {
		if p.obs[o].camera < 0 {
			continue
		}
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, general(camDim, pointDim, p.cross[o][:]),
			general(pointDim, pointDim, inv[:]), 0, general(camDim, pointDim, p.crossInv[o][:]))
	}
	return true
}

// fillColumn writes block column col of the reduced camera matrix and its right hand side segment:
// S_ij = δ_ij·U_i - Σ Y_ip·W_jpᵀ and e_i = a_i - Σ Y_ip·b_p.
func (p *problem) fillColumn(col int, lambda float64) {
	for k := p.s.colPtr[col]; k < p.s.colPtr[col+1]; k++ {
		clear(p.s.block(k))
	}
	diag := p.s.block(p.s.colPtr[col])
	copy(diag, p.cameraH[col][:])
	for d := 0; d < camDim; d++ {
		diag[d*camDim+d] *= 1 + lambda
	}
	for _, c := range p.colContribs[col] {
		blas64.Gemm(blas.NoTrans, blas.Trans, -1, general(camDim, pointDim, p.crossInv[c.o1][:]),
			general(camDim, pointDim, p.cross[c.o2][:]), 1, p.s.general(c.block))
	}

	rhs := p.rhs[col*camDim : (col+1)*camDim]
	copy(rhs, p.cameraG[col][:])
	for _, o := range p.cameraObs[col] {
		blas64.Gemv(blas.NoTrans, -1, general(camDim, pointDim, p.crossInv[o][:]),
			vector(p.pointG[p.obs[o].feature][:]), 1, vector(rhs))
	}
}

// solve computes the camera and point steps from the factorized reduced system. It returns false if
// any step is not finite.
func (p *problem) solve() bool {
	copy(p.cameraDelta, p.rhs)
	p.chol.solve(p.cameraDelta)
	if !utils.IsFinite(p.cameraDelta...) {
		return false
	}

	var residual [pointDim]float64
	for feat, featObs := range p.featureObs {
		delta := &p.pointDelta[feat]
		if len(featObs) == 0 {
			*delta = [3]float64{}
			continue
		}
		residual = p.pointG[feat]
		for _, o := range featObs {
			cam := p.obs[o].camera
			if cam < 0 {
				continue
			}
			blas64.Gemv(blas.Trans, -1, general(camDim, pointDim, p.cross[o][:]),
				vector(p.cameraDelta[cam*camDim:(cam+1)*camDim]), 1, vector(residual[:]))
		}
		blas64.Gemv(blas.NoTrans, 1, general(pointDim, pointDim, p.pointInv[feat][:]),
			vector(residual[:]), 0, vector(delta[:]))
		if !utils.IsFinite(delta[:]...) {
			return false
		}
	}
	return true
}

// apply saves the current state and moves every optimized camera and observed feature by the step.
func (p *problem) apply() {
	keyframes := p.m.Keyframes()
	for r, kfID := range p.free {
		kf := keyframes[kfID]
		p.savedPoses[r] = kf.Pose
		var tw spatialmath.Twist
		copy(tw[:], p.cameraDelta[r*camDim:(r+1)*camDim])
		kf.Pose = spatialmath.Retract(kf.Pose, tw)
	}
	for feat, f := range p.m.Features() {
		p.savedPoints[feat] = f.Estimate
		if len(p.featureObs[feat]) == 0 {
			continue
		}
		d := p.pointDelta[feat]
		f.SetPosition(f.Position().Add(r3.Vector{X: d[0], Y: d[1], Z: d[2]}))
	}
}

// restore puts back the state saved by the last apply, bit for bit.
func (p *problem) restore() {
	keyframes := p.m.Keyframes()
	for r, kfID := range p.free {
		keyframes[kfID].Pose = p.savedPoses[r]
	}
	for feat, f := range p.m.Features() {
		f.Estimate = p.savedPoints[feat]
	}
}
