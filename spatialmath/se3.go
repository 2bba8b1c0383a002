package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Twist is a 6-vector in the tangent space of SE(3): the first three entries are the translational
// part and the last three the rotation vector.
type Twist [6]float64

// Translation returns the translational part.
func (tw Twist) Translation() r3.Vector {
	return r3.Vector{X: tw[0], Y: tw[1], Z: tw[2]}
}

// Rotation returns the rotation vector part.
func (tw Twist) Rotation() r3.Vector {
	return r3.Vector{X: tw[3], Y: tw[4], Z: tw[5]}
}

// Neg returns -tw.
func (tw Twist) Neg() Twist {
	var out Twist
	for i, v := range tw {
		out[i] = -v
	}
	return out
}

// ExpSE3 is the exponential map from a twist to a pose.
func ExpSE3(tw Twist) Pose {
	w := tw.Rotation()
	v := tw.Translation()
	theta := w.Norm()

	var a, b float64
	if theta < 1e-8 {
		theta2 := theta * theta
		a = 0.5 - theta2/24
		b = 1./6 - theta2/120
	} else {
		a = (1 - math.Cos(theta)) / (theta * theta)
		b = (theta - math.Sin(theta)) / (theta * theta * theta)
	}
	wxv := w.Cross(v)
	translation := v.Add(wxv.Mul(a)).Add(w.Cross(wxv).Mul(b))
	return Pose{orientation: R3ToQuat(w), point: translation}
}

// LogSE3 is the logarithm map from a pose to a twist. It is the inverse of ExpSE3 for rotations of
// less than pi.
func LogSE3(p Pose) Twist {
	w := QuatToR3AA(p.orientation)
	theta := w.Norm()

	var c float64
	if theta < 1e-8 {
		c = 1. / 12
	} else {
		halfTheta := theta / 2
		c = (1 - halfTheta*math.Cos(halfTheta)/math.Sin(halfTheta)) / (theta * theta)
	}
	t := p.point
	wxt := w.Cross(t)
	v := t.Sub(wxt.Mul(0.5)).Add(w.Cross(wxt).Mul(c))
	return Twist{v.X, v.Y, v.Z, w.X, w.Y, w.Z}
}

// Retract applies a twist to a pose by left multiplication: ExpSE3(tw)∘p.
func Retract(p Pose, tw Twist) Pose {
	return Compose(ExpSE3(tw), p)
}
