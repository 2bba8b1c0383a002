package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// normalizationTolerance is how far from unit length a quaternion may be before it is rescaled.
// Already-normalized quaternions are left bit-for-bit untouched.
const normalizationTolerance = 1e-12

// Quaternion is an orientation in unit quaternion representation.
type Quaternion quat.Number

// Quaternion returns orientation in quaternion representation.
func (q *Quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

// AxisAngles returns the orientation in axis angle representation.
func (q *Quaternion) AxisAngles() *R4AA {
	return QuatToR4AA(q.Quaternion())
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (q *Quaternion) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(q.Quaternion())
}

// Normalize scales a quaternion to unit length. The zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	if math.Abs(norm-1) <= normalizationTolerance {
		return q
	}
	return quat.Scale(1/norm, q)
}

// QuaternionAlmostEqual is an equality test for quaternions representing the same rotation; q and -q
// are considered equal.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	same := math.Abs(a.Real-b.Real) < tol && math.Abs(a.Imag-b.Imag) < tol &&
		math.Abs(a.Jmag-b.Jmag) < tol && math.Abs(a.Kmag-b.Kmag) < tol
	flipped := math.Abs(a.Real+b.Real) < tol && math.Abs(a.Imag+b.Imag) < tol &&
		math.Abs(a.Jmag+b.Jmag) < tol && math.Abs(a.Kmag+b.Kmag) < tol
	return same || flipped
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// RotatePoint rotates p by the unit quaternion q.
func RotatePoint(q quat.Number, p r3.Vector) r3.Vector {
	u := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	t := u.Cross(p).Mul(2)
	return p.Add(t.Mul(q.Real)).Add(u.Cross(t))
}

// QuatToR4AA converts a quat to an R4 axis angle in the same way the C++ Eigen library does.
// https://eigen.tuxfamily.org/dox/AngleAxis_8h_source.html
func QuatToR4AA(q quat.Number) *R4AA {
	denom := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)

	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}

	if denom < 1e-6 {
		return &R4AA{Theta: angle, RX: 0, RY: 0, RZ: 1}
	}
	return &R4AA{Theta: angle, RX: q.Imag / denom, RY: q.Jmag / denom, RZ: q.Kmag / denom}
}

// QuatToR3AA converts a unit quaternion to a rotation vector whose direction is the rotation axis
// and whose length is the rotation angle in [0, pi].
func QuatToR3AA(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = Flip(q)
	}
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := v.Norm()
	if sinHalf < 1e-12 {
		// first order: theta*axis ~= 2*v/w
		return v.Mul(2 / q.Real)
	}
	theta := 2 * math.Atan2(sinHalf, q.Real)
	return v.Mul(theta / sinHalf)
}

// R3ToQuat converts a rotation vector to a unit quaternion. This is the exponential map of SO(3).
func R3ToQuat(aa r3.Vector) quat.Number {
	theta := aa.Norm()
	if theta < 1e-12 {
		half := aa.Mul(0.5)
		return Normalize(quat.Number{Real: 1, Imag: half.X, Jmag: half.Y, Kmag: half.Z})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: aa.X * s, Jmag: aa.Y * s, Kmag: aa.Z * s}
}
