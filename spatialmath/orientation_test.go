package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

// represent a 45 degree rotation around the x axis in all the representations
var (
	th    = math.Pi / 4.
	q45x  = quat.Number{Real: math.Cos(th / 2.), Imag: math.Sin(th / 2.)}
	aa45x = &R4AA{th, 1., 0., 0.}
)

func TestZeroOrientation(t *testing.T) {
	zero := NewZeroOrientation()
	test.That(t, zero.AxisAngles().Theta, test.ShouldEqual, 0.)
	test.That(t, zero.Quaternion(), test.ShouldResemble, quat.Number{Real: 1})
	test.That(t, zero.RotationMatrix().Mul(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
}

func TestOrientationConversions(t *testing.T) {
	test.That(t, QuaternionAlmostEqual(aa45x.Quaternion(), q45x, 1e-12), test.ShouldBeTrue)

	aa := QuatToR4AA(q45x)
	test.That(t, aa.Theta, test.ShouldAlmostEqual, th)
	test.That(t, aa.RX, test.ShouldAlmostEqual, 1.)

	rm := aa45x.RotationMatrix()
	test.That(t, QuaternionAlmostEqual(rm.Quaternion(), q45x, 1e-12), test.ShouldBeTrue)

	rotated := rm.Mul(r3.Vector{X: 0, Y: 1, Z: 0})
	test.That(t, rotated.Y, test.ShouldAlmostEqual, math.Cos(th))
	test.That(t, rotated.Z, test.ShouldAlmostEqual, math.Sin(th))
	viaQuat := RotatePoint(q45x, r3.Vector{X: 0, Y: 1, Z: 0})
	test.That(t, viaQuat.Sub(rotated).Norm(), test.ShouldBeLessThan, 1e-12)

	back := rm.MulTranspose(rotated)
	test.That(t, back.Sub(r3.Vector{X: 0, Y: 1, Z: 0}).Norm(), test.ShouldBeLessThan, 1e-12)
}

func TestRotationMatrixBranches(t *testing.T) {
	// rotations near pi exercise every pivot branch of the matrix to quaternion conversion
	for _, axis := range []r3.Vector{{X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 1}} {
		for _, angle := range []float64{0.1, 2., math.Pi - 1e-3} {
			q := (&R4AA{angle, axis.X, axis.Y, axis.Z}).ToQuat()
			roundTrip := QuatToRotationMatrix(q).Quaternion()
			test.That(t, QuaternionAlmostEqual(q, roundTrip, 1e-9), test.ShouldBeTrue)
		}
	}

	_, err := NewRotationMatrix([]float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRotationVectors(t *testing.T) {
	for _, w := range []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1e-14, Y: 0, Z: 0}, {X: 0.3, Y: -0.2, Z: 0.1}, {X: 0, Y: 3, Z: 0}} {
		q := R3ToQuat(w)
		test.That(t, quat.Abs(q), test.ShouldAlmostEqual, 1.)
		test.That(t, QuatToR3AA(q).Sub(w).Norm(), test.ShouldBeLessThan, 1e-9)
	}
	test.That(t, R3ToR4(r3.Vector{}).Theta, test.ShouldEqual, 0.)
	test.That(t, R3ToR4(r3.Vector{X: 0, Y: 0.5, Z: 0}).ToR3(), test.ShouldResemble, r3.Vector{X: 0, Y: 0.5, Z: 0})
}

func TestAngleBetween(t *testing.T) {
	a := &R4AA{0.2, 0, 0, 1}
	b := &R4AA{0.5, 0, 0, 1}
	test.That(t, AngleBetween(a, b), test.ShouldAlmostEqual, 0.3)
	test.That(t, AngleBetween(a, a), test.ShouldEqual, 0.)
	test.That(t, AngleBetween(b, a), test.ShouldAlmostEqual, 0.3)
	test.That(t, AngleBetween(&R4AA{math.Pi, 0, 1, 0}, NewZeroOrientation()), test.ShouldAlmostEqual, math.Pi)
	// a negated quaternion is the same rotation
	q := Quaternion(quat.Scale(-1, a.Quaternion()))
	test.That(t, AngleBetween(a, &q), test.ShouldEqual, 0.)

	// tiny rotations keep their relative precision
	for _, theta := range []float64{1e-9, 1e-12} {
		got := AngleBetween(NewZeroOrientation(), &R4AA{theta, 1, 0, 0})
		test.That(t, math.Abs(got-theta)/theta, test.ShouldBeLessThan, 1e-9)
	}
	between := OrientationBetween(a, b)
	test.That(t, between.AxisAngles().Theta, test.ShouldAlmostEqual, 0.3)
	test.That(t, OrientationAlmostEqual(a, &R4AA{0.2, 0, 0, 2}), test.ShouldBeTrue)
}
