package spatialmath

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestExpLogSE3(t *testing.T) {
	for _, tw := range []Twist{
		{},
		{0.1, -0.2, 0.3, 0, 0, 0},
		{0.1, -0.2, 0.3, 1e-10, 0, -1e-10},
		{1, 2, 3, 0.4, -0.5, 0.6},
		{-0.5, 0, 2, 0, 2.5, 0},
	} {
		p := ExpSE3(tw)
		back := LogSE3(p)
		for i := range tw {
			test.That(t, back[i], test.ShouldAlmostEqual, tw[i], 1e-9)
		}
	}
}

func TestExpSE3PureTranslation(t *testing.T) {
	p := ExpSE3(Twist{1, 2, 3, 0, 0, 0})
	test.That(t, p.Point(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, p.Quaternion().Real, test.ShouldEqual, 1.)
}

func TestRetractFirstOrder(t *testing.T) {
	// d/dε of ExpSE3(ε)∘p applied to x is [I | -[x']×] where x' = p(x)
	p := NewPose(r3.Vector{X: 0.1, Y: 0.2, Z: 3}, &R4AA{0.3, 0, 1, 0})
	x := r3.Vector{X: 0.5, Y: -0.4, Z: 1}
	base := p.Transform(x)
	const eps = 1e-7
	for i := 0; i < 6; i++ {
		var tw Twist
		tw[i] = eps
		moved := Retract(p, tw).Transform(x)
		derivative := moved.Sub(base).Mul(1 / eps)

		var expected r3.Vector
		switch i {
		case 0, 1, 2:
			expected = tw.Translation().Mul(1 / eps)
		default:
			expected = tw.Rotation().Mul(1 / eps).Cross(base)
		}
		test.That(t, derivative.Sub(expected).Norm(), test.ShouldBeLessThan, 1e-5)
	}

	undone := Retract(Retract(p, Twist{0.01, 0, 0, 0, 0.02, 0}), Twist{0.01, 0, 0, 0, 0.02, 0}.Neg())
	test.That(t, PoseAlmostEqual(undone, p, 1e-12), test.ShouldBeTrue)
}
