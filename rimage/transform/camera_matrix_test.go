package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestCameraMatrixProject(t *testing.T) {
	k := NewCameraMatrix(2000, 1900, 1280, 960)
	test.That(t, k.CheckValid(), test.ShouldBeNil)
	test.That(t, k.Fx(), test.ShouldEqual, 2000.)
	test.That(t, k.Fy(), test.ShouldEqual, 1900.)
	test.That(t, k.PrincipalPoint(), test.ShouldResemble, r2.Point{X: 1280, Y: 960})

	px, ok := k.Project(r3.Vector{X: 0.5, Y: -0.25, Z: 2})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.X, test.ShouldAlmostEqual, 1780.)
	test.That(t, px.Y, test.ShouldAlmostEqual, 722.5)

	ray := k.Unproject(px)
	test.That(t, ray.X, test.ShouldAlmostEqual, 0.25)
	test.That(t, ray.Y, test.ShouldAlmostEqual, -0.125)

	_, ok = k.Project(r3.Vector{X: 0, Y: 0, Z: 0})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = k.Project(r3.Vector{X: 1, Y: 1, Z: -1})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestCameraMatrixJacobian(t *testing.T) {
	k := CameraMatrix{800, 3, 320, 0, 810, 240, 0, 0, 1}
	p := r3.Vector{X: 0.3, Y: -0.2, Z: 1.7}
	jac := k.ProjectionJacobian(p)
	base, _ := k.Project(p)
	const eps = 1e-6
	for c, step := range []r3.Vector{{X: eps, Y: 0, Z: 0}, {X: 0, Y: eps, Z: 0}, {X: 0, Y: 0, Z: eps}} {
		moved, ok := k.Project(p.Add(step))
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, (moved.X-base.X)/eps, test.ShouldAlmostEqual, jac[c], 1e-3)
		test.That(t, (moved.Y-base.Y)/eps, test.ShouldAlmostEqual, jac[3+c], 1e-3)
	}
}

func TestCameraMatrixValidity(t *testing.T) {
	bad := NewCameraMatrix(-1, 10, 0, 0)
	err := bad.CheckValid()
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	notTriangular := NewCameraMatrix(1, 1, 0, 0)
	notTriangular[3] = 0.5
	test.That(t, notTriangular.CheckValid(), test.ShouldNotBeNil)

	k, err := NewCameraMatrixFromDense(mat.NewDense(3, 3, []float64{500, 0, 100, 0, 500, 80, 0, 0, 1}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k, test.ShouldResemble, NewCameraMatrix(500, 500, 100, 80))
	test.That(t, mat.Equal(k.Dense(), mat.NewDense(3, 3, []float64{500, 0, 100, 0, 500, 80, 0, 0, 1})), test.ShouldBeTrue)

	_, err = NewCameraMatrixFromDense(mat.NewDense(2, 2, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPinholeIntrinsics(t *testing.T) {
	var missing *PinholeCameraIntrinsics
	test.That(t, errors.Is(missing.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, missing.GetCameraMatrix(), test.ShouldBeNil)

	intrinsics := &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)
	test.That(t, intrinsics.CameraMatrix(), test.ShouldResemble, NewCameraMatrix(500, 500, 320, 240))
	test.That(t, intrinsics.GetCameraMatrix().At(1, 2), test.ShouldEqual, 240.)

	px, ok := intrinsics.PointToPixel(r3.Vector{X: 0.1, Y: 0.2, Z: 1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.X, test.ShouldAlmostEqual, 370.)
	test.That(t, px.Y, test.ShouldAlmostEqual, 340.)
	test.That(t, intrinsics.InBounds(px), test.ShouldBeTrue)
	test.That(t, intrinsics.InBounds(r2.Point{X: 640, Y: 10}), test.ShouldBeFalse)
	test.That(t, intrinsics.InBounds(r2.Point{X: -0.1, Y: 10}), test.ShouldBeFalse)

	x, y, z := intrinsics.PixelToPoint(370, 340, 2)
	test.That(t, x, test.ShouldAlmostEqual, 0.2)
	test.That(t, y, test.ShouldAlmostEqual, 0.4)
	test.That(t, z, test.ShouldEqual, 2.)

	_, ok = intrinsics.PointToPixel(r3.Vector{X: 0, Y: 0, Z: -1})
	test.That(t, ok, test.ShouldBeFalse)

	intrinsics.Fy = 0
	test.That(t, intrinsics.CheckValid(), test.ShouldNotBeNil)
}

func TestPinholeIntrinsicsFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intrinsics.json")
	contents := `{"width_px": 2560, "height_px": 1920, "fx": 2000, "fy": 2000, "ppx": 1280, "ppy": 960}`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	intrinsics, err := NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)
	test.That(t, intrinsics.Width, test.ShouldEqual, 2560)
	test.That(t, intrinsics.Ppy, test.ShouldEqual, 960.)

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	badPath := filepath.Join(t.TempDir(), "bad.json")
	test.That(t, os.WriteFile(badPath, []byte("{"), 0o600), test.ShouldBeNil)
	_, err = NewPinholeCameraIntrinsicsFromJSONFile(badPath)
	test.That(t, err, test.ShouldNotBeNil)
}
