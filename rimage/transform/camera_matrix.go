package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CameraMatrix is a row-major 3x3 upper triangular intrinsics matrix K shared by every keyframe of a map.
//
//	[[K00 K01 K02],
//	 [0   K11 K12],
//	 [0   0   1  ]]
//
// K01 is the skew, which is zero for most cameras.
type CameraMatrix [9]float64

// NewCameraMatrix builds a camera matrix with no skew.
func NewCameraMatrix(fx, fy, cx, cy float64) CameraMatrix {
	return CameraMatrix{fx, 0, cx, 0, fy, cy, 0, 0, 1}
}

// Fx returns the horizontal focal length.
func (k CameraMatrix) Fx() float64 { return k[0] }

// Fy returns the vertical focal length.
func (k CameraMatrix) Fy() float64 { return k[4] }

// Skew returns the skew term.
func (k CameraMatrix) Skew() float64 { return k[1] }

// PrincipalPoint returns (cx, cy).
func (k CameraMatrix) PrincipalPoint() r2.Point { return r2.Point{X: k[2], Y: k[5]} }

// CheckValid verifies the matrix is a usable pinhole projection.
func (k CameraMatrix) CheckValid() error {
	if k[3] != 0 || k[6] != 0 || k[7] != 0 || k[8] != 1 {
		return NewNoIntrinsicsError(fmt.Sprintf("camera matrix must be upper triangular with K22 = 1, got %v", [9]float64(k)))
	}
	if k[0] <= 0 || k[4] <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal lengths (%#v, %#v)", k[0], k[4]))
	}
	return nil
}

// Project maps a point in the camera frame to pixel coordinates. The second return is false when
// the point is not strictly in front of the camera.
func (k CameraMatrix) Project(p r3.Vector) (r2.Point, bool) {
	if p.Z <= 0 {
		return r2.Point{}, false
	}
	x, y := p.X/p.Z, p.Y/p.Z
	return r2.Point{X: k[0]*x + k[1]*y + k[2], Y: k[4]*y + k[5]}, true
}

// ProjectionJacobian returns the 2x3 derivative of Project at p, row-major. p.Z must be positive.
func (k CameraMatrix) ProjectionJacobian(p r3.Vector) [6]float64 {
	invZ := 1 / p.Z
	invZ2 := invZ * invZ
	return [6]float64{
		k[0] * invZ, k[1] * invZ, -(k[0]*p.X + k[1]*p.Y) * invZ2,
		0, k[4] * invZ, -k[4] * p.Y * invZ2,
	}
}

// Unproject returns the camera frame ray through a pixel at unit depth.
func (k CameraMatrix) Unproject(px r2.Point) r3.Vector {
	y := (px.Y - k[5]) / k[4]
	x := (px.X - k[2] - k[1]*y) / k[0]
	return r3.Vector{X: x, Y: y, Z: 1}
}

// Dense returns K as a gonum matrix.
func (k CameraMatrix) Dense() *mat.Dense {
	data := [9]float64(k)
	return mat.NewDense(3, 3, data[:])
}

// NewCameraMatrixFromDense converts a 3x3 gonum matrix into a camera matrix.
func NewCameraMatrixFromDense(m mat.Matrix) (CameraMatrix, error) {
	var k CameraMatrix
	if r, c := m.Dims(); r != 3 || c != 3 {
		return k, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			k[3*i+j] = m.At(i, j)
		}
	}
	return k, k.CheckValid()
}
