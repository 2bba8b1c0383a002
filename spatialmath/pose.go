package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transformation x' = R·x + t. Keyframe poses map world coordinates into the
// camera frame. Pose is a small value type; copying it copies the transformation.
type Pose struct {
	orientation quat.Number
	point       r3.Vector
}

// NewZeroPose returns the identity transformation.
func NewZeroPose() Pose {
	return Pose{orientation: quat.Number{Real: 1}}
}

// NewPose constructs a pose from a translation and an orientation.
func NewPose(point r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromQuaternion(point, quat.Number{Real: 1})
	}
	return NewPoseFromQuaternion(point, o.Quaternion())
}

// NewPoseFromQuaternion constructs a pose from a translation and a rotation quaternion. The quaternion
// is normalized; the sign is kept as given.
func NewPoseFromQuaternion(point r3.Vector, q quat.Number) Pose {
	return Pose{orientation: Normalize(q), point: point}
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Quaternion returns the rotation of the pose as a unit quaternion.
func (p Pose) Quaternion() quat.Number {
	return p.orientation
}

// Orientation returns the rotation of the pose.
func (p Pose) Orientation() Orientation {
	q := Quaternion(p.orientation)
	return &q
}

// RotationMatrix returns the rotation of the pose as a matrix.
func (p Pose) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(p.orientation)
}

// Transform applies the pose to a point: R·x + t.
func (p Pose) Transform(x r3.Vector) r3.Vector {
	return RotatePoint(p.orientation, x).Add(p.point)
}

// CameraCenter returns the point mapped to the origin by the pose, -Rᵀ·t. For a camera-from-world
// pose this is the camera position in world coordinates.
func (p Pose) CameraCenter() r3.Vector {
	return RotatePoint(quat.Conj(p.orientation), p.point).Mul(-1)
}

func (p Pose) String() string {
	aa := QuatToR4AA(p.orientation)
	return fmt.Sprintf("{X:%.6f Y:%.6f Z:%.6f Theta:%.6f RX:%.6f RY:%.6f RZ:%.6f}",
		p.point.X, p.point.Y, p.point.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

// Compose returns the pose a∘b, which applies b first and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		orientation: Normalize(quat.Mul(a.orientation, b.orientation)),
		point:       a.Transform(b.point),
	}
}

// PoseInverse returns the inverse transformation.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.orientation)
	return Pose{orientation: inv, point: RotatePoint(inv, p.point).Mul(-1)}
}

// PoseBetween returns the pose that takes a to b, i.e. Compose(PoseBetween(a, b), a) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(b, PoseInverse(a))
}

// PoseDistance is the metric used to compare camera poses: the distance between the two camera
// centers plus the rotation angle (radians) between the two orientations.
func PoseDistance(a, b Pose) float64 {
	return a.CameraCenter().Sub(b.CameraCenter()).Norm() + AngleBetween(a.Orientation(), b.Orientation())
}

// PoseAlmostEqual returns whether two poses have translations within eps of one another and
// approximately the same orientation.
func PoseAlmostEqual(a, b Pose, eps float64) bool {
	d := a.point.Sub(b.point)
	return math.Abs(d.X) <= eps && math.Abs(d.Y) <= eps && math.Abs(d.Z) <= eps &&
		QuaternionAlmostEqual(a.orientation, b.orientation, eps)
}
