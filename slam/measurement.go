package slam

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/utils"
)

// MapMeasurement is a 2D pixel observation of a feature together with its information (inverse
// covariance) matrix, stored row-major.
type MapMeasurement struct {
	Point       r2.Point
	Information [4]float64
}

// NewMapMeasurement returns a measurement with identity information.
func NewMapMeasurement(pt r2.Point) MapMeasurement {
	return MapMeasurement{Point: pt, Information: [4]float64{1, 0, 0, 1}}
}

// NewMapMeasurementWithSigma returns a measurement with isotropic pixel noise of standard deviation sigma.
func NewMapMeasurementWithSigma(pt r2.Point, sigma float64) MapMeasurement {
	w := 1 / (sigma * sigma)
	return MapMeasurement{Point: pt, Information: [4]float64{w, 0, 0, w}}
}

// InformationMatrix returns the information matrix as a gonum symmetric matrix.
func (m MapMeasurement) InformationMatrix() *mat.SymDense {
	return mat.NewSymDense(2, []float64{m.Information[0], m.Information[1], m.Information[2], m.Information[3]})
}

// WeightedSquaredError returns rᵀ·W·r for the residual r.
func (m MapMeasurement) WeightedSquaredError(r r2.Point) float64 {
	w := m.Information
	return r.X*(w[0]*r.X+w[1]*r.Y) + r.Y*(w[2]*r.X+w[3]*r.Y)
}

// Validate checks that the point is finite and the information matrix symmetric positive-definite.
func (m MapMeasurement) Validate() error {
	if !utils.IsFinite(m.Point.X, m.Point.Y) {
		return errors.Wrapf(ErrInvalidMeasurement, "non-finite point %v", m.Point)
	}
	if !utils.IsFinite(m.Information[:]...) {
		return errors.Wrapf(ErrInvalidMeasurement, "non-finite information %v", m.Information)
	}
	if m.Information[1] != m.Information[2] {
		return errors.Wrapf(ErrInvalidMeasurement, "information matrix is not symmetric %v", m.Information)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(m.InformationMatrix()); !ok {
		return errors.Wrapf(ErrInvalidMeasurement, "information matrix is not positive definite %v", m.Information)
	}
	return nil
}
