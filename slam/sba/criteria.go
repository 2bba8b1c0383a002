package sba

import "math"

// TerminationCriteria decides when an optimization stops. Finished is called with the current cost
// and the number of accepted iterations, before every iteration.
type TerminationCriteria interface {
	Finished(cost float64, iteration int) bool
}

// CountAndCostDelta finishes after a maximum number of accepted iterations, or once an accepted
// iteration improved the cost by less than a threshold.
type CountAndCostDelta struct {
	maxIterations int
	costDelta     float64

	lastIteration int
	lastCost      float64
}

// NewCountAndCostDelta returns a CountAndCostDelta criterion.
func NewCountAndCostDelta(maxIterations int, costDelta float64) *CountAndCostDelta {
	return &CountAndCostDelta{maxIterations: maxIterations, costDelta: costDelta, lastIteration: -1, lastCost: math.Inf(1)}
}

// Finished implements TerminationCriteria.
func (c *CountAndCostDelta) Finished(cost float64, iteration int) bool {
	if iteration >= c.maxIterations {
		return true
	}
	advanced := c.lastIteration >= 0 && iteration > c.lastIteration
	converged := advanced && math.Abs(c.lastCost-cost) < c.costDelta
	c.lastIteration = iteration
	c.lastCost = cost
	return converged
}

// MaxIterations finishes after a fixed number of accepted iterations.
type MaxIterations int

// NewMaxIterations returns a MaxIterations criterion.
func NewMaxIterations(n int) MaxIterations {
	return MaxIterations(n)
}

// Finished implements TerminationCriteria.
func (m MaxIterations) Finished(_ float64, iteration int) bool {
	return iteration >= int(m)
}
