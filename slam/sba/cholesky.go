package sba

import (
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
)

// symbolicCholesky is the block pattern of the Cholesky factor L of a blockSparse matrix, found
// from its elimination tree. It depends only on the sparsity pattern.
type symbolicCholesky struct {
	parent []int
	factor *blockSparse
}

// analyze runs the symbolic factorization. The structure of column j of L is the structure of
// column j of A below the diagonal merged with the structures of its children in the elimination
// tree, less j itself; the parent of j is the first row of that structure.
func analyze(a *blockSparse) *symbolicCholesky {
	n := a.n
	parent := make([]int, n)
	children := make([][]int, n)
	rows := make([][]int, n)
	mark := make([]int, n)
	for i := range mark {
		mark[i] = -1
	}

	for j := 0; j < n; j++ {
		col := []int{j}
		mark[j] = j
		for k := a.colPtr[j] + 1; k < a.colPtr[j+1]; k++ {
			i := a.rowIdx[k]
			if mark[i] != j {
				mark[i] = j
				col = append(col, i)
			}
		}
		for _, child := range children[j] {
			for _, i := range rows[child][1:] {
				if mark[i] != j {
					mark[i] = j
					col = append(col, i)
				}
			}
		}
		slices.Sort(col[1:])
		rows[j] = col

		parent[j] = -1
		if len(col) > 1 {
			parent[j] = col[1]
			children[col[1]] = append(children[col[1]], j)
		}
	}
	return &symbolicCholesky{parent: parent, factor: newBlockSparseFromColumns(rows)}
}

// numericCholesky holds the values of L for one numeric factorization.
type numericCholesky struct {
	sym *symbolicCholesky
	l   *blockSparse
}

func newNumericCholesky(sym *symbolicCholesky) *numericCholesky {
	l := &blockSparse{
		n:      sym.factor.n,
		colPtr: sym.factor.colPtr,
		rowIdx: sym.factor.rowIdx,
		values: make([]float64, len(sym.factor.values)),
	}
	return &numericCholesky{sym: sym, l: l}
}

// factorize computes L with A = L·Lᵀ, column by column. It returns false if A is not positive
// definite.
func (f *numericCholesky) factorize(a *blockSparse) bool {
	l := f.l
	l.zero()
	for j := 0; j < a.n; j++ {
		for k := a.colPtr[j]; k < a.colPtr[j+1]; k++ {
			copy(l.block(l.find(a.rowIdx[k], j)), a.block(k))
		}
	}

	for j := 0; j < l.n; j++ {
		start, end := l.colPtr[j], l.colPtr[j+1]
		ljj, ok := lapack64.Potrf(blas64.Symmetric{Uplo: blas.Lower, N: camDim, Stride: camDim, Data: l.block(start)})
		if !ok {
			return false
		}
		for k := start + 1; k < end; k++ {
			blas64.Trsm(blas.Right, blas.Trans, 1, ljj, l.general(k))
		}
		// right-looking update of the trailing columns
		for kk := start + 1; kk < end; kk++ {
			col := l.rowIdx[kk]
			for ki := kk; ki < end; ki++ {
				target := l.find(l.rowIdx[ki], col)
				blas64.Gemm(blas.NoTrans, blas.Trans, -1, l.general(ki), l.general(kk), 1, l.general(target))
			}
		}
	}
	return true
}

func (f *numericCholesky) diagonal(j int) blas64.Triangular {
	return blas64.Triangular{
		Uplo: blas.Lower, Diag: blas.NonUnit, N: camDim, Stride: camDim, Data: f.l.block(f.l.colPtr[j]),
	}
}

// solve overwrites x, holding the right hand side, with the solution of L·Lᵀ·x = b.
func (f *numericCholesky) solve(x []float64) {
	l := f.l
	segment := func(j int) blas64.Vector {
		return blas64.Vector{N: camDim, Inc: 1, Data: x[j*camDim : (j+1)*camDim]}
	}
	for j := 0; j < l.n; j++ {
		xj := segment(j)
		blas64.Trsv(blas.NoTrans, f.diagonal(j), xj)
		for k := l.colPtr[j] + 1; k < l.colPtr[j+1]; k++ {
			blas64.Gemv(blas.NoTrans, -1, l.general(k), xj, 1, segment(l.rowIdx[k]))
		}
	}
	for j := l.n - 1; j >= 0; j-- {
		xj := segment(j)
		for k := l.colPtr[j] + 1; k < l.colPtr[j+1]; k++ {
			blas64.Gemv(blas.Trans, -1, l.general(k), segment(l.rowIdx[k]), 1, xj)
		}
		blas64.Trsv(blas.Trans, f.diagonal(j), xj)
	}
}
