package sba

import (
	"slices"
	"sort"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

const (
	// camDim is the number of parameters of a camera pose update.
	camDim = 6
	// blockLen is the number of values in a camDim x camDim block.
	blockLen = camDim * camDim
)

// blockSparse is the lower triangle of a symmetric matrix made of camDim x camDim blocks, stored
// block compressed sparse column. Within a column the diagonal block comes first followed by the
// sub-diagonal blocks in increasing row order. Blocks are row-major.
//
// The pattern is built once and values are refilled in place.
type blockSparse struct {
	n      int
	colPtr []int
	rowIdx []int
	values []float64
}

// newBlockSparse builds the pattern for n block columns with the diagonal plus the given
// off-diagonal blocks. Each entry of offDiagonal is a (row, col) pair; the lower triangle entry is
// used whichever way round it is given, and duplicates are merged.
func newBlockSparse(n int, offDiagonal [][2]int) *blockSparse {
	rows := make([][]int, n)
	for j := range rows {
		rows[j] = []int{j}
	}
	for _, rc := range offDiagonal {
		r, c := rc[0], rc[1]
		if r == c {
			continue
		}
		if r < c {
			r, c = c, r
		}
		rows[c] = append(rows[c], r)
	}
	return newBlockSparseFromColumns(rows)
}

// newBlockSparseFromColumns builds a pattern from per-column row lists, each starting with its
// diagonal.
func newBlockSparseFromColumns(rows [][]int) *blockSparse {
	b := &blockSparse{n: len(rows), colPtr: make([]int, len(rows)+1)}
	for j, col := range rows {
		sub := slices.Clone(col[1:])
		slices.Sort(sub)
		sub = slices.Compact(sub)
		b.rowIdx = append(b.rowIdx, j)
		b.rowIdx = append(b.rowIdx, sub...)
		b.colPtr[j+1] = len(b.rowIdx)
	}
	b.values = make([]float64, blockLen*len(b.rowIdx))
	return b
}

// numBlocks returns the number of stored blocks.
func (b *blockSparse) numBlocks() int {
	return len(b.rowIdx)
}

// find returns the storage index of block (row, col), row >= col, or -1 if it is not in the pattern.
func (b *blockSparse) find(row, col int) int {
	start, end := b.colPtr[col], b.colPtr[col+1]
	if row == col {
		return start
	}
	sub := b.rowIdx[start+1 : end]
	i := sort.SearchInts(sub, row)
	if i < len(sub) && sub[i] == row {
		return start + 1 + i
	}
	return -1
}

// block returns the values of stored block k.
func (b *blockSparse) block(k int) []float64 {
	return b.values[k*blockLen : (k+1)*blockLen]
}

func (b *blockSparse) general(k int) blas64.General {
	return blas64.General{Rows: camDim, Cols: camDim, Stride: camDim, Data: b.block(k)}
}

// zero clears every value, keeping the pattern.
func (b *blockSparse) zero() {
	clear(b.values)
}

// dense expands the full symmetric matrix.
func (b *blockSparse) dense() *mat.SymDense {
	size := camDim * b.n
	out := mat.NewSymDense(size, nil)
	for j := 0; j < b.n; j++ {
		for k := b.colPtr[j]; k < b.colPtr[j+1]; k++ {
			i := b.rowIdx[k]
			blk := b.block(k)
			for r := 0; r < camDim; r++ {
				for c := 0; c < camDim; c++ {
					if i == j && c > r {
						continue
					}
					out.SetSym(i*camDim+r, j*camDim+c, blk[r*camDim+c])
				}
			}
		}
	}
	return out
}
