package dither

import (
	"errors"
	"fmt"
)

var (
	ErrMatrixSize = errors.New("dither: matrix cell count does not match rows*cols")
	ErrBayerSize  = errors.New("dither: bayer matrix size must be a power of two >= 2")
)

// Matrix is a tileable grid of thresholds. Rows and columns wrap, so a
// matrix of any size covers an image of any size. The zero value is a 1x1
// matrix holding 0.
type Matrix struct {
	rows, cols int
	cells      []int
	maxValue   int
}

// NewMatrix returns a rows x cols matrix with cells in row-major order.
func NewMatrix(rows, cols int, cells []int) (Matrix, error) {
	if rows <= 0 || cols <= 0 || len(cells) != rows*cols {
		return Matrix{}, fmt.Errorf("%w: %dx%d with %d cells", ErrMatrixSize, rows, cols, len(cells))
	}
	m := Matrix{rows: rows, cols: cols, cells: make([]int, len(cells))}
	copy(m.cells, cells)
	m.updateMaxValue()
	return m, nil
}

// bayerBase is the 2x2 seed every Bayer matrix is built from.
var bayerBase = [2][2]int{{0, 2}, {3, 1}}

// Bayer returns the n x n ordered dither matrix. Every value in [0, n*n)
// appears exactly once.
func Bayer(n int) (Matrix, error) {
	if n < 2 || n&(n-1) != 0 {
		return Matrix{}, fmt.Errorf("%w: %d", ErrBayerSize, n)
	}
	cells := make([]int, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cells[i*n+j] = bayerCell(i, j, n)
		}
	}
	return NewMatrix(n, n, cells)
}

// MustBayer is like Bayer but panics on an invalid size.
func MustBayer(n int) Matrix {
	m, err := Bayer(n)
	if err != nil {
		panic(err)
	}
	return m
}

func bayerCell(i, j, n int) int {
	if n == 2 {
		return bayerBase[i][j]
	}
	h := n / 2
	return 4*bayerCell(i%h, j%h, h) + bayerCell(i/h, j/h, 2)
}

func (m *Matrix) updateMaxValue() {
	m.maxValue = 1
	for _, v := range m.cells {
		if v > m.maxValue {
			m.maxValue = v
		}
	}
}

// Rows returns the matrix height.
func (m Matrix) Rows() int {
	if m.rows == 0 {
		return 1
	}
	return m.rows
}

// Cols returns the matrix width.
func (m Matrix) Cols() int {
	if m.cols == 0 {
		return 1
	}
	return m.cols
}

// MaxValue returns the largest cell. It is never below 1.
func (m Matrix) MaxValue() int {
	if m.maxValue == 0 {
		return 1
	}
	return m.maxValue
}

// At returns the threshold at (row, col), both taken modulo the matrix size.
func (m Matrix) At(row, col int) int {
	if m.rows == 0 {
		return 0
	}
	row %= m.rows
	if row < 0 {
		row += m.rows
	}
	col %= m.cols
	if col < 0 {
		col += m.cols
	}
	return m.cells[row*m.cols+col]
}
