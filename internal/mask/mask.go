// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package mask provides the neighborhoods sampled by the median filters.
//
// Positions in a window are numbered from the center outwards, ring by ring.
// For a 5x5 window, with row offsets growing downwards in storage order:
//
//	16 15 14 13 12
//	17  5  4  3 11
//	18  6  1  2 10
//	19  7  8  9 25
//	20 21 22 23 24
//
// The 7x7 window adds ring 26..49 in the same pattern, starting right of 10.
// Near the image borders, a mask only contains the positions inside the image.
package mask

import "fmt"

// Window sizes supported by the filters
const (
	MinSize   = 3
	MaxSize   = 7
	MaxRadius = MaxSize / 2
)

// A position code within a window, 1 being the center
type Code uint8

// Returns the row and column offset of a position code relative to the center
func (c Code) Offset() (dRow, dCol int32) {
	if c <= 1 {
		return 0, 0
	}
	k := int32(1)
	for (2*k+1)*(2*k+1) < int32(c) {
		k++
	}
	i := int32(c) - (2*k-1)*(2*k-1) - 1 // index within ring k, 0..8k-1
	switch {
	case i <= k: // right edge, going up
		return -i, k
	case i <= 3*k: // top edge, going left
		return -k, k - (i - k)
	case i <= 5*k: // left edge, going down
		return -k + (i - 3*k), -k
	case i <= 7*k: // bottom edge, going right
		return k, -k + (i - 5*k)
	default: // right edge, going up towards the start
		return k - (i - 7*k), k
	}
}

// Returns the ring of a position code: 0 for the center, 1 for codes 2..9 etc.
func (c Code) Ring() int32 {
	dRow, dCol := c.Offset()
	return chebyshev(dRow, dCol)
}

// Returns the position code for a row and column offset
func CodeOf(dRow, dCol int32) Code {
	k := chebyshev(dRow, dCol)
	if k == 0 {
		return 1
	}
	var i int32
	switch {
	case dCol == k && dRow <= 0:
		i = -dRow
	case dRow == -k:
		i = 2*k - dCol
	case dCol == -k:
		i = 4*k + dRow
	case dRow == k:
		i = 6*k + dCol
	default: // dCol==k, dRow>0
		i = 8*k - dRow
	}
	return Code((2*k-1)*(2*k-1) + 1 + i)
}

func chebyshev(dRow, dCol int32) int32 {
	if dRow < 0 {
		dRow = -dRow
	}
	if dCol < 0 {
		dCol = -dCol
	}
	if dRow > dCol {
		return dRow
	}
	return dCol
}

// Distances of a pixel to the four image edges, each clamped to the window radius.
// Identifies which parts of a window fall outside the image.
type Border struct {
	Top, Bottom, Left, Right int32
}

// Computes the border class of the pixel at the given stored row and column,
// for an image with the given number of rows and columns and a window radius
func BorderOf(row, col, rows, cols, radius int32) Border {
	return Border{
		Top:    clamp(row, radius),
		Bottom: clamp(rows-1-row, radius),
		Left:   clamp(col, radius),
		Right:  clamp(cols-1-col, radius),
	}
}

func clamp(d, radius int32) int32 {
	if d > radius {
		return radius
	}
	return d
}

// A neighborhood: the position codes of a window present at one border class,
// in ascending order with the center first
type Mask struct {
	Size  int32
	Codes []Code
	DRows []int32 // row offsets matching Codes
	DCols []int32 // column offsets matching Codes
}

func (m *Mask) Len() int { return len(m.Codes) }

// Generates the mask for a window size and border class
func Generate(size int32, b Border) *Mask {
	m := &Mask{Size: size}
	for c := Code(1); int32(c) <= size*size; c++ {
		dRow, dCol := c.Offset()
		if -dRow > b.Top || dRow > b.Bottom || -dCol > b.Left || dCol > b.Right {
			continue
		}
		m.Codes = append(m.Codes, c)
		m.DRows = append(m.DRows, dRow)
		m.DCols = append(m.DCols, dCol)
	}
	return m
}

// Resolves the mask to byte offsets relative to the center pixel, for a given
// row stride and pixel stride in bytes
func (m *Mask) Offsets(rowStride, pixelStride int32) []int {
	offs := make([]int, len(m.Codes))
	for i := range m.Codes {
		offs[i] = int(m.DRows[i])*int(rowStride) + int(m.DCols[i])*int(pixelStride)
	}
	return offs
}

// Precomputed masks for all window sizes and border classes
type Table struct {
	masks [MaxRadius + 1][]*Mask // by radius, then border index
}

var defaultTable = NewTable()

// Generates the masks for all window sizes and border classes
func NewTable() *Table {
	t := &Table{}
	for r := int32(1); r <= MaxRadius; r++ {
		n := r + 1
		t.masks[r] = make([]*Mask, n*n*n*n)
		for top := int32(0); top <= r; top++ {
			for bottom := int32(0); bottom <= r; bottom++ {
				for left := int32(0); left <= r; left++ {
					for right := int32(0); right <= r; right++ {
						b := Border{top, bottom, left, right}
						t.masks[r][index(b, n)] = Generate(2*r+1, b)
					}
				}
			}
		}
	}
	return t
}

func index(b Border, n int32) int32 {
	return ((b.Top*n+b.Bottom)*n+b.Left)*n + b.Right
}

// Returns the mask for a window size and border class. The border must be clamped
// to the window radius, as returned by BorderOf. Masks are shared, do not modify.
func (t *Table) Get(size int32, b Border) *Mask {
	r := size / 2
	return t.masks[r][index(b, r+1)]
}

// Returns the mask for a window size and border class from the default table
func Get(size int32, b Border) *Mask { return defaultTable.Get(size, b) }

// Checks for a supported window size
func ValidSize(size int32) error {
	if size < MinSize || size > MaxSize || size%2 == 0 {
		return fmt.Errorf("invalid window size %d, want 3, 5 or 7", size)
	}
	return nil
}
