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

// Package median applies fixed-size and adaptive median filters to bitmaps.
//
// Both filters sweep the pixels once in storage order and write each result
// back immediately, so pixels later in the sweep see already filtered
// neighbors above them.
package median

import (
	"fmt"

	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/mask"
	"github.com/mlnoga/bmpmedian/internal/qsort"
)

// Median of the samples in a neighborhood, per channel
type Result struct {
	Median        bmp.RGB
	Count         int  // number of samples
	MedianInRange bool // every channel median strictly between channel min and max
	CenterInRange bool // every channel of the center strictly between channel min and max
}

// Gathers neighborhoods of an image. Holds per-channel sample buffers
// sized for the largest window, reused from pixel to pixel.
type window struct {
	img       *bmp.Image
	rows      int32
	cols      int32
	rowStride int32
	bpp       int32
	offsets   map[*mask.Mask][]int
	r, g, b   []uint8
}

func newWindow(img *bmp.Image) *window {
	return &window{
		img:       img,
		rows:      img.Rows(),
		cols:      img.Width(),
		rowStride: img.RowStride(),
		bpp:       img.BytesPerPixel(),
		offsets:   map[*mask.Mask][]int{},
		r:         make([]uint8, mask.MaxSize*mask.MaxSize),
		g:         make([]uint8, mask.MaxSize*mask.MaxSize),
		b:         make([]uint8, mask.MaxSize*mask.MaxSize),
	}
}

// Returns the byte offsets of the mask for a pixel at the given stored row and column
func (w *window) offsetsFor(row, col, size int32) []int {
	m := mask.Get(size, mask.BorderOf(row, col, w.rows, w.cols, size/2))
	offs, ok := w.offsets[m]
	if !ok {
		offs = m.Offsets(w.rowStride, w.bpp)
		w.offsets[m] = offs
	}
	return offs
}

// Computes the per-channel median of the neighborhood of the pixel at byte position pos,
// and whether the median and the center lie strictly inside the sample range
func (w *window) median(pos int, offs []int, center bmp.RGB) (res Result) {
	n := len(offs)
	r, g, b := w.r[:n], w.g[:n], w.b[:n]
	for i, off := range offs {
		c := w.img.ReadAt(pos + off)
		r[i], g[i], b[i] = c.R, c.G, c.B
	}
	minR, maxR := qsort.MinMaxUint8(r)
	minG, maxG := qsort.MinMaxUint8(g)
	minB, maxB := qsort.MinMaxUint8(b)

	res.Count = n
	res.Median = bmp.RGB{R: MedianUint8(r), G: MedianUint8(g), B: MedianUint8(b)}
	res.MedianInRange = inside(res.Median.R, minR, maxR) && inside(res.Median.G, minG, maxG) && inside(res.Median.B, minB, maxB)
	res.CenterInRange = inside(center.R, minR, maxR) && inside(center.G, minG, maxG) && inside(center.B, minB, maxB)
	return res
}

func inside(v, min, max uint8) bool { return v > min && v < max }

// Returns the median of the neighborhood of the given size around the pixel
// at the given stored row and column, without modifying the image
func Neighborhood(img *bmp.Image, row, col, size int32) (Result, error) {
	if err := mask.ValidSize(size); err != nil {
		return Result{}, err
	}
	if row < 0 || row >= img.Rows() || col < 0 || col >= img.Width() {
		return Result{}, fmt.Errorf("pixel %d,%d outside of %s image", row, col, img.DimensionsToString())
	}
	w := newWindow(img)
	pos := img.PixelPos(row, col)
	return w.median(pos, w.offsetsFor(row, col, size), img.ReadAt(pos)), nil
}

// Applies a median filter with the given window size to every pixel, in place.
// Marks the image as modified.
func Filter(img *bmp.Image, size int32) error {
	if err := mask.ValidSize(size); err != nil {
		return err
	}
	img.MarkDirty()
	w := newWindow(img)
	for row := int32(0); row < w.rows; row++ {
		pos := img.PixelPos(row, 0)
		for col := int32(0); col < w.cols; col++ {
			res := w.median(pos, w.offsetsFor(row, col, size), bmp.RGB{})
			img.WriteAt(pos, res.Median)
			pos += int(w.bpp)
		}
	}
	return nil
}
