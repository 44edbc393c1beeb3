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

package median

import (
	"fmt"

	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/mask"
)

// Outcome of the adaptive filter for one pixel
type Decision int

const (
	Kept      Decision = iota // median in range, center in range: pixel keeps its value
	Replaced                  // median in range, center not: pixel takes the median
	Exhausted                 // no window up to the maximum size had the median in range: pixel keeps its value
)

func (d Decision) String() string {
	switch d {
	case Kept:
		return "kept"
	case Replaced:
		return "replaced"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Summary of an adaptive filter pass
type AdaptiveStats struct {
	Kept      int64
	Replaced  int64
	Exhausted int64
	BySize    [mask.MaxSize + 1]int64 // number of pixels decided at each window size; exhausted pixels count at MaxSize
}

func (s AdaptiveStats) String() string {
	return fmt.Sprintf("kept %d replaced %d exhausted %d (3x3 %d, 5x5 %d, 7x7 %d)",
		s.Kept, s.Replaced, s.Exhausted, s.BySize[3], s.BySize[5], s.BySize[7])
}

// Decides the output of the adaptive filter for the pixel at the given position.
// Grows the window from 3x3 in steps of two until the median lies strictly inside the
// sample range, or the maximum size is exceeded. Returns the output color, the decision,
// and the window size the decision was taken at.
func (w *window) adapt(row, col int32, pos int) (out bmp.RGB, d Decision, size int32) {
	own := w.img.ReadAt(pos)
	for size = mask.MinSize; size <= mask.MaxSize; size += 2 {
		res := w.median(pos, w.offsetsFor(row, col, size), own)
		if res.MedianInRange {
			if res.CenterInRange {
				return own, Kept, size
			}
			return res.Median, Replaced, size
		}
	}
	return own, Exhausted, mask.MaxSize
}

// Applies an adaptive median filter to every pixel, in place. Impulses are replaced
// with the local median, while pixels inside their local range are left alone.
// Marks the image as modified.
func Adaptive(img *bmp.Image) (stats AdaptiveStats) {
	img.MarkDirty()
	w := newWindow(img)
	for row := int32(0); row < w.rows; row++ {
		pos := img.PixelPos(row, 0)
		for col := int32(0); col < w.cols; col++ {
			out, d, size := w.adapt(row, col, pos)
			img.WriteAt(pos, out)
			switch d {
			case Kept:
				stats.Kept++
			case Replaced:
				stats.Replaced++
			case Exhausted:
				stats.Exhausted++
			}
			stats.BySize[size]++
			pos += int(w.bpp)
		}
	}
	return stats
}

// Returns the adaptive filter decision for a single pixel without modifying the image
func AdaptiveDecision(img *bmp.Image, row, col int32) (out bmp.RGB, d Decision, size int32) {
	w := newWindow(img)
	return w.adapt(row, col, img.PixelPos(row, col))
}
