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

// Package stats computes per-channel statistics of bitmaps.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mlnoga/bmpmedian/internal/bmp"
)

// Basic statistics on one color channel
type ChannelStats struct {
	Min      uint8
	Max      uint8
	Mean     float32 // Mean (average)
	StdDev   float32 // Standard deviation (norm 2, sigma)
	Median   uint8
	Mode     float32 // Mode of a normal distribution fitted to the histogram
	Impulses float32 // Fraction of samples at 0 or 255

	Histogram Histogram `json:"-"`
}

// Statistics of an image, per channel
type Stats struct {
	Width  int32
	Height int32
	Pixels int64
	R      ChannelStats
	G      ChannelStats
	B      ChannelStats
}

// Pretty print channel stats to string
func (s *ChannelStats) String() string {
	return fmt.Sprintf("Min %d Max %d Mean %.6g StdDev %.6g Median %d Mode %.4g Impulses %.4g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.Mode, s.Impulses)
}

// Pretty print image stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("%dx%d R: %s\n%dx%d G: %s\n%dx%d B: %s",
		s.Width, s.Height, s.R.String(), s.Width, s.Height, s.G.String(), s.Width, s.Height, s.B.String())
}

// Pretty print image stats to CSV header
func (s *Stats) ToCSVHeader() string {
	h := ""
	for _, c := range []string{"R", "G", "B"} {
		if h != "" {
			h += ","
		}
		h += fmt.Sprintf("%sMin,%sMax,%sMean,%sStdDev,%sMedian,%sMode,%sImpulses", c, c, c, c, c, c, c)
	}
	return h
}

// Pretty print image stats to CSV line item
func (s *Stats) ToCSVLine() string {
	l := ""
	for _, c := range []*ChannelStats{&s.R, &s.G, &s.B} {
		if l != "" {
			l += ","
		}
		l += fmt.Sprintf("%d,%d,%.6g,%.6g,%d,%.4g,%.4g", c.Min, c.Max, c.Mean, c.StdDev, c.Median, c.Mode, c.Impulses)
	}
	return l
}

// Calculates statistics for all pixels of an image
func Calc(img *bmp.Image) (s *Stats) {
	rows, cols := img.Rows(), img.Width()
	n := int(rows) * int(cols)
	r, g, b := make([]float64, n), make([]float64, n), make([]float64, n)
	s = &Stats{Width: cols, Height: rows, Pixels: int64(n)}

	i := 0
	for row := int32(0); row < rows; row++ {
		pos := img.PixelPos(row, 0)
		for col := int32(0); col < cols; col++ {
			c := img.ReadAt(pos)
			r[i], g[i], b[i] = float64(c.R), float64(c.G), float64(c.B)
			s.R.Histogram[c.R]++
			s.G.Histogram[c.G]++
			s.B.Histogram[c.B]++
			i++
			pos += int(img.BytesPerPixel())
		}
	}
	calcChannel(&s.R, r)
	calcChannel(&s.G, g)
	calcChannel(&s.B, b)
	return s
}

func calcChannel(s *ChannelStats, data []float64) {
	mean, stdDev := stat.PopMeanStdDev(data, nil)
	s.Mean, s.StdDev = float32(mean), float32(stdDev)

	n := int64(len(data))
	s.Min, s.Max = 255, 0
	cum := int64(0)
	medianFound := false
	for v := 0; v < NumBins; v++ {
		count := int64(s.Histogram[v])
		if count == 0 {
			continue
		}
		if uint8(v) < s.Min {
			s.Min = uint8(v)
		}
		s.Max = uint8(v)
		cum += count
		// element at index n/2 of the sorted samples
		if !medianFound && cum > n/2 {
			s.Median, medianFound = uint8(v), true
		}
	}
	s.Impulses = float32(s.Histogram[0]+s.Histogram[NumBins-1]) / float32(n)

	mode, _, err := s.Histogram.ModeStdDev()
	if err != nil || math.IsNaN(float64(mode)) {
		mode = float32(s.Median)
	}
	s.Mode = mode
}

// Peak signal to noise ratio of two images of the same dimensions, in dB.
// Returns +Inf for identical pixels.
func PSNR(a, b *bmp.Image) (float64, error) {
	if a.Width() != b.Width() || a.Rows() != b.Rows() {
		return 0, fmt.Errorf("dimensions %s and %s differ", a.DimensionsToString(), b.DimensionsToString())
	}
	sumSq, n := 0.0, 0
	for row := int32(0); row < a.Rows(); row++ {
		for col := int32(0); col < a.Width(); col++ {
			ca, cb := a.At(row, col), b.At(row, col)
			for _, d := range []float64{
				float64(ca.R) - float64(cb.R),
				float64(ca.G) - float64(cb.G),
				float64(ca.B) - float64(cb.B),
			} {
				sumSq += d * d
			}
			n += 3
		}
	}
	if sumSq == 0 {
		return math.Inf(1), nil
	}
	mse := sumSq / float64(n)
	return 10 * math.Log10(255*255/mse), nil
}
