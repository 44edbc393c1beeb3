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

package stats

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Number of bins of a channel histogram, one per 8-bit value
const NumBins = 256

// Histogram of an 8-bit channel
type Histogram [NumBins]int32

// Total number of samples in the histogram
func (h *Histogram) Count() (n int64) {
	for _, v := range h {
		n += int64(v)
	}
	return n
}

// Returns the location and the value of the histogram peak, ignoring the
// given number of bins at each end
func (h *Histogram) Peak(ignore int) (x, y float32) {
	maxIndex, maxValue := -1, int32(math.MinInt32)
	for i := ignore; i < NumBins-ignore; i++ {
		if h[i] > maxValue {
			maxIndex, maxValue = i, h[i]
		}
	}
	return float32(maxIndex), float32(maxValue)
}

// Calculates the mode and the standard deviation of the given histogram by
// fitting a normal distribution. The extreme bins are ignored, as impulse
// noise piles up there.
func (h *Histogram) ModeStdDev() (mode, stdDev float32, err error) {
	// Take an educated initial guess: the maximum value of the histogram
	peak, peakVal := h.Peak(1)
	if peakVal <= 0 {
		return peak, 0, nil
	}

	// Now minimize the distance between the histogram and a normal distribution
	x0 := []float64{float64(peakVal) * 5.0 * math.Sqrt(2*math.Pi), float64(peak), 5.0}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], math.Abs(x[2])+1e-6
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := 0.0
			for i := 1; i < NumBins-1; i++ {
				xmusig := (float64(i) - mu) / sigma
				yPredict := scaler * math.Exp(-0.5*xmusig*xmusig)
				diff := float64(h[i]) - yPredict
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / float64(NumBins-2))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return -1, -1, err
	}
	return float32(result.X[1]), float32(math.Abs(result.X[2])), nil
}
