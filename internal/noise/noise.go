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

// Package noise adds impulse noise to bitmaps and estimates their noise level.
package noise

import (
	"fmt"
	"math"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/bmpmedian/internal/bmp"
)

// Replaces the given fraction of pixels with salt (brightest) or pepper (darkest)
// values, chosen with equal probability. For 8-bit images these are the brightest
// and darkest palette entries. A zero seed picks a random seed.
// Returns the number of pixels changed. Marks the image as modified.
func SaltAndPepper(img *bmp.Image, fraction float32, seed uint32) (count int, err error) {
	if fraction < 0 || fraction > 1 {
		return 0, fmt.Errorf("noise fraction %g outside of [0,1]", fraction)
	}
	pepper, salt := extremes(img)
	rng := fastrand.RNG{}
	if seed == 0 {
		seed = fastrand.Uint32()
	}
	rng.Seed(seed)

	threshold := uint32(float64(fraction) * float64(math.MaxUint32))
	img.MarkDirty()
	for row := int32(0); row < img.Rows(); row++ {
		pos := img.PixelPos(row, 0)
		for col := int32(0); col < img.Width(); col++ {
			if rng.Uint32() < threshold || fraction == 1 {
				c := pepper
				if rng.Uint32n(2) == 1 {
					c = salt
				}
				if img.WriteAt(pos, c) {
					count++
				}
			}
			pos += int(img.BytesPerPixel())
		}
	}
	return count, nil
}

// Returns the darkest and brightest colors the image can represent
func extremes(img *bmp.Image) (dark, bright bmp.RGB) {
	pal := img.Palette()
	if pal == nil {
		return bmp.RGB{}, bmp.RGB{R: 255, G: 255, B: 255}
	}
	minL, maxL := math.MaxInt32, -1
	for _, c := range pal {
		l := luma(c)
		if l < minL {
			minL, dark = l, c
		}
		if l > maxL {
			maxL, bright = l, c
		}
	}
	return dark, bright
}

// Integer luma, Rec. 601 weights times 1000
func luma(c bmp.RGB) int {
	return 299*int(c.R) + 587*int(c.G) + 114*int(c.B)
}

// Weights for noise estimation
var enWeights = []float32{
	1, -2, 1,
	-2, 4, -2,
	1, -2, 1,
}

// Estimate the level of gaussian noise on the luma of a natural image.
// From J. Immerkær, “Fast Noise Variance Estimation”, Computer Vision and Image Understanding, Vol. 64, No. 2, pp. 300-302, Sep. 1996.
// Returns 0 for images smaller than 3x3.
func Estimate(img *bmp.Image) float32 {
	width, height := img.Width(), img.Rows()
	if width < 3 || height < 3 {
		return 0
	}
	data := make([]float32, int(width)*int(height))
	for row := int32(0); row < height; row++ {
		for col := int32(0); col < width; col++ {
			data[int(row)*int(width)+int(col)] = float32(luma(img.At(row, col))) / 1000
		}
	}

	enOffsets := []int32{
		-width - 1, -width, -width + 1,
		-1, 0, 1,
		width - 1, width, width + 1,
	}
	sum := float32(0)
	for y := int32(1); y < height-1; y++ {
		rowSum := float32(0)
		for x := int32(1); x < width-1; x++ {
			i := y*width + x
			conv := float32(0)
			for j, o := range enOffsets {
				conv += data[i+o] * enWeights[j]
			}
			rowSum += float32(math.Abs(float64(conv)))
		}
		sum += rowSum
	}
	factor := float32(math.Sqrt(0.5*math.Pi)) / (6 * float32(width-2) * float32(height-2))
	return sum * factor
}
