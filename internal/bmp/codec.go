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

package bmp

import (
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// An 8-bit per channel color
type RGB struct {
	R, G, B uint8
}

// Translates between pixel bytes in the file buffer and colors.
// Positions are byte offsets of the first byte of a pixel.
type Codec interface {
	BytesPerPixel() int32
	Read(buf []byte, pos int) RGB
	Write(buf []byte, pos int, c RGB) bool
}

// Mapping from colors to palette indices for 8-bit images
type Quantizer int

const (
	QuantizeExact   Quantizer = iota // exact palette match, or leave the pixel unchanged
	QuantizeNearest                  // exact match if any, else nearest palette entry in CIE Lab
)

func (q Quantizer) String() string {
	switch q {
	case QuantizeExact:
		return "exact"
	case QuantizeNearest:
		return "nearest"
	}
	return "unknown"
}

// Parses a quantizer name as used on the command line and in JSON
func ParseQuantizer(s string) (Quantizer, error) {
	switch s {
	case "", "exact":
		return QuantizeExact, nil
	case "nearest":
		return QuantizeNearest, nil
	}
	return QuantizeExact, fmt.Errorf("unknown quantizer '%s', want exact or nearest", s)
}

// Direct 24-bit pixels, stored blue, green, red
type Direct24 struct{}

func (Direct24) BytesPerPixel() int32 { return 3 }

func (Direct24) Read(buf []byte, pos int) RGB {
	return RGB{R: buf[pos+2], G: buf[pos+1], B: buf[pos]}
}

func (Direct24) Write(buf []byte, pos int, c RGB) bool {
	buf[pos+2] = c.R
	buf[pos+1] = c.G
	buf[pos] = c.B
	return true
}

// Indexed 8-bit pixels. Each byte is an index into the palette, whose 4-byte
// entries (blue, green, red, reserved) run from PaletteOffset up to PaletteEnd.
type Indexed8 struct {
	PaletteOffset int32
	PaletteEnd    int32 // exclusive, the pixel data offset
}

func (*Indexed8) BytesPerPixel() int32 { return 1 }

func (p *Indexed8) Read(buf []byte, pos int) RGB {
	e := int(p.PaletteOffset) + PaletteStride*int(buf[pos])
	if e+2 >= len(buf) {
		return RGB{}
	}
	return RGB{R: buf[e+2], G: buf[e+1], B: buf[e]}
}

// Writes the index of the palette entry matching c exactly. Scans in ascending
// order, so the highest matching index wins. Without a match the pixel is left
// unchanged and false is returned.
func (p *Indexed8) Write(buf []byte, pos int, c RGB) bool {
	found := -1
	for i, n := 0, p.numEntries(); i < n; i++ {
		e := int(p.PaletteOffset) + PaletteStride*i
		if buf[e+2] == c.R && buf[e+1] == c.G && buf[e] == c.B {
			found = i
		}
	}
	if found < 0 {
		return false
	}
	buf[pos] = uint8(found)
	return true
}

// Like Write, but falls back to the palette entry closest to c in CIE Lab
// when there is no exact match. Ties go to the lowest index.
func (p *Indexed8) WriteNearest(buf []byte, pos int, c RGB) bool {
	if p.Write(buf, pos, c) {
		return true
	}
	n := p.numEntries()
	if n == 0 {
		return false
	}
	target := c.lab()
	best, bestDist := 0, math.Inf(1)
	for i := 0; i < n; i++ {
		e := int(p.PaletteOffset) + PaletteStride*i
		entry := RGB{R: buf[e+2], G: buf[e+1], B: buf[e]}
		if d := target.DistanceLab(entry.lab()); d < bestDist {
			best, bestDist = i, d
		}
	}
	buf[pos] = uint8(best)
	return true
}

// Returns all palette entries
func (p *Indexed8) Palette(buf []byte) []RGB {
	n := p.numEntries()
	pal := make([]RGB, n)
	for i := range pal {
		e := int(p.PaletteOffset) + PaletteStride*i
		pal[i] = RGB{R: buf[e+2], G: buf[e+1], B: buf[e]}
	}
	return pal
}

// Number of complete entries between palette start and pixel data,
// limited to what an index byte can address
func (p *Indexed8) numEntries() int {
	n := int(p.PaletteEnd-p.PaletteOffset) / PaletteStride
	if n > MaxPaletteLen {
		n = MaxPaletteLen
	}
	if n < 0 {
		n = 0
	}
	return n
}

func (c RGB) lab() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}
