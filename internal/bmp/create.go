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
	"encoding/binary"
)

// Creates a new all-zero bitmap with the given dimensions. Height follows the header
// convention, negative for top-down storage. For 8-bit images the palette is written
// after the header, and must have between 1 and 256 entries. The image is not dirty
// and has no path.
func New(width, height, bitCount int32, palette []RGB) (*Image, error) {
	if bitCount != 8 && bitCount != 24 {
		return nil, formatErrorf("not an 8-bit or 24-bit bitmap, bit count %d", bitCount)
	}
	if bitCount == 8 && (len(palette) == 0 || len(palette) > MaxPaletteLen) {
		return nil, formatErrorf("8-bit bitmap needs 1 to %d palette entries, got %d", MaxPaletteLen, len(palette))
	}
	if bitCount == 24 {
		palette = nil
	}
	if width <= 0 || height == 0 {
		return nil, formatErrorf("invalid dimensions %dx%d", width, height)
	}
	rows := height
	if rows < 0 {
		rows = -rows
	}
	bpp := bitCount / 8
	stride := (width + RowPaddingUnits(width)) * bpp
	offBits := HeaderSize + PaletteStride*len(palette)
	imageSize := int(stride) * int(rows)
	data := make([]byte, offBits+imageSize)

	le := binary.LittleEndian
	data[0], data[1] = 0x42, 0x4D
	le.PutUint32(data[2:], uint32(len(data)))
	le.PutUint32(data[OffBitsPos:], uint32(offBits))
	le.PutUint32(data[14:], 40) // info header size
	le.PutUint32(data[WidthPos:], uint32(width))
	le.PutUint32(data[HeightPos:], uint32(height))
	le.PutUint16(data[26:], 1) // planes
	le.PutUint16(data[BitCountPos:], uint16(bitCount))
	le.PutUint32(data[34:], uint32(imageSize))
	le.PutUint32(data[38:], 2835) // 72 dpi
	le.PutUint32(data[42:], 2835)
	le.PutUint32(data[46:], uint32(len(palette)))

	for i, c := range palette {
		e := PalettePos + PaletteStride*i
		data[e], data[e+1], data[e+2] = c.B, c.G, c.R
	}
	return Decode(data)
}
