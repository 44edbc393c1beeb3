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
	"fmt"
)

// Fixed header positions of an uncompressed Windows bitmap
const (
	OffBitsPos    = 10 // pixel data offset, uint32
	WidthPos      = 18 // width in pixels, int32
	HeightPos     = 22 // height in pixels, int32. Negative for top-down row order
	BitCountPos   = 28 // bits per pixel, uint16
	PalettePos    = 54 // first palette entry, right after the info header
	HeaderSize    = 54
	PaletteStride = 4 // blue, green, red, reserved
	MaxPaletteLen = 256
)

// A bitmap image. Owns the complete file content, which filters mutate in place,
// plus a backup snapshot taken at load and refreshed on every successful save.
// Header, palette and padding bytes are never touched.
// Not safe for concurrent use.
type Image struct {
	ID   int    // Sequential ID number, for log output
	Path string // File the image was loaded from or last saved to, if any

	bytes  []byte
	backup []byte
	dirty  bool

	offBits   int32
	width     int32
	height    int32 // signed, as stored in the header
	bitCount  int32
	padding   int32 // row padding in pixel units
	codec     Codec
	quantizer Quantizer
}

// Decodes a bitmap from the given bytes. The image takes ownership of data.
func Decode(data []byte) (img *Image, err error) {
	if len(data) < 2 || data[0] != 0x42 || data[1] != 0x4D {
		return nil, formatErrorf("not a bitmap, signature missing")
	}
	if len(data) < HeaderSize {
		return nil, formatErrorf("header truncated at %d bytes", len(data))
	}
	img = &Image{
		bytes:    data,
		offBits:  int32(readUint32(data, OffBitsPos)),
		width:    int32(readUint32(data, WidthPos)),
		height:   int32(readUint32(data, HeightPos)),
		bitCount: int32(binary.LittleEndian.Uint16(data[BitCountPos:])),
	}
	if img.bitCount != 8 && img.bitCount != 24 {
		return nil, formatErrorf("not an 8-bit or 24-bit bitmap, bit count %d", img.bitCount)
	}
	if img.width <= 0 || img.height == 0 || img.Rows() < 0 {
		return nil, formatErrorf("invalid dimensions %dx%d", img.width, img.height)
	}
	if int64(img.width)*int64(img.bitCount/8) > int64(len(data)) || int64(img.Rows()) > int64(len(data)) {
		return nil, formatErrorf("dimensions %dx%d exceed file with %d bytes", img.width, img.Rows(), len(data))
	}
	img.padding = RowPaddingUnits(img.width)

	if img.offBits < HeaderSize || int(img.offBits) > len(data) {
		return nil, formatErrorf("pixel data offset %d outside of file with %d bytes", img.offBits, len(data))
	}
	if img.bitCount == 8 {
		img.codec = &Indexed8{PaletteOffset: PalettePos, PaletteEnd: img.offBits}
	} else {
		img.codec = Direct24{}
	}
	img.quantizer = QuantizeExact

	last := int64(img.offBits) + int64(img.Rows()-1)*int64(img.RowStride()) + int64(img.width)*int64(img.BytesPerPixel())
	if last > int64(len(data)) {
		return nil, formatErrorf("pixel array of %s image needs %d bytes, file has %d", img.DimensionsToString(), last, len(data))
	}

	img.backup = make([]byte, len(data))
	copy(img.backup, data)
	return img, nil
}

// Reads a little-endian 32-bit value, i.e. b0 + b1*256 + b2*65536 + b3*16777216
func readUint32(data []byte, pos int) uint32 {
	return binary.LittleEndian.Uint32(data[pos : pos+4])
}

// Returns the number of filler units per row, for a row width in pixels.
// The unit is one pixel: multiply by the bytes per pixel to get a byte count.
func RowPaddingUnits(width int32) int32 {
	if width%4 == 0 {
		return 0
	}
	return 4 - width%4
}

func (img *Image) Width() int32         { return img.width }
func (img *Image) Height() int32        { return img.height }
func (img *Image) BitCount() int32      { return img.bitCount }
func (img *Image) PixelOffset() int32   { return img.offBits }
func (img *Image) PaletteOffset() int32 { return PalettePos }
func (img *Image) RowPadding() int32    { return img.padding }
func (img *Image) Codec() Codec         { return img.codec }
func (img *Image) IsDirty() bool        { return img.dirty }
func (img *Image) Len() int             { return len(img.bytes) }

// True if scanlines are stored last-row-first, i.e. the header height is positive
func (img *Image) BottomUp() bool { return img.height > 0 }

// Number of pixel rows, the absolute value of the header height
func (img *Image) Rows() int32 {
	if img.height < 0 {
		return -img.height
	}
	return img.height
}

// Bytes per pixel unit: 1 for palette indices, 3 for BGR triplets
func (img *Image) BytesPerPixel() int32 { return img.codec.BytesPerPixel() }

// Byte distance between the starts of two consecutive stored rows
func (img *Image) RowStride() int32 {
	return (img.width + img.padding) * img.codec.BytesPerPixel()
}

// Byte offset of the pixel at the given stored row and column.
// Stored row 0 is the first row in the file, which is the bottom row of
// the picture for bottom-up bitmaps.
func (img *Image) PixelPos(row, col int32) int {
	return int(img.offBits) + int(row)*int(img.RowStride()) + int(col)*int(img.codec.BytesPerPixel())
}

// Returns the color at the given stored row and column
func (img *Image) At(row, col int32) RGB {
	return img.codec.Read(img.bytes, img.PixelPos(row, col))
}

// Sets the color at the given stored row and column. For palette images, returns
// false and leaves the pixel unchanged if the quantizer finds no palette entry.
func (img *Image) Set(row, col int32, c RGB) bool {
	img.dirty = true
	return img.write(img.PixelPos(row, col), c)
}

// Reads the color at a raw byte offset into the pixel array
func (img *Image) ReadAt(pos int) RGB {
	return img.codec.Read(img.bytes, pos)
}

// Writes the color at a raw byte offset into the pixel array, using the current quantizer.
// Does not change the dirty flag; callers processing a whole pass call MarkDirty once.
func (img *Image) WriteAt(pos int, c RGB) bool {
	return img.write(pos, c)
}

func (img *Image) write(pos int, c RGB) bool {
	if idx, ok := img.codec.(*Indexed8); ok && img.quantizer == QuantizeNearest {
		return idx.WriteNearest(img.bytes, pos, c)
	}
	return img.codec.Write(img.bytes, pos, c)
}

// Marks the in-memory image as modified relative to the backup
func (img *Image) MarkDirty() { img.dirty = true }

// Selects how colors are mapped back to palette indices for 8-bit images
func (img *Image) SetQuantizer(q Quantizer) { img.quantizer = q }

func (img *Image) Quantizer() Quantizer { return img.quantizer }

// Returns a copy of the current file content
func (img *Image) Bytes() []byte {
	out := make([]byte, len(img.bytes))
	copy(out, img.bytes)
	return out
}

// Returns the palette entries of an 8-bit image, or nil for 24-bit images
func (img *Image) Palette() []RGB {
	idx, ok := img.codec.(*Indexed8)
	if !ok {
		return nil
	}
	return idx.Palette(img.bytes)
}

func (img *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%d %d-bit", img.width, img.Rows(), img.bitCount)
}
