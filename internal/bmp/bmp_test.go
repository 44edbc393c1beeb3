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
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	xbmp "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

var (
	black = RGB{}
	white = RGB{R: 255, G: 255, B: 255}
	red   = RGB{R: 255}
)

func randomRGBA(width, height int) *image.RGBA {
	rng := fastrand.RNG{}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(rng.Uint32n(256)), uint8(rng.Uint32n(256)), uint8(rng.Uint32n(256)), 255})
		}
	}
	return img
}

func encodeReference(t *testing.T, m image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, xbmp.Encode(&buf, m))
	return buf.Bytes()
}

func rgbOf(c color.Color) RGB {
	r, g, b, _ := c.RGBA()
	return RGB{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

func TestDecodeReference24(t *testing.T) {
	for _, width := range []int{4, 8, 12} {
		ref := randomRGBA(width, 3)
		img, err := Decode(encodeReference(t, ref))
		require.NoError(t, err)

		assert.Equal(t, int32(width), img.Width())
		assert.Equal(t, int32(3), img.Height())
		assert.Equal(t, int32(24), img.BitCount())
		assert.Equal(t, int32(HeaderSize), img.PixelOffset())
		assert.Equal(t, int32(0), img.RowPadding())
		assert.True(t, img.BottomUp())
		assert.Nil(t, img.Palette())
		assert.False(t, img.IsDirty())

		for y := 0; y < 3; y++ {
			for x := 0; x < width; x++ {
				assert.Equal(t, rgbOf(ref.At(x, y)), img.At(img.StoredRow(int32(y)), int32(x)), "pixel %d,%d", x, y)
			}
		}
		assert.Equal(t, ref.Pix, img.ToRGBA().Pix)
	}
}

func TestDecodeReference8(t *testing.T) {
	pal := color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{200, 10, 10, 255},
		color.RGBA{10, 200, 10, 255},
		color.RGBA{10, 10, 200, 255},
	}
	for _, width := range []int{1, 3, 5, 8} {
		ref := image.NewPaletted(image.Rect(0, 0, width, 3), pal)
		for i := range ref.Pix {
			ref.Pix[i] = uint8(i % len(pal))
		}
		img, err := Decode(encodeReference(t, ref))
		require.NoError(t, err)

		assert.Equal(t, int32(8), img.BitCount())
		assert.Equal(t, RowPaddingUnits(int32(width)), img.RowPadding())
		require.GreaterOrEqual(t, len(img.Palette()), len(pal))
		for i, c := range pal {
			assert.Equal(t, rgbOf(c), img.Palette()[i])
		}
		for y := 0; y < 3; y++ {
			for x := 0; x < width; x++ {
				assert.Equal(t, rgbOf(ref.At(x, y)), img.At(img.StoredRow(int32(y)), int32(x)), "pixel %d,%d", x, y)
			}
		}
	}
}

func TestNewReadableByReference(t *testing.T) {
	for _, height := range []int32{3, -3} {
		img, err := New(8, height, 24, nil)
		require.NoError(t, err)
		ref := randomRGBA(8, 3)
		for y := 0; y < 3; y++ {
			for x := 0; x < 8; x++ {
				img.Set(img.StoredRow(int32(y)), int32(x), rgbOf(ref.At(x, y)))
			}
		}
		m, err := xbmp.Decode(bytes.NewReader(img.Bytes()))
		require.NoError(t, err)
		for y := 0; y < 3; y++ {
			for x := 0; x < 8; x++ {
				assert.Equal(t, rgbOf(ref.At(x, y)), rgbOf(m.At(x, y)), "height %d pixel %d,%d", height, x, y)
			}
		}
	}

	img, err := New(5, 2, 8, []RGB{black, red, white})
	require.NoError(t, err)
	img.Set(img.StoredRow(0), 4, red)
	m, err := xbmp.Decode(bytes.NewReader(img.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, red, rgbOf(m.At(4, 0)))
	assert.Equal(t, black, rgbOf(m.At(3, 0)))
}

func TestRowPaddingUnits(t *testing.T) {
	for w := int32(1); w <= 64; w++ {
		pad := RowPaddingUnits(w)
		assert.GreaterOrEqual(t, pad, int32(0))
		assert.Less(t, pad, int32(4))
		assert.Zero(t, (w+pad)%4, "width %d", w)
	}
}

func TestRowStride(t *testing.T) {
	img, err := New(5, 2, 24, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), img.RowPadding())
	assert.Equal(t, int32(24), img.RowStride())
	assert.Equal(t, HeaderSize+24, img.PixelPos(1, 0))
	assert.Equal(t, HeaderSize+24+3*4, img.PixelPos(1, 4))
	assert.Equal(t, "5x2 24-bit", img.DimensionsToString())

	img, err = New(5, 2, 8, []RGB{black, white})
	require.NoError(t, err)
	assert.Equal(t, int32(8), img.RowStride())
	assert.Equal(t, int32(HeaderSize+8), img.PixelOffset())
}

func header(bitCount uint16, width, height int32, offBits uint32, size int) []byte {
	data := make([]byte, size)
	data[0], data[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(data[OffBitsPos:], offBits)
	binary.LittleEndian.PutUint32(data[WidthPos:], uint32(width))
	binary.LittleEndian.PutUint32(data[HeightPos:], uint32(height))
	binary.LittleEndian.PutUint16(data[BitCountPos:], bitCount)
	return data
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"signature", append([]byte("MB"), make([]byte, 100)...)},
		{"truncated header", []byte("BM\x00\x00")},
		{"16-bit", header(16, 4, 4, 54, 54+32)},
		{"32-bit", header(32, 4, 4, 54, 54+64)},
		{"zero width", header(24, 0, 4, 54, 54+48)},
		{"negative width", header(24, -4, 4, 54, 54+48)},
		{"zero height", header(24, 4, 0, 54, 54+48)},
		{"offset before header", header(24, 4, 4, 20, 54+48)},
		{"offset beyond file", header(24, 4, 4, 1000, 54+48)},
		{"pixel array truncated", header(24, 4, 4, 54, 54+47)},
		{"8-bit pixel array truncated", header(8, 4, -4, 54+8, 54+8+15)},
		{"huge width", header(24, 1<<30, 1, 54, 54+48)},
		{"huge height", header(8, 4, -(1 << 30), 54+8, 54+8+16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data)
			assert.Nil(t, img)
			var fe *FormatError
			assert.True(t, errors.As(err, &fe), "got %v", err)
		})
	}

	img, err := Decode(header(24, 4, 4, 54, 54+48))
	require.NoError(t, err)
	assert.Equal(t, int32(4), img.Rows())
	img, err = Decode(header(24, 4, -4, 54, 54+48))
	require.NoError(t, err)
	assert.Equal(t, int32(4), img.Rows())
	assert.False(t, img.BottomUp())
}

func TestIndexedWriteLastMatch(t *testing.T) {
	img, err := New(4, 1, 8, []RGB{red, white, red, black})
	require.NoError(t, err)
	require.True(t, img.Set(0, 0, red))
	assert.Equal(t, byte(2), img.Bytes()[img.PixelPos(0, 0)])
	require.True(t, img.Set(0, 1, black))
	assert.Equal(t, byte(3), img.Bytes()[img.PixelPos(0, 1)])

	// no exact match leaves the index unchanged
	assert.False(t, img.Set(0, 1, RGB{R: 1, G: 2, B: 3}))
	assert.Equal(t, black, img.At(0, 1))
}

func TestIndexedWriteNearest(t *testing.T) {
	img, err := New(4, 1, 8, []RGB{black, white, red})
	require.NoError(t, err)
	img.SetQuantizer(QuantizeNearest)
	assert.Equal(t, QuantizeNearest, img.Quantizer())

	assert.True(t, img.Set(0, 0, RGB{R: 220, G: 220, B: 220}))
	assert.Equal(t, white, img.At(0, 0))
	assert.True(t, img.Set(0, 1, RGB{R: 20, G: 20, B: 25}))
	assert.Equal(t, black, img.At(0, 1))
	assert.True(t, img.Set(0, 2, RGB{R: 230, G: 30, B: 20}))
	assert.Equal(t, red, img.At(0, 2))
}

func TestIndexedReadOutsidePalette(t *testing.T) {
	img, err := New(4, 1, 8, []RGB{black, white})
	require.NoError(t, err)
	data := img.Bytes()
	data[img.PixelPos(0, 0)] = 255
	img, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, RGB{}, img.At(0, 0))
}

func TestParseQuantizer(t *testing.T) {
	q, err := ParseQuantizer("nearest")
	require.NoError(t, err)
	assert.Equal(t, QuantizeNearest, q)
	q, err = ParseQuantizer("")
	require.NoError(t, err)
	assert.Equal(t, QuantizeExact, q)
	assert.Equal(t, "exact", q.String())
	_, err = ParseQuantizer("dither")
	assert.Error(t, err)
}

func TestNewErrors(t *testing.T) {
	_, err := New(4, 4, 16, nil)
	assert.Error(t, err)
	_, err = New(4, 4, 8, nil)
	assert.Error(t, err)
	_, err = New(0, 4, 24, nil)
	assert.Error(t, err)
	_, err = New(4, 0, 24, nil)
	assert.Error(t, err)
}

func TestSaveAsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bmp")
	ref := encodeReference(t, randomRGBA(8, 5))
	require.NoError(t, os.WriteFile(src, ref, 0644))

	img, err := NewImageFromFile(src, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, img.ID)
	assert.Equal(t, src, img.Path)

	dst := filepath.Join(dir, "dst.bmp")
	require.NoError(t, img.SaveAs(dst))
	assert.Equal(t, dst, img.Path)
	written, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, ref, written)
}

func TestSaveWritesOnlyWhenDirty(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "img.bmp")
	img, err := New(4, 2, 24, nil)
	require.NoError(t, err)
	require.NoError(t, img.SaveAs(fn))
	require.NoError(t, os.Remove(fn))

	// clean image, nothing to write
	require.NoError(t, img.Save())
	_, err = os.Stat(fn)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	img.Set(1, 1, red)
	require.True(t, img.IsDirty())
	require.NoError(t, img.Save())
	assert.False(t, img.IsDirty())
	written, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, img.Bytes(), written)
}

func TestSaveWithoutPath(t *testing.T) {
	img, err := New(4, 2, 24, nil)
	require.NoError(t, err)
	img.Set(0, 0, red)
	err = img.Save()
	var ioe *IOError
	require.True(t, errors.As(err, &ioe))
	assert.True(t, errors.Is(err, os.ErrInvalid))
	assert.True(t, img.IsDirty())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewImageFromFile(filepath.Join(t.TempDir(), "missing.bmp"), 1)
	var ioe *IOError
	require.True(t, errors.As(err, &ioe))
	assert.Equal(t, "read", ioe.Op)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRestore(t *testing.T) {
	img, err := Decode(encodeReference(t, randomRGBA(4, 4)))
	require.NoError(t, err)
	orig := img.Bytes()
	before := img.At(2, 2)

	img.Set(2, 2, RGB{R: ^before.R, G: ^before.G, B: ^before.B})
	assert.True(t, img.IsDirty())
	assert.NotEqual(t, orig, img.Bytes())
	img.Restore()
	assert.False(t, img.IsDirty())
	assert.Equal(t, orig, img.Bytes())

	// restoring a clean image is a no-op
	img.Restore()
	assert.Equal(t, orig, img.Bytes())
}

func TestRestoreAfterSave(t *testing.T) {
	img, err := New(4, 4, 24, nil)
	require.NoError(t, err)
	img.Set(0, 0, red)
	require.NoError(t, img.SaveAs(filepath.Join(t.TempDir(), "saved.bmp")))

	img.Set(0, 0, white)
	img.Restore()
	assert.Equal(t, red, img.At(0, 0))
}

func TestRowOrder(t *testing.T) {
	img, err := New(2, 2, 24, nil)
	require.NoError(t, err)
	img.Set(0, 0, red)
	assert.Equal(t, int32(1), img.StoredRow(0))
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.ToRGBA().RGBAAt(0, 1))

	img, err = New(2, -2, 24, nil)
	require.NoError(t, err)
	img.Set(0, 0, red)
	assert.Equal(t, int32(0), img.StoredRow(0))
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.ToRGBA().RGBAAt(0, 0))
}

func TestWritePreview(t *testing.T) {
	img, err := Decode(encodeReference(t, randomRGBA(8, 4)))
	require.NoError(t, err)
	want := img.ToRGBA()

	var buf bytes.Buffer
	require.NoError(t, img.WritePreview(&buf, "png"))
	m, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, want.Bounds(), m.Bounds())
	assert.Equal(t, rgbOf(want.At(3, 2)), rgbOf(m.At(3, 2)))

	buf.Reset()
	require.NoError(t, img.WritePreview(&buf, "tiff"))
	m, err = tiff.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, rgbOf(want.At(5, 1)), rgbOf(m.At(5, 1)))

	assert.Error(t, img.WritePreview(&buf, ""))
	assert.Error(t, img.WritePreview(&buf, "gif"))

	fn := filepath.Join(t.TempDir(), "preview.JPG")
	require.NoError(t, img.WritePreviewToFile(fn))
	st, err := os.Stat(fn)
	require.NoError(t, err)
	assert.NotZero(t, st.Size())

	// unknown suffixes fail before any file is created
	fn = filepath.Join(t.TempDir(), "preview.gif")
	assert.Error(t, img.WritePreviewToFile(fn))
	_, err = os.Stat(fn)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPreviewFormat(t *testing.T) {
	assert.Equal(t, "png", PreviewFormat("a.PNG"))
	assert.Equal(t, "jpeg", PreviewFormat("a.jpeg"))
	assert.Equal(t, "jpeg", PreviewFormat("a.jpg"))
	assert.Equal(t, "tiff", PreviewFormat("dir/a.tif"))
	assert.Equal(t, "", PreviewFormat("a.bmp"))
}
