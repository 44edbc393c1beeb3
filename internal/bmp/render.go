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
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"golang.org/x/image/tiff"
)

// Maps a screen row (0=top) to the stored row holding it
func (img *Image) StoredRow(screenRow int32) int32 {
	if img.BottomUp() {
		return img.Rows() - 1 - screenRow
	}
	return screenRow
}

// Converts the pixels into a Golang image for display, top row first
func (img *Image) ToRGBA() *image.RGBA {
	width, rows := int(img.width), int(img.Rows())
	out := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, rows}})
	for y := 0; y < rows; y++ {
		pos := img.PixelPos(img.StoredRow(int32(y)), 0)
		for x := 0; x < width; x++ {
			c := img.codec.Read(img.bytes, pos)
			out.SetRGBA(x, y, color.RGBA{c.R, c.G, c.B, 255})
			pos += int(img.codec.BytesPerPixel())
		}
	}
	return out
}

// Writes a rendering of the image to the given file. The format follows the
// suffix: .png, .jpg/.jpeg or .tif/.tiff
func (img *Image) WritePreviewToFile(fileName string) error {
	format := PreviewFormat(fileName)
	if format == "" {
		return fmt.Errorf("unknown preview suffix in %s", fileName)
	}
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	writer := bufio.NewWriter(file)
	if err = img.WritePreview(writer, format); err != nil {
		file.Close()
		return err
	}
	if err = writer.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Returns the preview format for a file name, or "" if the suffix is unknown
func PreviewFormat(fileName string) string {
	fnLower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(fnLower, ".png"):
		return "png"
	case strings.HasSuffix(fnLower, ".jpg"), strings.HasSuffix(fnLower, ".jpeg"):
		return "jpeg"
	case strings.HasSuffix(fnLower, ".tif"), strings.HasSuffix(fnLower, ".tiff"):
		return "tiff"
	}
	return ""
}

// Writes a rendering of the image in the given format: png, jpeg or tiff
func (img *Image) WritePreview(w io.Writer, format string) error {
	rgba := img.ToRGBA()
	switch format {
	case "png":
		return png.Encode(w, rgba)
	case "jpeg":
		return jpeg.Encode(w, rgba, &jpeg.Options{Quality: 95})
	case "tiff":
		return tiff.Encode(w, rgba, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case "":
		return errors.New("unknown preview format")
	}
	return fmt.Errorf("unknown preview format '%s'", format)
}
