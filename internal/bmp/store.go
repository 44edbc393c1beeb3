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
	"io"
	"os"
)

// Loads a bitmap from the file with the given name
func NewImageFromFile(fileName string, id int) (img *Image, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, &IOError{Op: "read", Path: fileName, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return nil, &IOError{Op: "read", Path: fileName, Err: err}
	}
	if img, err = Decode(data); err != nil {
		return nil, err
	}
	img.ID, img.Path = id, fileName
	return img, nil
}

// Writes the current buffer back to the file it came from and makes it the
// new restore point. Does nothing unless the image was modified.
func (img *Image) Save() error {
	if !img.dirty {
		return nil
	}
	if img.Path == "" {
		return &IOError{Op: "write", Path: img.Path, Err: os.ErrInvalid}
	}
	return img.saveTo(img.Path)
}

// Writes the current buffer to the given file, which becomes the image's path,
// and makes it the new restore point, regardless of the modification state.
func (img *Image) SaveAs(fileName string) error {
	if err := img.saveTo(fileName); err != nil {
		return err
	}
	img.Path = fileName
	return nil
}

func (img *Image) saveTo(fileName string) error {
	if err := writeFile(fileName, img.bytes); err != nil {
		return &IOError{Op: "write", Path: fileName, Err: err}
	}
	copy(img.backup, img.bytes)
	img.dirty = false
	return nil
}

func writeFile(fileName string, data []byte) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err = w.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Writes the current buffer to w without touching the restore point
func (img *Image) WriteTo(w io.Writer) (n int64, err error) {
	m, err := w.Write(img.bytes)
	return int64(m), err
}

// Reverts the buffer to the last restore point, i.e. the content at load time
// or at the last save. Does nothing unless the image was modified. Afterwards
// the buffer equals the restore point again, so the image is no longer dirty.
func (img *Image) Restore() {
	if !img.dirty {
		return
	}
	copy(img.bytes, img.backup)
	img.dirty = false
}

// Decodes a separate image from the restore point, i.e. the content at load
// time or at the last save
func (img *Image) RestorePoint() (*Image, error) {
	data := make([]byte, len(img.backup))
	copy(data, img.backup)
	return Decode(data)
}
