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

// Package session holds the single bitmap an interactive client works on,
// and serializes all requests against it.
package session

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/median"
	"github.com/mlnoga/bmpmedian/internal/ops"
)

// Returned by operations that need a loaded image
var ErrNotLoaded = errors.New("no image loaded")

// Snapshot of the session state, for presentation
type State struct {
	Loaded     bool   `json:"loaded"`
	Dirty      bool   `json:"dirty"`
	Path       string `json:"path,omitempty"`
	Width      int32  `json:"width,omitempty"`
	Height     int32  `json:"height,omitempty"`
	BitCount   int32  `json:"bitCount,omitempty"`
	RowPadding int32  `json:"rowPadding,omitempty"`
	Quantizer  string `json:"quantizer,omitempty"`
}

type Session struct {
	mutex  sync.Mutex
	ctx    *ops.Context
	img    *bmp.Image
	nextID int
}

func New(ctx *ops.Context) *Session {
	return &Session{ctx: ctx}
}

func (s *Session) IsLoaded() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.img != nil
}

func (s *Session) IsDirty() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.img != nil && s.img.IsDirty()
}

func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.img == nil {
		return State{}
	}
	return State{
		Loaded:     true,
		Dirty:      s.img.IsDirty(),
		Path:       s.img.Path,
		Width:      s.img.Width(),
		Height:     s.img.Rows(),
		BitCount:   s.img.BitCount(),
		RowPadding: s.img.RowPadding(),
		Quantizer:  s.img.Quantizer().String(),
	}
}

// Loads an image from a file, replacing the current one. Unsaved changes to the
// current image are discarded. On failure the session is left without an image.
func (s *Session) Load(fileName string) (State, error) {
	s.mutex.Lock()
	s.img = nil
	id := s.nextID
	s.nextID++
	if err := s.ctx.CheckPath(fileName); err != nil {
		s.mutex.Unlock()
		return State{}, err
	}
	img, err := ops.NewOpLoad(id, fileName).Apply(nil, s.ctx)
	if err != nil {
		s.mutex.Unlock()
		return State{}, err
	}
	s.img = img
	s.mutex.Unlock()
	return s.State(), nil
}

// Loads an image from raw bytes, replacing the current one. The image has no path
// until saved with SaveAs.
func (s *Session) LoadBytes(data []byte) (State, error) {
	s.mutex.Lock()
	s.img = nil
	img, err := bmp.Decode(data)
	if err != nil {
		s.mutex.Unlock()
		return State{}, errors.Wrap(err, "decoding upload")
	}
	img.ID = s.nextID
	s.nextID++
	img.SetQuantizer(s.ctx.Quantizer)
	fmt.Fprintf(s.ctx.Log, "%d: Loaded %s image from upload\n", img.ID, img.DimensionsToString())
	s.img = img
	s.mutex.Unlock()
	return s.State(), nil
}

// Runs f on the loaded image while holding the lock
func (s *Session) with(f func(img *bmp.Image) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.img == nil {
		return ErrNotLoaded
	}
	return f(s.img)
}

// Applies the fixed-size median filter with the given window size
func (s *Session) Filter(windowSize int32) error {
	return s.with(func(img *bmp.Image) error {
		if err := median.Filter(img, windowSize); err != nil {
			return errors.Wrapf(err, "%d: median filter", img.ID)
		}
		fmt.Fprintf(s.ctx.Log, "%d: Applied %dx%d median filter\n", img.ID, windowSize, windowSize)
		return nil
	})
}

// Applies the adaptive median filter
func (s *Session) Adaptive() (stats median.AdaptiveStats, err error) {
	err = s.with(func(img *bmp.Image) error {
		stats = median.Adaptive(img)
		fmt.Fprintf(s.ctx.Log, "%d: Applied adaptive median filter: %v\n", img.ID, stats)
		return nil
	})
	return stats, err
}

// Writes the image back to its file, if modified
func (s *Session) Save() error {
	return s.with(func(img *bmp.Image) error {
		if !img.IsDirty() {
			return nil
		}
		if err := img.Save(); err != nil {
			return errors.Wrapf(err, "%d: saving", img.ID)
		}
		fmt.Fprintf(s.ctx.Log, "%d: Saved to %s\n", img.ID, img.Path)
		return nil
	})
}

// Writes the image to a new file, which becomes its path
func (s *Session) SaveAs(fileName string) error {
	return s.with(func(img *bmp.Image) error {
		if err := s.ctx.CheckPath(fileName); err != nil {
			return err
		}
		if err := img.SaveAs(fileName); err != nil {
			return errors.Wrapf(err, "%d: saving", img.ID)
		}
		fmt.Fprintf(s.ctx.Log, "%d: Saved as %s\n", img.ID, img.Path)
		return nil
	})
}

// Discards all changes since the last load or save
func (s *Session) Restore() error {
	return s.with(func(img *bmp.Image) error {
		img.Restore()
		return nil
	})
}

// Selects the palette quantizer for writes to 8-bit images
func (s *Session) SetQuantizer(q bmp.Quantizer) error {
	return s.with(func(img *bmp.Image) error {
		img.SetQuantizer(q)
		return nil
	})
}

// Writes a rendering of the current pixels in the given preview format
func (s *Session) WritePreview(w io.Writer, format string) error {
	return s.with(func(img *bmp.Image) error {
		return img.WritePreview(w, format)
	})
}

// Writes the current bitmap bytes, including unsaved changes
func (s *Session) WriteBitmap(w io.Writer) error {
	return s.with(func(img *bmp.Image) error {
		_, err := img.WriteTo(w)
		return err
	})
}
