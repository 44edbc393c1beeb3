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

package filter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/mask"
	"github.com/mlnoga/bmpmedian/internal/median"
	"github.com/mlnoga/bmpmedian/internal/noise"
	"github.com/mlnoga/bmpmedian/internal/ops"
)

// Applies a fixed-size median filter
type OpMedian struct {
	ops.OpUnaryBase
	WindowSize int32 `json:"windowSize"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpMedianDefault() }) } // register the operator for JSON decoding

func NewOpMedianDefault() *OpMedian { return NewOpMedian(3) }

func NewOpMedian(windowSize int32) *OpMedian {
	op := OpMedian{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "median", Active: true}},
		WindowSize:  windowSize,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpMedian) UnmarshalJSON(data []byte) error {
	type defaults OpMedian
	def := defaults(*NewOpMedianDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpMedian(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return mask.ValidSize(op.WindowSize)
}

func (op *OpMedian) Apply(img *bmp.Image, c *ops.Context) (result *bmp.Image, err error) {
	start := time.Now()
	if err = median.Filter(img, op.WindowSize); err != nil {
		return nil, errors.Wrapf(err, "%d: median filter", img.ID)
	}
	fmt.Fprintf(c.Log, "%d: Applied %dx%d median filter in %v\n", img.ID, op.WindowSize, op.WindowSize, time.Since(start))
	return img, nil
}

// Applies the adaptive median filter
type OpAdaptive struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpAdaptive() }) } // register the operator for JSON decoding

func NewOpAdaptive() *OpAdaptive {
	op := OpAdaptive{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "adaptiveMedian", Active: true}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpAdaptive) UnmarshalJSON(data []byte) error {
	type defaults OpAdaptive
	def := defaults(*NewOpAdaptive())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpAdaptive(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpAdaptive) Apply(img *bmp.Image, c *ops.Context) (result *bmp.Image, err error) {
	start := time.Now()
	stats := median.Adaptive(img)
	fmt.Fprintf(c.Log, "%d: Applied adaptive median filter in %v: %v\n", img.ID, time.Since(start), stats)
	return img, nil
}

// Discards all changes since the last load or save
type OpRestore struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRestore() }) } // register the operator for JSON decoding

func NewOpRestore() *OpRestore {
	op := OpRestore{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "restore", Active: true}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpRestore) UnmarshalJSON(data []byte) error {
	type defaults OpRestore
	def := defaults(*NewOpRestore())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpRestore(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpRestore) Apply(img *bmp.Image, c *ops.Context) (result *bmp.Image, err error) {
	if !img.IsDirty() {
		fmt.Fprintf(c.Log, "%d: Unchanged, nothing to restore\n", img.ID)
		return img, nil
	}
	img.Restore()
	fmt.Fprintf(c.Log, "%d: Restored last saved state\n", img.ID)
	return img, nil
}

// Adds salt and pepper noise
type OpNoise struct {
	ops.OpUnaryBase
	Fraction float32 `json:"fraction"`
	Seed     uint32  `json:"seed"` // 0 for a random seed
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpNoiseDefault() }) } // register the operator for JSON decoding

func NewOpNoiseDefault() *OpNoise { return NewOpNoise(0.05, 0) }

func NewOpNoise(fraction float32, seed uint32) *OpNoise {
	op := OpNoise{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "noise", Active: fraction > 0}},
		Fraction:    fraction,
		Seed:        seed,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpNoise) UnmarshalJSON(data []byte) error {
	type defaults OpNoise
	def := defaults(*NewOpNoiseDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpNoise(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpNoise) Apply(img *bmp.Image, c *ops.Context) (result *bmp.Image, err error) {
	// distinct but reproducible seeds per image
	seed := op.Seed
	if seed != 0 {
		seed += uint32(img.ID)
	}
	n, err := noise.SaltAndPepper(img, op.Fraction, seed)
	if err != nil {
		return nil, errors.Wrapf(err, "%d: adding noise", img.ID)
	}
	fmt.Fprintf(c.Log, "%d: Added salt and pepper noise to %d pixels\n", img.ID, n)
	return img, nil
}
