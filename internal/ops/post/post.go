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

package post

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/noise"
	"github.com/mlnoga/bmpmedian/internal/ops"
	"github.com/mlnoga/bmpmedian/internal/stats"
)

// Logs per-channel statistics, and optionally appends them to a CSV file
type OpStats struct {
	ops.OpUnaryBase
	FileName string     `json:"fileName"`
	mutex    sync.Mutex
	started  bool
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStatsDefault() }) } // register the operator for JSON decoding

func NewOpStatsDefault() *OpStats { return NewOpStats("") }

func NewOpStats(fileName string) *OpStats {
	op := &OpStats{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "stats", Active: true}},
		FileName:    fileName,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStats) UnmarshalJSON(data []byte) error {
	var def struct {
		ops.OpBase
		FileName string `json:"fileName"`
	}
	def.OpBase = NewOpStatsDefault().OpBase
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	op.OpBase, op.FileName = def.OpBase, def.FileName
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpStats) Apply(img *bmp.Image, c *ops.Context) (result *bmp.Image, err error) {
	if op.FileName != "" {
		if err = c.CheckPath(op.FileName); err != nil {
			return nil, err
		}
	}
	s := stats.Calc(img)
	n := noise.Estimate(img)
	orig, err := img.RestorePoint()
	if err != nil {
		return nil, errors.Wrapf(err, "%d: decoding restore point", img.ID)
	}
	psnr, err := stats.PSNR(img, orig)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: %s image %s noise %.4g PSNR %.4g dB\n%v\n", img.ID, img.DimensionsToString(), img.Path, n, psnr, s)
	if op.FileName == "" {
		return img, nil
	}

	op.mutex.Lock()         // lock so a single thread is active
	defer op.mutex.Unlock() // always release lock on exit
	if err = op.writeLine(img, s, n, psnr); err != nil {
		return nil, errors.Wrapf(err, "%d: writing statistics to %s", img.ID, op.FileName)
	}
	return img, nil
}

// Appends a CSV line to the file, truncating it and writing a header first on the initial call
func (op *OpStats) writeLine(img *bmp.Image, s *stats.Stats, n float32, psnr float64) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !op.started {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(op.FileName, flags, 0666)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if !op.started {
		fmt.Fprintf(w, "ID,File,Width,Height,Noise,%s,PSNR\n", s.ToCSVHeader())
		op.started = true
	}
	fmt.Fprintf(w, "%d,%s,%d,%d,%.4g,%s,%.4g\n", img.ID, img.Path, s.Width, s.Height, n, s.ToCSVLine(), psnr)
	if err = w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Writes a PNG, JPEG or TIFF rendering of the image. Pattern expansion for %d
// based on the image id
type OpExport struct {
	ops.OpUnaryBase
	FilePattern string `json:"filePattern"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpExportDefault() }) } // register the operator for JSON decoding

func NewOpExportDefault() *OpExport { return NewOpExport("") }

func NewOpExport(filePattern string) *OpExport {
	op := OpExport{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "export", Active: filePattern != ""}},
		FilePattern: filePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpExport) UnmarshalJSON(data []byte) error {
	type defaults OpExport
	def := defaults(*NewOpExportDefault())
	def.Active = true
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpExport(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpExport) Apply(img *bmp.Image, c *ops.Context) (result *bmp.Image, err error) {
	if op.FilePattern == "" {
		return img, nil
	}
	fileName := ops.ExpandPattern(op.FilePattern, img.ID)
	if err = c.CheckPath(fileName); err != nil {
		return nil, err
	}
	format := bmp.PreviewFormat(fileName)
	if format == "" {
		return nil, errors.Errorf("%d: unknown preview suffix in %s, want .png, .jpg or .tif", img.ID, fileName)
	}
	fmt.Fprintf(c.Log, "%d: Writing %s preview to %s\n", img.ID, format, fileName)
	if err = img.WritePreviewToFile(fileName); err != nil {
		return nil, errors.Wrapf(err, "%d: writing preview %s", img.ID, fileName)
	}
	return img, nil
}
