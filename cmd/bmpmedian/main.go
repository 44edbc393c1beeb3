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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pkg/errors"

	nl "github.com/mlnoga/bmpmedian/internal"
	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/ops"
	"github.com/mlnoga/bmpmedian/internal/ops/filter"
	"github.com/mlnoga/bmpmedian/internal/ops/post"
	"github.com/mlnoga/bmpmedian/internal/rest"
	"github.com/mlnoga/bmpmedian/internal/session"
)

const version = "0.3.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")

var out = flag.String("out", "", "save output with given filename pattern, e.g. `out%d.bmp`. Empty saves modified files in place")
var preview = flag.String("preview", "", "save PNG, JPEG or TIFF preview with given filename pattern, e.g. `prev%d.png`")
var logFile = flag.String("log", "", "save log output to `file`")
var csv = flag.String("csv", "", "append image statistics to CSV `file`")

var window = flag.Int("window", 3, "window size for the fixed median filter, one of 3, 5 or 7")
var nearest = flag.Bool("nearest", false, "write filtered colors to 8-bit images as nearest palette entry, instead of skipping colors not in the palette")
var fraction = flag.Float64("noise", 0.05, "fraction of pixels to replace with salt and pepper noise")
var seed = flag.Uint("seed", 0, "random seed for noise, 0=random")

var pipeline = flag.String("pipeline", "", "run the JSON operator pipeline from `file`")
var threads = flag.Int("threads", 0, "number of images to process concurrently, 0=GOMAXPROCS")

var addr = flag.String("addr", ":8080", "listen address for the serve command")
var chroot = flag.String("chroot", "", "serve: chroot into given directory before serving")
var setuid = flag.Int("setuid", -1, "serve: switch to given user id before serving, -1=do not switch")

func main() {
	logWriter := nl.LogWriter()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `bmpmedian Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (median|adaptive|noise|stats|run|serve|legal|version) (img0.bmp ... imgn.bmp)

Commands:
  median   Apply fixed-size median filter with the given -window size
  adaptive Apply adaptive median filter with windows growing from 3x3 to 7x7
  noise    Add salt and pepper noise, e.g. to test the filters
  stats    Show image statistics and noise estimates
  run      Run a JSON operator pipeline from -pipeline file on the inputs
  serve    Serve the interactive web interface and REST API on -addr
  legal    Show license and attribution information
  version  Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *logFile != "" {
		if err := nl.LogAlsoToFile(*logFile); err != nil {
			nl.LogFatalf("Unable to open logfile '%s': %s\n", *logFile, err.Error())
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	c := ops.NewContext(logWriter)
	if *threads > 0 {
		c.MaxThreads = *threads
	}
	if *nearest {
		c.Quantizer = bmp.QuantizeNearest
	}

	var err error
	switch args[0] {
	case "median", "adaptive", "noise":
		err = cmdFilter(args[0], args[1:], c)

	case "stats":
		err = runPipeline(ops.NewOpSequence(ops.NewOpLoadMany(args[1:]), post.NewOpStats(*csv)), c)

	case "run":
		err = cmdRun(args[1:], c)

	case "serve":
		err = cmdServe(c)

	case "legal":
		nl.LogPrint(legal)

	case "version":
		nl.LogPrintf("Version %s\n", version)
		nl.LogPrintf("Running on %s with %d physical cores, %d logical cores, %d MiB memory\n",
			cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, c.MemoryMB)

	case "help", "?":
		flag.Usage()

	default:
		nl.LogPrintf("Unknown command '%s'\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	if args[0] != "legal" && args[0] != "version" {
		nl.LogPrintf("\nDone after %v\n", time.Since(start))
	}
	if err != nil {
		nl.LogPrintln("Error:", err.Error())
		nl.LogClose()
		pprof.StopCPUProfile()
		os.Exit(1)
	}
	nl.LogClose()
}

// Filters all input files and saves them, either in place or per -out
func cmdFilter(cmd string, fileNames []string, c *ops.Context) error {
	if len(fileNames) == 0 {
		return errors.New("no input files")
	}
	var op ops.Operator
	switch cmd {
	case "median":
		if !validWindow(int32(*window)) {
			return errors.Errorf("invalid window size %d, want 3, 5 or 7", *window)
		}
		op = filter.NewOpMedian(int32(*window))
	case "adaptive":
		op = filter.NewOpAdaptive()
	case "noise":
		op = filter.NewOpNoise(float32(*fraction), uint32(*seed))
	}
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany(fileNames),
		op,
		ops.NewOpSave(*out),
		post.NewOpExport(*preview),
	)
	return runPipeline(seq, c)
}

func validWindow(n int32) bool {
	return n == 3 || n == 5 || n == 7
}

// Loads a JSON pipeline. Input files on the command line are prepended as loadMany step
func cmdRun(fileNames []string, c *ops.Context) error {
	if *pipeline == "" {
		return errors.New("missing -pipeline file")
	}
	raw, err := os.ReadFile(*pipeline)
	if err != nil {
		return errors.Wrapf(err, "reading pipeline %s", *pipeline)
	}
	op, err := ops.UnmarshalOperator(raw)
	if err != nil {
		return errors.Wrapf(err, "parsing pipeline %s", *pipeline)
	}
	if len(fileNames) > 0 {
		op = ops.NewOpSequence(ops.NewOpLoadMany(fileNames), op)
	}
	return runPipeline(op, c)
}

func runPipeline(op ops.Operator, c *ops.Context) error {
	if err := printArgs(c.Log, "Running with these settings:\n", "\n\n", op); err != nil {
		return err
	}
	outs, err := ops.Run(op, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Processed %d images.\n", len(outs))
	return nil
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

func cmdServe(c *ops.Context) error {
	if *chroot != "" || *setuid >= 0 {
		if err := rest.MakeSandbox(c.Log, *chroot, *setuid); err != nil {
			return err
		}
	}
	c.Sandboxed = true
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Serving %s on %s with %d threads\n", wd, *addr, c.MaxThreads)
	return rest.Serve(*addr, session.New(c), c)
}
