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

import "fmt"

// Returned when the bytes are not a bitmap this package can process:
// wrong signature, unsupported bit depth, or an inconsistent layout.
// Fatal to the load attempt.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "bmp: format error: " + e.Reason
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Returned when reading from or writing to the backing file fails.
// No retry is attempted.
type IOError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("bmp: %s %s: %s", e.Op, e.Path, e.Err.Error())
}

func (e *IOError) Unwrap() error { return e.Err }
