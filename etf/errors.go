// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package etf

import (
	"errors"
	"fmt"
)

var (
	// ErrBadArgument indicates a caller-supplied value
	// outside the representable range (over-long atom,
	// bad node name, uninitialized term passed to the
	// encoder, and so forth).
	ErrBadArgument = errors.New("etf: bad argument")

	// ErrWrongType is returned by the To* accessors
	// when the term holds a different variant.
	ErrWrongType = errors.New("etf: wrong term type")

	// ErrTableFull is returned by Intern when the
	// atom table has reached its capacity.
	ErrTableFull = errors.New("etf: atom table full")

	// ErrEncodeSpace is returned when an encode target
	// cannot accommodate the encoded term.
	ErrEncodeSpace = errors.New("etf: insufficient encode buffer")
)

// DecodeError describes malformed wire input.
// Off is the byte offset into the input at which
// decoding failed. For a compressed term, Off counts
// from the byte after the compression tag, or from the
// start of the inflated bytes when the inflated term
// itself is malformed.
type DecodeError struct {
	Msg string
	Off int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("etf: decode at offset %d: %s", e.Off, e.Msg)
}
