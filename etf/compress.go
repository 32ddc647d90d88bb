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
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"
)

// maxInflate bounds the declared uncompressed size a
// peer may ask us to allocate.
const maxInflate = 1 << 30

// inflate decodes the payload of a compressed term:
// a 4-byte uncompressed size followed by a zlib stream.
func inflate(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, &DecodeError{Msg: "short compressed header", Off: 0}
	}
	size := binary.BigEndian.Uint32(b)
	if size > maxInflate {
		return nil, &DecodeError{Msg: "compressed term too large", Off: 0}
	}
	zr, err := zlib.NewReader(bytes.NewReader(b[4:]))
	if err != nil {
		return nil, &DecodeError{Msg: "malformed zlib stream: " + err.Error(), Off: 4}
	}
	defer zr.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, &DecodeError{Msg: "truncated zlib stream: " + err.Error(), Off: 4}
	}
	return out, nil
}

// MarshalCompressed appends the version byte and the
// zlib-compressed encoding of t. Decoders that do not
// understand compressed terms cannot read this form, so
// it should only be used when the peer advertises it.
func MarshalCompressed(dst *Buffer, t Term) error {
	var plain Buffer
	if err := Encode(&plain, t); err != nil {
		return err
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(plain.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	dst.Grow(2 + 4 + z.Len())
	dst.putByte(versionByte)
	dst.putByte(tagCompressed)
	dst.putU32(uint32(plain.Size()))
	dst.UnsafeAppend(z.Bytes())
	return nil
}
