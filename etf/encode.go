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
	"math"
)

// Encode appends the wire encoding of t to dst, choosing
// the narrowest opcode that fits each value. Pattern
// variables and uninitialized terms cannot be encoded
// and return ErrBadArgument; dst is unchanged on error.
func Encode(dst *Buffer, t Term) error {
	size, err := EncodeSize(t)
	if err != nil {
		return err
	}
	dst.Grow(size)
	mark := len(dst.buf)
	encode(dst, t)
	if len(dst.buf)-mark != size {
		// EncodeSize and encode must agree exactly
		panic("etf: encoded size mismatch")
	}
	return nil
}

// EncodeAt encodes t into the front of dst and returns
// the number of bytes written. If dst cannot hold the
// encoding, EncodeAt returns ErrEncodeSpace and leaves
// dst unchanged.
func EncodeAt(dst []byte, t Term) (int, error) {
	size, err := EncodeSize(t)
	if err != nil {
		return 0, err
	}
	if size > len(dst) {
		return 0, ErrEncodeSpace
	}
	var b Buffer
	b.Set(dst[:0])
	encode(&b, t)
	return size, nil
}

// Marshal appends the version byte followed by the
// encoding of t.
func Marshal(dst *Buffer, t Term) error {
	size, err := EncodeSize(t)
	if err != nil {
		return err
	}
	dst.Grow(size + 1)
	dst.putByte(versionByte)
	encode(dst, t)
	return nil
}

// EncodeSize returns the exact number of bytes Encode
// will emit for t.
func EncodeSize(t Term) (int, error) {
	if !t.Initialized() {
		return 0, ErrBadArgument
	}
	switch t.kind {
	case LongKind:
		return longSize(int64(t.num)), nil
	case DoubleKind:
		return 9, nil
	case BoolKind:
		if t.num != 0 {
			return 2 + 4, nil // 'true'
		}
		return 2 + 5, nil // 'false'
	case AtomKind:
		return 2 + len(Atom(t.num).Name()), nil
	case StringKind:
		s := string(t.body.(strBody))
		if len(s) <= math.MaxUint16 {
			return 3 + len(s), nil
		}
		// long strings downgrade to a list of bytes
		return 5 + 2*len(s) + 1, nil
	case BinaryKind:
		return 5 + len(t.body.(*binBody).data), nil
	case PidKind:
		pb := t.body.(*pidBody)
		return 1 + atomSize(pb.node) + 4 + 4 + 4, nil
	case PortKind:
		pb := t.body.(*portBody)
		return 1 + atomSize(pb.node) + 4 + 4, nil
	case RefKind:
		rb := t.body.(*refBody)
		return 1 + 2 + atomSize(rb.node) + 4 + 4*len(rb.ids), nil
	case TupleKind:
		tb := t.body.(*tupleBody)
		size := 2
		if tb.arity > math.MaxUint8 {
			size = 5
		}
		for i := range tb.items {
			n, err := EncodeSize(tb.items[i])
			if err != nil {
				return 0, err
			}
			size += n
		}
		return size, nil
	case ListKind:
		lb := t.body.(*listBody)
		if len(lb.items) == 0 && lb.tail == nil {
			return 1, nil // NIL_EXT
		}
		size := 5
		for i := range lb.items {
			n, err := EncodeSize(lb.items[i])
			if err != nil {
				return 0, err
			}
			size += n
		}
		if lb.tail != nil {
			n, err := EncodeSize(*lb.tail)
			if err != nil {
				return 0, err
			}
			return size + n, nil
		}
		return size + 1, nil
	case MapKind:
		mb := t.body.(*mapBody)
		size := 5
		for i := range mb.pairs {
			n, err := EncodeSize(mb.pairs[i].Key)
			if err != nil {
				return 0, err
			}
			size += n
			n, err = EncodeSize(mb.pairs[i].Value)
			if err != nil {
				return 0, err
			}
			size += n
		}
		return size, nil
	case TraceKind:
		return EncodeSize(t.body.(*traceBody).tupleForm())
	}
	// VarKind, InvalidKind
	return 0, ErrBadArgument
}

func atomSize(a Atom) int {
	return 2 + len(a.Name())
}

func longSize(v int64) int {
	switch {
	case v >= 0 && v <= math.MaxUint8:
		return 2
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return 5
	}
	return 3 + magBytes(magnitude(v))
}

func magnitude(v int64) uint64 {
	if v < 0 {
		return -uint64(v)
	}
	return uint64(v)
}

func magBytes(mag uint64) int {
	n := 0
	for mag != 0 {
		n++
		mag >>= 8
	}
	return n
}

// encode assumes t has already been validated by
// EncodeSize.
func encode(dst *Buffer, t Term) {
	switch t.kind {
	case LongKind:
		encodeLong(dst, int64(t.num))
	case DoubleKind:
		dst.putByte(tagNewFloat)
		dst.putU64(t.num)
	case BoolKind, AtomKind:
		a, _ := t.ToAtom()
		encodeAtom(dst, a)
	case StringKind:
		s := string(t.body.(strBody))
		if len(s) <= math.MaxUint16 {
			dst.putByte(tagString)
			dst.putU16(uint16(len(s)))
			dst.putString(s)
			return
		}
		dst.putByte(tagList)
		dst.putU32(uint32(len(s)))
		for i := 0; i < len(s); i++ {
			dst.putByte(tagSmallInteger)
			dst.putByte(s[i])
		}
		dst.putByte(tagNil)
	case BinaryKind:
		p := t.body.(*binBody).data
		dst.putByte(tagBinary)
		dst.putU32(uint32(len(p)))
		dst.UnsafeAppend(p)
	case PidKind:
		pb := t.body.(*pidBody)
		dst.putByte(tagNewPid)
		encodeAtom(dst, pb.node)
		dst.putU32(pb.id)
		dst.putU32(pb.serial)
		dst.putU32(pb.creation)
	case PortKind:
		pb := t.body.(*portBody)
		dst.putByte(tagNewPort)
		encodeAtom(dst, pb.node)
		dst.putU32(pb.id)
		dst.putU32(pb.creation)
	case RefKind:
		rb := t.body.(*refBody)
		dst.putByte(tagNewerReference)
		dst.putU16(uint16(len(rb.ids)))
		encodeAtom(dst, rb.node)
		dst.putU32(rb.creation)
		for _, id := range rb.ids {
			dst.putU32(id)
		}
	case TupleKind:
		tb := t.body.(*tupleBody)
		if tb.arity <= math.MaxUint8 {
			dst.putByte(tagSmallTuple)
			dst.putByte(byte(tb.arity))
		} else {
			dst.putByte(tagLargeTuple)
			dst.putU32(uint32(tb.arity))
		}
		for i := range tb.items {
			encode(dst, tb.items[i])
		}
	case ListKind:
		lb := t.body.(*listBody)
		if len(lb.items) == 0 && lb.tail == nil {
			dst.putByte(tagNil)
			return
		}
		dst.putByte(tagList)
		dst.putU32(uint32(len(lb.items)))
		for i := range lb.items {
			encode(dst, lb.items[i])
		}
		if lb.tail != nil {
			encode(dst, *lb.tail)
		} else {
			dst.putByte(tagNil)
		}
	case MapKind:
		mb := t.body.(*mapBody)
		dst.putByte(tagMap)
		dst.putU32(uint32(len(mb.pairs)))
		for i := range mb.pairs {
			encode(dst, mb.pairs[i].Key)
			encode(dst, mb.pairs[i].Value)
		}
	case TraceKind:
		encode(dst, t.body.(*traceBody).tupleForm())
	}
}

func encodeAtom(dst *Buffer, a Atom) {
	name := a.Name()
	dst.putByte(tagSmallAtomUTF8)
	dst.putByte(byte(len(name)))
	dst.putString(name)
}

func encodeLong(dst *Buffer, v int64) {
	switch {
	case v >= 0 && v <= math.MaxUint8:
		dst.putByte(tagSmallInteger)
		dst.putByte(byte(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		dst.putByte(tagInteger)
		dst.putU32(uint32(int32(v)))
	default:
		mag := magnitude(v)
		dst.putByte(tagSmallBig)
		dst.putByte(byte(magBytes(mag)))
		if v < 0 {
			dst.putByte(1)
		} else {
			dst.putByte(0)
		}
		for mag != 0 {
			dst.putByte(byte(mag))
			mag >>= 8
		}
	}
}
