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
	"strconv"
	"unicode/utf8"
)

// external term format opcodes
const (
	versionByte       = 131
	tagCompressed     = 80
	tagNewFloat       = 70
	tagNewPid         = 88
	tagNewPort        = 89
	tagNewerReference = 90
	tagSmallInteger   = 97
	tagInteger        = 98
	tagFloat          = 99
	tagAtom           = 100
	tagReference      = 101
	tagPort           = 102
	tagPid            = 103
	tagSmallTuple     = 104
	tagLargeTuple     = 105
	tagNil            = 106
	tagString         = 107
	tagList           = 108
	tagBinary         = 109
	tagSmallBig       = 110
	tagLargeBig       = 111
	tagNewReference   = 114
	tagSmallAtom      = 115
	tagMap            = 116
	tagAtomUTF8       = 118
	tagSmallAtomUTF8  = 119
)

// Decode decodes one term (with no version byte) from the
// front of buf and returns it along with the unconsumed
// remainder. On failure the returned term is the zero Term
// and the error is a *DecodeError carrying the offset of
// the malformed byte.
func Decode(buf []byte) (Term, []byte, error) {
	d := decoder{b: buf}
	t, err := d.term()
	if err != nil {
		return Term{}, buf, err
	}
	return t, buf[d.off:], nil
}

// Unmarshal decodes a top-level term: a version byte
// followed by either a plain term or a compressed (zlib)
// term. A compressed term consumes the remainder of buf.
func Unmarshal(buf []byte) (Term, []byte, error) {
	if len(buf) == 0 || buf[0] != versionByte {
		return Term{}, buf, &DecodeError{Msg: "missing version byte", Off: 0}
	}
	if len(buf) > 1 && buf[1] == tagCompressed {
		plain, err := inflate(buf[2:])
		if err != nil {
			return Term{}, buf, err
		}
		t, _, err := Decode(plain)
		if err != nil {
			return Term{}, buf, err
		}
		return t, nil, nil
	}
	t, rest, err := Decode(buf[1:])
	if err != nil {
		// offsets reported relative to buf
		if de, ok := err.(*DecodeError); ok {
			de.Off++
		}
		return Term{}, buf, err
	}
	return t, rest, nil
}

type decoder struct {
	b   []byte
	off int
}

func (d *decoder) fail(msg string) error {
	return &DecodeError{Msg: msg, Off: d.off}
}

func (d *decoder) remaining() int { return len(d.b) - d.off }

func (d *decoder) u8() (byte, error) {
	v, rest, ok := readU8(d.b[d.off:])
	if !ok {
		return 0, d.fail("short read")
	}
	d.off = len(d.b) - len(rest)
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	v, rest, ok := readU16(d.b[d.off:])
	if !ok {
		return 0, d.fail("short read")
	}
	d.off = len(d.b) - len(rest)
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	v, rest, ok := readU32(d.b[d.off:])
	if !ok {
		return 0, d.fail("short read")
	}
	d.off = len(d.b) - len(rest)
	return v, nil
}

func (d *decoder) f64() (float64, error) {
	v, rest, ok := readF64(d.b[d.off:])
	if !ok {
		return 0, d.fail("short read")
	}
	d.off = len(d.b) - len(rest)
	return v, nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, d.fail("short read")
	}
	p := d.b[d.off : d.off+n]
	d.off += n
	return p, nil
}

func (d *decoder) term() (Term, error) {
	tag, err := d.u8()
	if err != nil {
		return Term{}, err
	}
	switch tag {
	case tagSmallInteger:
		v, err := d.u8()
		if err != nil {
			return Term{}, err
		}
		return Long(int64(v)), nil
	case tagInteger:
		v, err := d.u32()
		if err != nil {
			return Term{}, err
		}
		return Long(int64(int32(v))), nil
	case tagFloat:
		return d.oldFloat()
	case tagNewFloat:
		v, err := d.f64()
		if err != nil {
			return Term{}, err
		}
		return Double(v), nil
	case tagAtom, tagAtomUTF8, tagSmallAtom, tagSmallAtomUTF8:
		a, err := d.atom(tag)
		if err != nil {
			return Term{}, err
		}
		return AtomTerm(a), nil
	case tagSmallTuple:
		n, err := d.u8()
		if err != nil {
			return Term{}, err
		}
		return d.tuple(int(n))
	case tagLargeTuple:
		n, err := d.u32()
		if err != nil {
			return Term{}, err
		}
		return d.tuple(int(n))
	case tagNil:
		return Nil(), nil
	case tagString:
		n, err := d.u16()
		if err != nil {
			return Term{}, err
		}
		p, err := d.bytes(int(n))
		if err != nil {
			return Term{}, err
		}
		return String(string(p)), nil
	case tagList:
		return d.list()
	case tagBinary:
		n, err := d.u32()
		if err != nil {
			return Term{}, err
		}
		p, err := d.bytes(int(n))
		if err != nil {
			return Term{}, err
		}
		return Binary(p), nil
	case tagSmallBig:
		n, err := d.u8()
		if err != nil {
			return Term{}, err
		}
		return d.big(int(n))
	case tagLargeBig:
		n, err := d.u32()
		if err != nil {
			return Term{}, err
		}
		return d.big(int(n))
	case tagMap:
		return d.map_()
	case tagPid, tagNewPid:
		return d.pid(tag == tagNewPid)
	case tagPort, tagNewPort:
		return d.port(tag == tagNewPort)
	case tagReference:
		return d.oldRef()
	case tagNewReference, tagNewerReference:
		return d.newRef(tag == tagNewerReference)
	}
	d.off--
	return Term{}, d.fail("unknown opcode " + strconv.Itoa(int(tag)))
}

// atom reads the payload of any of the four atom opcodes
// and interns it.
func (d *decoder) atom(tag byte) (Atom, error) {
	var n int
	switch tag {
	case tagAtom, tagAtomUTF8:
		v, err := d.u16()
		if err != nil {
			return 0, err
		}
		n = int(v)
	case tagSmallAtom, tagSmallAtomUTF8:
		v, err := d.u8()
		if err != nil {
			return 0, err
		}
		n = int(v)
	}
	if n > MaxAtomLen {
		return 0, d.fail("atom too long")
	}
	p, err := d.bytes(n)
	if err != nil {
		return 0, err
	}
	var name string
	if tag == tagAtomUTF8 || tag == tagSmallAtomUTF8 {
		if !utf8.Valid(p) {
			return 0, d.fail("malformed utf-8 atom")
		}
		name = string(p)
	} else {
		name = latin1(p)
	}
	a, err := Intern(name)
	if err != nil {
		return 0, d.fail(err.Error())
	}
	return a, nil
}

// latin1 widens legacy atom bytes to UTF-8; the
// encoder only emits the UTF-8 opcodes.
func latin1(p []byte) string {
	ascii := true
	for _, c := range p {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(p)
	}
	r := make([]rune, len(p))
	for i, c := range p {
		r[i] = rune(c)
	}
	return string(r)
}

// nodeAtom reads a term that must be an atom naming a
// node (the node field of pids, ports, and references).
func (d *decoder) nodeAtom() (Atom, error) {
	tag, err := d.u8()
	if err != nil {
		return 0, err
	}
	switch tag {
	case tagAtom, tagAtomUTF8, tagSmallAtom, tagSmallAtomUTF8:
	default:
		d.off--
		return 0, d.fail("expected node atom")
	}
	a, err := d.atom(tag)
	if err != nil {
		return 0, err
	}
	if !validNodeName(a.Name()) {
		return 0, d.fail("bad node name")
	}
	return a, nil
}

// oldFloat decodes FLOAT_EXT: 31 bytes of NUL-padded ASCII.
func (d *decoder) oldFloat() (Term, error) {
	p, err := d.bytes(31)
	if err != nil {
		return Term{}, err
	}
	end := 0
	for end < len(p) && p[end] != 0 {
		end++
	}
	f, err := strconv.ParseFloat(string(p[:end]), 64)
	if err != nil {
		return Term{}, d.fail("malformed float")
	}
	return Double(f), nil
}

func (d *decoder) tuple(arity int) (Term, error) {
	if arity > d.remaining() {
		return Term{}, d.fail("tuple arity exceeds input")
	}
	tb := NewTuple(arity)
	for i := 0; i < arity; i++ {
		item, err := d.term()
		if err != nil {
			return Term{}, err
		}
		tb.Push(item)
	}
	return tb.Term(), nil
}

// list decodes LIST_EXT: a count, the elements, and a tail
// term. A proper list whose elements are all integers in
// [0,255] is folded into a string term; a non-nil tail
// produces an improper list.
func (d *decoder) list() (Term, error) {
	n, err := d.u32()
	if err != nil {
		return Term{}, err
	}
	if int(n) > d.remaining() {
		return Term{}, d.fail("list length exceeds input")
	}
	items := make([]Term, 0, n)
	stringish := n > 0
	for i := 0; i < int(n); i++ {
		item, err := d.term()
		if err != nil {
			return Term{}, err
		}
		if stringish {
			v, err := item.ToLong()
			if item.Kind() != LongKind || err != nil || v < 0 || v > 255 {
				stringish = false
			}
		}
		items = append(items, item)
	}
	tail, err := d.term()
	if err != nil {
		return Term{}, err
	}
	if stringish && tail.IsNil() {
		p := make([]byte, n)
		for i := range items {
			v, _ := items[i].ToLong()
			p[i] = byte(v)
		}
		return String(string(p)), nil
	}
	return NewList().Push(items...).CloseWithTail(tail), nil
}

// big decodes SMALL_BIG_EXT/LARGE_BIG_EXT into an int64.
// The magnitude is little-endian. Values outside the
// 64-bit signed range are a decode error.
func (d *decoder) big(n int) (Term, error) {
	sign, err := d.u8()
	if err != nil {
		return Term{}, err
	}
	p, err := d.bytes(n)
	if err != nil {
		return Term{}, err
	}
	var mag uint64
	for i := len(p) - 1; i >= 0; i-- {
		if i >= 8 && p[i] != 0 {
			return Term{}, d.fail("integer overflow")
		}
		if i < 8 {
			mag = mag<<8 | uint64(p[i])
		}
	}
	if sign != 0 {
		if mag > 1<<63 {
			return Term{}, d.fail("integer overflow")
		}
		return Long(-int64(mag)), nil
	}
	if mag > math.MaxInt64 {
		return Term{}, d.fail("integer overflow")
	}
	return Long(int64(mag)), nil
}

// map_ decodes MAP_EXT; input need not be sorted and
// duplicate keys collapse to the last value.
func (d *decoder) map_() (Term, error) {
	n, err := d.u32()
	if err != nil {
		return Term{}, err
	}
	if int(n) > d.remaining() {
		return Term{}, d.fail("map arity exceeds input")
	}
	mb := NewMap()
	for i := 0; i < int(n); i++ {
		k, err := d.term()
		if err != nil {
			return Term{}, err
		}
		v, err := d.term()
		if err != nil {
			return Term{}, err
		}
		mb.Put(k, v)
	}
	return mb.Term(), nil
}

func (d *decoder) pid(wide bool) (Term, error) {
	node, err := d.nodeAtom()
	if err != nil {
		return Term{}, err
	}
	id, err := d.u32()
	if err != nil {
		return Term{}, err
	}
	serial, err := d.u32()
	if err != nil {
		return Term{}, err
	}
	var creation uint32
	if wide {
		creation, err = d.u32()
	} else {
		var c byte
		c, err = d.u8()
		creation = uint32(c & 3)
	}
	if err != nil {
		return Term{}, err
	}
	return Term{kind: PidKind, body: &pidBody{
		node:     node,
		id:       id & pidMask,
		serial:   serial,
		creation: creation,
	}}, nil
}

func (d *decoder) port(wide bool) (Term, error) {
	node, err := d.nodeAtom()
	if err != nil {
		return Term{}, err
	}
	id, err := d.u32()
	if err != nil {
		return Term{}, err
	}
	var creation uint32
	if wide {
		creation, err = d.u32()
	} else {
		var c byte
		c, err = d.u8()
		creation = uint32(c & 3)
	}
	if err != nil {
		return Term{}, err
	}
	return Term{kind: PortKind, body: &portBody{
		node:     node,
		id:       id & pidMask,
		creation: creation,
	}}, nil
}

// oldRef decodes REFERENCE_EXT: a single id word and a
// 1-byte creation.
func (d *decoder) oldRef() (Term, error) {
	node, err := d.nodeAtom()
	if err != nil {
		return Term{}, err
	}
	id, err := d.u32()
	if err != nil {
		return Term{}, err
	}
	c, err := d.u8()
	if err != nil {
		return Term{}, err
	}
	return Term{kind: RefKind, body: &refBody{
		node:     node,
		ids:      []uint32{id},
		creation: uint32(c & 3),
	}}, nil
}

// newRef decodes NEW_REFERENCE_EXT (1-byte creation) and
// NEWER_REFERENCE_EXT (4-byte creation).
func (d *decoder) newRef(wide bool) (Term, error) {
	n, err := d.u16()
	if err != nil {
		return Term{}, err
	}
	if n < 1 || n > 3 {
		return Term{}, d.fail("reference id count out of range")
	}
	node, err := d.nodeAtom()
	if err != nil {
		return Term{}, err
	}
	var creation uint32
	if wide {
		creation, err = d.u32()
	} else {
		var c byte
		c, err = d.u8()
		creation = uint32(c & 3)
	}
	if err != nil {
		return Term{}, err
	}
	ids := make([]uint32, n)
	for i := range ids {
		ids[i], err = d.u32()
		if err != nil {
			return Term{}, err
		}
	}
	return Term{kind: RefKind, body: &refBody{
		node:     node,
		ids:      ids,
		creation: creation,
	}}, nil
}
