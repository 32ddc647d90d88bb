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

	"golang.org/x/exp/slices"
)

// canonical cross-kind order:
// number < atom < ref < port < pid < tuple < map
// < nil < string < list < binary < var
func rank(t Term) int {
	switch t.kind {
	case InvalidKind:
		return -1
	case LongKind, DoubleKind:
		return 0
	case BoolKind, AtomKind:
		return 1
	case RefKind:
		return 2
	case PortKind:
		return 3
	case PidKind:
		return 4
	case TupleKind, TraceKind:
		return 5
	case MapKind:
		return 6
	case ListKind:
		if t.IsNil() {
			return 7
		}
		return 9
	case StringKind:
		return 8
	case BinaryKind:
		return 10
	case VarKind:
		return 11
	}
	return 12
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpU32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpI64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpF64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare orders a and b in the canonical term order
// and returns -1, 0, or +1. Integers and floats compare
// numerically against each other. Comparing a list or
// tuple that has not been initialized is a programming
// error and panics.
func Compare(a, b Term) int {
	return a.Compare(b)
}

// Compare is the method form of the package-level Compare.
func (t Term) Compare(o Term) int {
	if t.kind != InvalidKind && !t.Initialized() ||
		o.kind != InvalidKind && !o.Initialized() {
		panic("etf: Compare of uninitialized term")
	}
	ra, rb := rank(t), rank(o)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case -1, 7: // invalid, nil
		return 0
	case 0: // numbers
		if t.kind == LongKind && o.kind == LongKind {
			return cmpI64(int64(t.num), int64(o.num))
		}
		fa, _ := t.ToDouble()
		fb, _ := o.ToDouble()
		return cmpF64(fa, fb)
	case 1: // atoms and booleans
		aa, _ := t.ToAtom()
		ab, _ := o.ToAtom()
		return cmpAtoms(aa, ab)
	case 2:
		return cmpRefs(t.body.(*refBody), o.body.(*refBody))
	case 3:
		pa, pb := t.body.(*portBody), o.body.(*portBody)
		if c := cmpAtoms(pa.node, pb.node); c != 0 {
			return c
		}
		if c := cmpU32(pa.id, pb.id); c != 0 {
			return c
		}
		return cmpU32(pa.creation, pb.creation)
	case 4:
		pa, pb := t.body.(*pidBody), o.body.(*pidBody)
		if c := cmpAtoms(pa.node, pb.node); c != 0 {
			return c
		}
		if c := cmpU32(pa.id, pb.id); c != 0 {
			return c
		}
		if c := cmpU32(pa.serial, pb.serial); c != 0 {
			return c
		}
		return cmpU32(pa.creation, pb.creation)
	case 5:
		return cmpTuples(tupleOf(t), tupleOf(o))
	case 6:
		return cmpMaps(t.body.(*mapBody), o.body.(*mapBody))
	case 8:
		sa, _ := t.ToString()
		sb, _ := o.ToString()
		return bytes.Compare([]byte(sa), []byte(sb))
	case 9:
		return cmpLists(t.body.(*listBody), o.body.(*listBody))
	case 10:
		return bytes.Compare(t.body.(*binBody).data, o.body.(*binBody).data)
	case 11:
		va, vb := t.body.(*varBody), o.body.(*varBody)
		if c := cmpAtoms(va.name, vb.name); c != 0 {
			return c
		}
		return cmpInt(int(va.hint), int(vb.hint))
	}
	return 0
}

// tupleOf views tuples and trace tokens uniformly;
// trace tokens order as their wire 5-tuple.
func tupleOf(t Term) *tupleBody {
	if t.kind == TraceKind {
		return t.body.(*traceBody).tupleForm().body.(*tupleBody)
	}
	return t.body.(*tupleBody)
}

func cmpRefs(a, b *refBody) int {
	if c := cmpAtoms(a.node, b.node); c != 0 {
		return c
	}
	if c := cmpInt(len(a.ids), len(b.ids)); c != 0 {
		return c
	}
	for i := range a.ids {
		if c := cmpU32(a.ids[i], b.ids[i]); c != 0 {
			return c
		}
	}
	return cmpU32(a.creation, b.creation)
}

func cmpTuples(a, b *tupleBody) int {
	if c := cmpInt(a.arity, b.arity); c != 0 {
		return c
	}
	for i := range a.items {
		if c := a.items[i].Compare(b.items[i]); c != 0 {
			return c
		}
	}
	return 0
}

func cmpMaps(a, b *mapBody) int {
	if c := cmpInt(len(a.pairs), len(b.pairs)); c != 0 {
		return c
	}
	for i := range a.pairs {
		if c := a.pairs[i].Key.Compare(b.pairs[i].Key); c != 0 {
			return c
		}
	}
	for i := range a.pairs {
		if c := a.pairs[i].Value.Compare(b.pairs[i].Value); c != 0 {
			return c
		}
	}
	return 0
}

func cmpLists(a, b *listBody) int {
	if c := cmpInt(len(a.items), len(b.items)); c != 0 {
		return c
	}
	for i := range a.items {
		if c := a.items[i].Compare(b.items[i]); c != 0 {
			return c
		}
	}
	switch {
	case a.tail == nil && b.tail == nil:
		return 0
	case a.tail == nil:
		return -1
	case b.tail == nil:
		return 1
	}
	return a.tail.Compare(*b.tail)
}

// Equal reports whether a and b are structurally equal:
// tags match and payloads match recursively. Unlike
// Compare, Equal never equates an integer with a float.
// The zero Term equals only the zero Term.
func Equal(a, b Term) bool {
	return a.Equal(b)
}

// Equal is the method form of the package-level Equal.
func (t Term) Equal(o Term) bool {
	if t.kind != o.kind {
		return false
	}
	switch t.kind {
	case InvalidKind:
		return true
	case LongKind, DoubleKind, BoolKind, AtomKind:
		return t.num == o.num
	}
	if t.body == o.body {
		return true
	}
	if !t.Initialized() || !o.Initialized() {
		panic("etf: Equal of uninitialized term")
	}
	switch t.kind {
	case StringKind:
		return t.body.(strBody) == o.body.(strBody)
	case BinaryKind:
		return bytes.Equal(t.body.(*binBody).data, o.body.(*binBody).data)
	case PidKind:
		pa, pb := t.body.(*pidBody), o.body.(*pidBody)
		return *pa == *pb
	case PortKind:
		pa, pb := t.body.(*portBody), o.body.(*portBody)
		return *pa == *pb
	case RefKind:
		ra, rb := t.body.(*refBody), o.body.(*refBody)
		return ra.node == rb.node && ra.creation == rb.creation &&
			slices.Equal(ra.ids, rb.ids)
	case TupleKind:
		ta, tb := t.body.(*tupleBody), o.body.(*tupleBody)
		if ta.arity != tb.arity {
			return false
		}
		for i := range ta.items {
			if !ta.items[i].Equal(tb.items[i]) {
				return false
			}
		}
		return true
	case ListKind:
		la, lb := t.body.(*listBody), o.body.(*listBody)
		if len(la.items) != len(lb.items) {
			return false
		}
		for i := range la.items {
			if !la.items[i].Equal(lb.items[i]) {
				return false
			}
		}
		if (la.tail == nil) != (lb.tail == nil) {
			return false
		}
		return la.tail == nil || la.tail.Equal(*lb.tail)
	case MapKind:
		ma, mb := t.body.(*mapBody), o.body.(*mapBody)
		if len(ma.pairs) != len(mb.pairs) {
			return false
		}
		for i := range ma.pairs {
			if !ma.pairs[i].Key.Equal(mb.pairs[i].Key) ||
				!ma.pairs[i].Value.Equal(mb.pairs[i].Value) {
				return false
			}
		}
		return true
	case TraceKind:
		ta, tb := t.body.(*traceBody), o.body.(*traceBody)
		return ta.flags == tb.flags && ta.label == tb.label &&
			ta.serial == tb.serial && ta.prev == tb.prev &&
			ta.from.Equal(tb.from)
	case VarKind:
		va, vb := t.body.(*varBody), o.body.(*varBody)
		return va.name == vb.name && va.hint == vb.hint
	}
	return false
}
