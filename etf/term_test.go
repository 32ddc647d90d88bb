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
	"testing"
)

func testNode(t *testing.T) Atom {
	t.Helper()
	return MustIntern("test@localhost")
}

func TestAccessorsWrongType(t *testing.T) {
	term := Long(42)
	if _, err := term.ToString(); !errors.Is(err, ErrWrongType) {
		t.Errorf("ToString on int: %v", err)
	}
	if _, err := term.ToTuple(); !errors.Is(err, ErrWrongType) {
		t.Errorf("ToTuple on int: %v", err)
	}
	if v, err := term.ToLong(); err != nil || v != 42 {
		t.Errorf("ToLong = %d, %v", v, err)
	}
	if f, err := term.ToDouble(); err != nil || f != 42.0 {
		t.Errorf("ToDouble = %g, %v", f, err)
	}
}

func TestNumericBridging(t *testing.T) {
	if v, err := Double(10).ToLong(); err != nil || v != 10 {
		t.Errorf("Double(10).ToLong() = %d, %v", v, err)
	}
	if _, err := Double(10.5).ToLong(); !errors.Is(err, ErrWrongType) {
		t.Errorf("Double(10.5).ToLong() should fail, got %v", err)
	}
}

func TestBoolAtomBridge(t *testing.T) {
	b := Bool(true)
	a, err := b.ToAtom()
	if err != nil || a.Name() != "true" {
		t.Fatalf("Bool(true).ToAtom() = %q, %v", a.Name(), err)
	}
	at, err := MakeAtom("false")
	if err != nil {
		t.Fatal(err)
	}
	if at.Kind() != BoolKind {
		t.Errorf("MakeAtom(false).Kind() = %s, want bool", at.Kind())
	}
}

func TestTupleDiscipline(t *testing.T) {
	tb := NewTuple(2)
	term := tb.Term()
	if term.Initialized() {
		t.Error("unfilled tuple should not be initialized")
	}
	if _, err := EncodeSize(term); !errors.Is(err, ErrBadArgument) {
		t.Errorf("EncodeSize of unfilled tuple: %v", err)
	}
	tb.Push(Long(1), Long(2))
	if !term.Initialized() {
		t.Error("filled tuple should be initialized")
	}
	tp, err := term.ToTuple()
	if err != nil {
		t.Fatal(err)
	}
	if tp.Len() != 2 || !tp.At(0).Equal(Long(1)) {
		t.Error("tuple contents wrong")
	}
}

func TestListDiscipline(t *testing.T) {
	lb := NewList().Push(Long(1))
	open := Term{kind: ListKind, body: lb.b}
	if open.Initialized() {
		t.Error("open list should not be initialized")
	}
	closed := lb.Close()
	if !closed.Initialized() {
		t.Error("closed list should be initialized")
	}
	lv, err := closed.ToList()
	if err != nil {
		t.Fatal(err)
	}
	if lv.Len() != 1 || !lv.Proper() {
		t.Error("list view wrong")
	}
}

func TestImproperList(t *testing.T) {
	term := NewList().Push(Long(1)).CloseWithTail(Long(2))
	lv, err := term.ToList()
	if err != nil {
		t.Fatal(err)
	}
	if lv.Proper() {
		t.Fatal("expected improper list")
	}
	tail, ok := lv.Tail()
	if !ok || !tail.Equal(Long(2)) {
		t.Error("tail lost")
	}
	// closing with a nil tail yields a proper list
	term = NewList().Push(Long(1)).CloseWithTail(Nil())
	if lv, _ := term.ToList(); !lv.Proper() {
		t.Error("nil tail should make a proper list")
	}
}

func TestPidMasking(t *testing.T) {
	node := testNode(t)
	pid, err := MakePid(node, 0xFFFFFFFF, 7, 0x12345678)
	if err != nil {
		t.Fatal(err)
	}
	p, err := pid.ToPid()
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != 0x0FFFFFFF {
		t.Errorf("pid id = %#x, want low 28 bits", p.ID)
	}
	if p.Creation != 0x12345678 {
		t.Errorf("pid creation = %#x, full width must be retained", p.Creation)
	}
}

func TestBadNodeName(t *testing.T) {
	bad := MustIntern("nohost")
	if _, err := MakePid(bad, 1, 1, 1); !errors.Is(err, ErrBadArgument) {
		t.Errorf("node without @: %v", err)
	}
	if _, err := MakeRef(testNode(t), nil, 1); !errors.Is(err, ErrBadArgument) {
		t.Errorf("ref with no ids: %v", err)
	}
}

func TestMapSemantics(t *testing.T) {
	m := NewMap().
		Put(Long(2), String("two")).
		Put(Long(1), String("one")).
		Put(Long(2), String("again")).
		Term()
	mv, err := m.ToMap()
	if err != nil {
		t.Fatal(err)
	}
	if mv.Len() != 2 {
		t.Fatalf("map len = %d, want 2 (duplicates collapse)", mv.Len())
	}
	// keys sorted by term order
	pairs := mv.Pairs(nil)
	if !pairs[0].Key.Equal(Long(1)) || !pairs[1].Key.Equal(Long(2)) {
		t.Error("map keys not sorted")
	}
	if v, ok := mv.Get(Long(2)); !ok || !v.Equal(String("again")) {
		t.Error("duplicate insert should keep the last value")
	}
	if _, ok := mv.Get(Long(3)); ok {
		t.Error("absent key reported present")
	}
}

func TestZeroTerm(t *testing.T) {
	var zero, zero2 Term
	if zero.Initialized() {
		t.Error("zero Term should not be initialized")
	}
	if !zero.Equal(zero2) {
		t.Error("zero == zero")
	}
	if zero.Equal(Long(0)) || Long(0).Equal(zero) {
		t.Error("zero should equal only zero")
	}
}

func TestTraceRoundTrip(t *testing.T) {
	node := testNode(t)
	pid, _ := MakePid(node, 1, 0, 1)
	tr, err := MakeTrace(0, 7, 3, 2, pid)
	if err != nil {
		t.Fatal(err)
	}
	tup := MakeTuple(Long(0), Long(7), Long(3), pid, Long(2))
	back, err := TraceFromTuple(tup)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(tr) {
		t.Error("trace tuple round trip failed")
	}
	v, err := tr.ToTrace()
	if err != nil || v.Label != 7 || v.Serial != 3 || v.Prev != 2 {
		t.Errorf("trace fields: %+v, %v", v, err)
	}
}
