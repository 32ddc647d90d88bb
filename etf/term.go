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

// Package etf implements the value model and wire codec
// for the external term format: interned atoms, the tagged
// Term variant, canonical ordering and printing, and
// encoding/decoding of every wire opcode.
package etf

import (
	"math"
	"sort"

	"golang.org/x/exp/slices"
)

// Kind is the variant tag of a Term.
type Kind uint8

const (
	InvalidKind Kind = iota
	LongKind
	DoubleKind
	BoolKind
	AtomKind
	StringKind
	BinaryKind
	PidKind
	PortKind
	RefKind
	TupleKind
	ListKind
	MapKind
	TraceKind
	VarKind
)

var kindNames = [...]string{
	InvalidKind: "invalid",
	LongKind:    "int",
	DoubleKind:  "float",
	BoolKind:    "bool",
	AtomKind:    "atom",
	StringKind:  "str",
	BinaryKind:  "binary",
	PidKind:     "pid",
	PortKind:    "port",
	RefKind:     "ref",
	TupleKind:   "tuple",
	ListKind:    "list",
	MapKind:     "map",
	TraceKind:   "trace",
	VarKind:     "var",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Term is a tagged value in the runtime's value universe.
//
// The zero Term is the "invalid" term: it is not
// initialized, compares equal only to itself, and
// cannot be encoded.
//
// Scalar kinds (int, float, bool, atom) are stored
// inline; composite kinds share an immutable body,
// so copying a Term is cheap and terms may be passed
// by value freely.
type Term struct {
	kind Kind
	num  uint64 // scalar payload: int64/float64 bits, bool, atom index
	body body
}

type body interface{ isBody() }

type strBody string

type binBody struct{ data []byte }

type tupleBody struct {
	arity int
	items []Term
}

type listBody struct {
	items  []Term
	tail   *Term // non-nil for improper lists
	closed bool
}

// MapPair is one key/value entry of a map term.
type MapPair struct {
	Key   Term
	Value Term
}

type mapBody struct {
	pairs []MapPair // sorted by Key per canonical term order
}

type pidBody struct {
	node     Atom
	id       uint32 // low 28 bits
	serial   uint32
	creation uint32
}

type portBody struct {
	node     Atom
	id       uint32 // low 28 bits
	creation uint32
}

type refBody struct {
	node     Atom
	ids      []uint32 // 1..3 words
	creation uint32
}

type traceBody struct {
	flags  int64
	label  int64
	serial int64
	prev   int64
	from   Term // pid term
}

type varBody struct {
	name Atom
	hint Kind // InvalidKind when untyped
}

func (strBody) isBody()    {}
func (*binBody) isBody()   {}
func (*tupleBody) isBody() {}
func (*listBody) isBody()  {}
func (*mapBody) isBody()   {}
func (*pidBody) isBody()   {}
func (*portBody) isBody()  {}
func (*refBody) isBody()   {}
func (*traceBody) isBody() {}
func (*varBody) isBody()   {}

// Kind returns the variant tag of t.
func (t Term) Kind() Kind { return t.kind }

// Initialized reports whether t may be encoded,
// printed, or compared: false for the zero Term,
// for a list that has not been closed, and for a
// tuple that has not received all of its elements.
func (t Term) Initialized() bool {
	switch t.kind {
	case InvalidKind:
		return false
	case TupleKind:
		tb := t.body.(*tupleBody)
		return len(tb.items) == tb.arity
	case ListKind:
		return t.body.(*listBody).closed
	}
	return true
}

// Clone returns a term sharing t's composite body.
// Bodies are immutable once initialized, so the
// copy is safe to use from other goroutines.
func (t Term) Clone() Term { return t }

// IsNil reports whether t is the empty list.
func (t Term) IsNil() bool {
	if t.kind != ListKind {
		return false
	}
	lb := t.body.(*listBody)
	return lb.closed && len(lb.items) == 0 && lb.tail == nil
}

// scalar constructors

// Long returns an integer term.
func Long(v int64) Term {
	return Term{kind: LongKind, num: uint64(v)}
}

// Double returns a float term.
func Double(v float64) Term {
	return Term{kind: DoubleKind, num: math.Float64bits(v)}
}

// Bool returns a boolean term.
func Bool(v bool) Term {
	var n uint64
	if v {
		n = 1
	}
	return Term{kind: BoolKind, num: n}
}

// AtomTerm returns the term for an already-interned atom.
// The atoms true and false yield boolean terms, matching
// the decoder's normalization.
func AtomTerm(a Atom) Term {
	switch a {
	case atomTrue:
		return Bool(true)
	case atomFalse:
		return Bool(false)
	}
	return Term{kind: AtomKind, num: uint64(a)}
}

// MakeAtom interns s and returns its atom term.
func MakeAtom(s string) (Term, error) {
	a, err := Intern(s)
	if err != nil {
		return Term{}, err
	}
	return AtomTerm(a), nil
}

// MustAtom is like MakeAtom but panics on failure; it
// is intended for atoms known at compile time.
func MustAtom(s string) Term {
	return AtomTerm(MustIntern(s))
}

// String returns a string term. The payload is an
// arbitrary byte string; it need not be valid UTF-8.
func String(s string) Term {
	return Term{kind: StringKind, body: strBody(s)}
}

// Binary returns a binary term holding a copy of p.
func Binary(p []byte) Term {
	return Term{kind: BinaryKind, body: &binBody{data: slices.Clone(p)}}
}

// pidMask is the identifier width of pids and ports.
const pidMask = 0x0FFFFFFF

// MakePid constructs a pid term. The id is masked to its
// low 28 bits; the full 32-bit creation is retained (the
// codec masks it to 2 bits only on legacy opcodes).
// The node atom must name a node ("name@host").
func MakePid(node Atom, id, serial, creation uint32) (Term, error) {
	if !validNodeName(node.Name()) {
		return Term{}, ErrBadArgument
	}
	return Term{kind: PidKind, body: &pidBody{
		node:     node,
		id:       id & pidMask,
		serial:   serial,
		creation: creation,
	}}, nil
}

// MakePort constructs a port term; see MakePid for the
// masking rules.
func MakePort(node Atom, id, creation uint32) (Term, error) {
	if !validNodeName(node.Name()) {
		return Term{}, ErrBadArgument
	}
	return Term{kind: PortKind, body: &portBody{
		node:     node,
		id:       id & pidMask,
		creation: creation,
	}}, nil
}

// MakeRef constructs a reference term from 1..3 id words.
func MakeRef(node Atom, ids []uint32, creation uint32) (Term, error) {
	if !validNodeName(node.Name()) || len(ids) < 1 || len(ids) > 3 {
		return Term{}, ErrBadArgument
	}
	return Term{kind: RefKind, body: &refBody{
		node:     node,
		ids:      slices.Clone(ids),
		creation: creation,
	}}, nil
}

// MakeTrace constructs a trace-token term. The from
// argument must be a pid term.
func MakeTrace(flags, label, serial, prev int64, from Term) (Term, error) {
	if from.kind != PidKind {
		return Term{}, ErrBadArgument
	}
	return Term{kind: TraceKind, body: &traceBody{
		flags:  flags,
		label:  label,
		serial: serial,
		prev:   prev,
		from:   from,
	}}, nil
}

// Variable returns a pattern variable. A hint of
// InvalidKind leaves the variable untyped.
func Variable(name Atom, hint Kind) Term {
	return Term{kind: VarKind, body: &varBody{name: name, hint: hint}}
}

// TupleBuilder assembles a tuple term by push-back.
// The term is initialized once exactly the declared
// number of elements have been pushed.
type TupleBuilder struct {
	b *tupleBody
}

// NewTuple starts a tuple of the given arity.
func NewTuple(arity int) *TupleBuilder {
	if arity < 0 {
		arity = 0
	}
	return &TupleBuilder{b: &tupleBody{arity: arity, items: make([]Term, 0, arity)}}
}

// Push appends elements; pushing past the declared
// arity panics (a programming error, like writing to
// a full fixed-size buffer).
func (t *TupleBuilder) Push(items ...Term) *TupleBuilder {
	if len(t.b.items)+len(items) > t.b.arity {
		panic("etf: tuple overfilled")
	}
	t.b.items = append(t.b.items, items...)
	return t
}

// Term returns the (possibly still uninitialized) tuple.
func (t *TupleBuilder) Term() Term {
	return Term{kind: TupleKind, body: t.b}
}

// MakeTuple returns an initialized tuple of items.
func MakeTuple(items ...Term) Term {
	return NewTuple(len(items)).Push(items...).Term()
}

// ListBuilder assembles a list term. The list is not
// observable until Close (or CloseWithTail) is called.
type ListBuilder struct {
	b *listBody
}

// NewList starts an empty list.
func NewList() *ListBuilder {
	return &ListBuilder{b: &listBody{}}
}

// Push appends elements to the (still open) list.
func (l *ListBuilder) Push(items ...Term) *ListBuilder {
	if l.b.closed {
		panic("etf: push to closed list")
	}
	l.b.items = append(l.b.items, items...)
	return l
}

// Close finishes the list with a nil tail.
func (l *ListBuilder) Close() Term {
	l.b.closed = true
	return Term{kind: ListKind, body: l.b}
}

// CloseWithTail finishes the list with an arbitrary
// tail term, producing an improper list unless the
// tail is nil. Closing with an empty-list tail is
// the same as Close.
func (l *ListBuilder) CloseWithTail(tail Term) Term {
	if tail.IsNil() {
		return l.Close()
	}
	t := tail
	l.b.tail = &t
	l.b.closed = true
	return Term{kind: ListKind, body: l.b}
}

// MakeList returns a proper list of items.
func MakeList(items ...Term) Term {
	return NewList().Push(items...).Close()
}

// Nil returns the empty list.
func Nil() Term {
	return Term{kind: ListKind, body: &listBody{closed: true}}
}

// MapBuilder assembles a map term. Keys are kept in
// canonical term order; inserting a duplicate key
// replaces the previous value.
type MapBuilder struct {
	b *mapBody
}

// NewMap starts an empty map.
func NewMap() *MapBuilder {
	return &MapBuilder{b: &mapBody{}}
}

// Put inserts or replaces a key.
func (m *MapBuilder) Put(key, value Term) *MapBuilder {
	pairs := m.b.pairs
	i := sort.Search(len(pairs), func(i int) bool {
		return Compare(pairs[i].Key, key) >= 0
	})
	if i < len(pairs) && Compare(pairs[i].Key, key) == 0 {
		pairs[i].Value = value
		return m
	}
	pairs = append(pairs, MapPair{})
	copy(pairs[i+1:], pairs[i:])
	pairs[i] = MapPair{Key: key, Value: value}
	m.b.pairs = pairs
	return m
}

// Term returns the map term.
func (m *MapBuilder) Term() Term {
	return Term{kind: MapKind, body: m.b}
}

// MakeMap returns a map built from pairs in order;
// later duplicates win.
func MakeMap(pairs ...MapPair) Term {
	mb := NewMap()
	for i := range pairs {
		mb.Put(pairs[i].Key, pairs[i].Value)
	}
	return mb.Term()
}

// view types returned by the To* accessors

// Pid is the decoded body of a pid term.
type Pid struct {
	Node     Atom
	ID       uint32
	Serial   uint32
	Creation uint32
}

// Port is the decoded body of a port term.
type Port struct {
	Node     Atom
	ID       uint32
	Creation uint32
}

// Ref is the decoded body of a reference term.
type Ref struct {
	Node     Atom
	IDs      []uint32
	Creation uint32
}

// Trace is the decoded body of a trace-token term.
type Trace struct {
	Flags  int64
	Label  int64
	Serial int64
	Prev   int64
	From   Term
}

// Var is the decoded body of a pattern variable.
type Var struct {
	Name Atom
	Hint Kind
}

// Tuple is a read-only view of a tuple term.
type Tuple struct {
	b *tupleBody
}

// Len returns the declared arity.
func (t Tuple) Len() int { return t.b.arity }

// At returns the i'th element.
func (t Tuple) At(i int) Term { return t.b.items[i] }

// Items appends the elements to dst and returns it.
func (t Tuple) Items(dst []Term) []Term {
	return append(dst, t.b.items...)
}

// List is a read-only view of a list term.
type List struct {
	b *listBody
}

// Len returns the number of list elements, not
// counting an improper tail.
func (l List) Len() int { return len(l.b.items) }

// At returns the i'th element.
func (l List) At(i int) Term { return l.b.items[i] }

// Items appends the elements to dst and returns it.
func (l List) Items(dst []Term) []Term {
	return append(dst, l.b.items...)
}

// Tail returns the improper tail, if any.
func (l List) Tail() (Term, bool) {
	if l.b.tail == nil {
		return Term{}, false
	}
	return *l.b.tail, true
}

// Proper reports whether the list is nil-terminated.
func (l List) Proper() bool { return l.b.tail == nil }

// Map is a read-only view of a map term.
type Map struct {
	b *mapBody
}

// Len returns the number of entries.
func (m Map) Len() int { return len(m.b.pairs) }

// Get looks up a key.
func (m Map) Get(key Term) (Term, bool) {
	pairs := m.b.pairs
	i := sort.Search(len(pairs), func(i int) bool {
		return Compare(pairs[i].Key, key) >= 0
	})
	if i < len(pairs) && Compare(pairs[i].Key, key) == 0 {
		return pairs[i].Value, true
	}
	return Term{}, false
}

// Pairs appends the entries in key order to dst
// and returns it.
func (m Map) Pairs(dst []MapPair) []MapPair {
	return append(dst, m.b.pairs...)
}

// accessors

// ToLong returns the integer payload. A float with an
// exact integer value converts; everything else is
// ErrWrongType.
func (t Term) ToLong() (int64, error) {
	switch t.kind {
	case LongKind:
		return int64(t.num), nil
	case DoubleKind:
		f := math.Float64frombits(t.num)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), nil
		}
	}
	return 0, ErrWrongType
}

// ToDouble returns the float payload; integers promote.
func (t Term) ToDouble() (float64, error) {
	switch t.kind {
	case DoubleKind:
		return math.Float64frombits(t.num), nil
	case LongKind:
		return float64(int64(t.num)), nil
	}
	return 0, ErrWrongType
}

// ToBool returns the boolean payload.
func (t Term) ToBool() (bool, error) {
	if t.kind != BoolKind {
		return false, ErrWrongType
	}
	return t.num != 0, nil
}

// ToAtom returns the atom payload. Booleans convert
// to the atoms true and false.
func (t Term) ToAtom() (Atom, error) {
	switch t.kind {
	case AtomKind:
		return Atom(t.num), nil
	case BoolKind:
		if t.num != 0 {
			return atomTrue, nil
		}
		return atomFalse, nil
	}
	return 0, ErrWrongType
}

// ToString returns the string payload.
func (t Term) ToString() (string, error) {
	if t.kind != StringKind {
		return "", ErrWrongType
	}
	return string(t.body.(strBody)), nil
}

// ToBinary returns the binary payload. The returned
// slice is shared and must not be modified.
func (t Term) ToBinary() ([]byte, error) {
	if t.kind != BinaryKind {
		return nil, ErrWrongType
	}
	return t.body.(*binBody).data, nil
}

// ToPid returns the pid payload.
func (t Term) ToPid() (Pid, error) {
	if t.kind != PidKind {
		return Pid{}, ErrWrongType
	}
	pb := t.body.(*pidBody)
	return Pid{Node: pb.node, ID: pb.id, Serial: pb.serial, Creation: pb.creation}, nil
}

// ToPort returns the port payload.
func (t Term) ToPort() (Port, error) {
	if t.kind != PortKind {
		return Port{}, ErrWrongType
	}
	pb := t.body.(*portBody)
	return Port{Node: pb.node, ID: pb.id, Creation: pb.creation}, nil
}

// ToRef returns the reference payload. The IDs slice
// is shared and must not be modified.
func (t Term) ToRef() (Ref, error) {
	if t.kind != RefKind {
		return Ref{}, ErrWrongType
	}
	rb := t.body.(*refBody)
	return Ref{Node: rb.node, IDs: rb.ids, Creation: rb.creation}, nil
}

// ToTrace returns the trace-token payload.
func (t Term) ToTrace() (Trace, error) {
	if t.kind != TraceKind {
		return Trace{}, ErrWrongType
	}
	tb := t.body.(*traceBody)
	return Trace{Flags: tb.flags, Label: tb.label, Serial: tb.serial, Prev: tb.prev, From: tb.from}, nil
}

// ToVar returns the pattern-variable payload.
func (t Term) ToVar() (Var, error) {
	if t.kind != VarKind {
		return Var{}, ErrWrongType
	}
	vb := t.body.(*varBody)
	return Var{Name: vb.name, Hint: vb.hint}, nil
}

// ToTuple returns a view of the tuple payload.
// The tuple must be initialized.
func (t Term) ToTuple() (Tuple, error) {
	if t.kind != TupleKind || !t.Initialized() {
		return Tuple{}, ErrWrongType
	}
	return Tuple{b: t.body.(*tupleBody)}, nil
}

// ToList returns a view of the list payload.
// The list must be closed.
func (t Term) ToList() (List, error) {
	if t.kind != ListKind || !t.Initialized() {
		return List{}, ErrWrongType
	}
	return List{b: t.body.(*listBody)}, nil
}

// ToMap returns a view of the map payload.
func (t Term) ToMap() (Map, error) {
	if t.kind != MapKind {
		return Map{}, ErrWrongType
	}
	return Map{b: t.body.(*mapBody)}, nil
}

// TraceFromTuple reinterprets a 5-tuple of the form
// {Flags, Label, Serial, FromPid, Prev} as a trace token.
func TraceFromTuple(t Term) (Term, error) {
	tp, err := t.ToTuple()
	if err != nil || tp.Len() != 5 {
		return Term{}, ErrBadArgument
	}
	flags, err := tp.At(0).ToLong()
	if err != nil {
		return Term{}, ErrBadArgument
	}
	label, err := tp.At(1).ToLong()
	if err != nil {
		return Term{}, ErrBadArgument
	}
	serial, err := tp.At(2).ToLong()
	if err != nil {
		return Term{}, ErrBadArgument
	}
	prev, err := tp.At(4).ToLong()
	if err != nil {
		return Term{}, ErrBadArgument
	}
	return MakeTrace(flags, label, serial, prev, tp.At(3))
}

// tupleForm renders a trace token as its wire 5-tuple.
func (tb *traceBody) tupleForm() Term {
	return MakeTuple(Long(tb.flags), Long(tb.label), Long(tb.serial), tb.from, Long(tb.prev))
}
