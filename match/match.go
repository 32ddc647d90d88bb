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

package match

import (
	"github.com/erlkit/erlkit/etf"
)

// UnboundError is returned by Apply when a pattern
// variable has no binding.
type UnboundError struct {
	Name etf.Atom
}

func (e *UnboundError) Error() string {
	return "match: unbound variable " + e.Name.Name()
}

// wildcard matches anything and never binds
var anon = etf.MustIntern("_")

// Match decides whether the pattern p matches the
// concrete term c. Variables in p bind into b as the
// match proceeds; a variable that is already bound must
// agree with its previous value. On failure b is left
// exactly as it was (bindings added by the failed
// attempt are rolled back). A nil b matches with a
// throwaway binding table.
func Match(p, c etf.Term, b *Binds) bool {
	if b == nil {
		b = new(Binds)
	}
	var added []etf.Atom
	if matchTerm(p, c, b, &added) {
		return true
	}
	for _, name := range added {
		b.remove(name)
	}
	return false
}

func matchTerm(p, c etf.Term, b *Binds, added *[]etf.Atom) bool {
	if p.Kind() == etf.VarKind {
		return matchVar(p, c, b, added)
	}
	if p.Kind() != c.Kind() {
		return false
	}
	switch p.Kind() {
	case etf.TupleKind:
		pt, err := p.ToTuple()
		if err != nil {
			return false
		}
		ct, err := c.ToTuple()
		if err != nil {
			return false
		}
		if pt.Len() != ct.Len() {
			return false
		}
		for i := 0; i < pt.Len(); i++ {
			if !matchTerm(pt.At(i), ct.At(i), b, added) {
				return false
			}
		}
		return true
	case etf.ListKind:
		return matchList(p, c, b, added)
	case etf.MapKind:
		return matchMap(p, c, b, added)
	}
	return p.Equal(c)
}

func matchVar(p, c etf.Term, b *Binds, added *[]etf.Atom) bool {
	v, err := p.ToVar()
	if err != nil {
		return false
	}
	if !hintOK(v.Hint, c) {
		return false
	}
	if v.Name == anon {
		return true
	}
	if prev, ok := b.Get(v.Name); ok {
		if v.Hint == etf.LongKind || v.Hint == etf.DoubleKind {
			// a numeric hint permits int<->float agreement
			return etf.Compare(prev, c) == 0
		}
		return prev.Equal(c)
	}
	b.Bind(v.Name, c)
	*added = append(*added, v.Name)
	return true
}

// hintOK checks a variable's type hint against a
// concrete term. Numeric hints accept either numeric
// kind when the value is representable.
func hintOK(hint etf.Kind, c etf.Term) bool {
	switch hint {
	case etf.InvalidKind:
		return true
	case etf.LongKind:
		_, err := c.ToLong()
		return err == nil
	case etf.DoubleKind:
		_, err := c.ToDouble()
		return err == nil
	case etf.AtomKind:
		_, err := c.ToAtom()
		return err == nil
	}
	return hint == c.Kind()
}

// matchList matches head-by-head and then recursively
// matches the tails, so a pattern like [H|T] captures
// an arbitrary remainder.
func matchList(p, c etf.Term, b *Binds, added *[]etf.Atom) bool {
	pl, err := p.ToList()
	if err != nil {
		return false
	}
	cl, err := c.ToList()
	if err != nil {
		return false
	}
	ptail, pimp := pl.Tail()
	if !pimp {
		// a proper pattern list matches only a proper
		// list of exactly the same length
		if cl.Len() != pl.Len() || !cl.Proper() {
			return false
		}
		for i := 0; i < pl.Len(); i++ {
			if !matchTerm(pl.At(i), cl.At(i), b, added) {
				return false
			}
		}
		return true
	}
	if cl.Len() < pl.Len() {
		return false
	}
	for i := 0; i < pl.Len(); i++ {
		if !matchTerm(pl.At(i), cl.At(i), b, added) {
			return false
		}
	}
	return matchTerm(ptail, listRemainder(cl, pl.Len()), b, added)
}

// listRemainder returns the concrete list with its
// first n elements removed, collapsing to the tail
// term itself when no elements remain.
func listRemainder(cl etf.List, n int) etf.Term {
	tail, improper := cl.Tail()
	if cl.Len() == n && !improper {
		return etf.Nil()
	}
	if cl.Len() == n {
		return tail
	}
	rest := etf.NewList().Push(cl.Items(nil)[n:]...)
	if improper {
		return rest.CloseWithTail(tail)
	}
	return rest.Close()
}

// matchMap uses subset semantics: every key of the
// pattern must be present in the concrete map with a
// matching value.
func matchMap(p, c etf.Term, b *Binds, added *[]etf.Atom) bool {
	pm, err := p.ToMap()
	if err != nil {
		return false
	}
	cm, err := c.ToMap()
	if err != nil {
		return false
	}
	ok := true
	for _, pair := range pm.Pairs(nil) {
		cv, found := cm.Get(pair.Key)
		if !found || !matchTerm(pair.Value, cv, b, added) {
			ok = false
			break
		}
	}
	return ok
}

// Apply substitutes the bindings of b into the pattern
// p, yielding a concrete term. An unbound variable in p
// produces an *UnboundError. A bound list tail splices,
// so applying [H|T] with T bound to a list rebuilds a
// flat list.
func Apply(p etf.Term, b *Binds) (etf.Term, error) {
	switch p.Kind() {
	case etf.VarKind:
		v, err := p.ToVar()
		if err != nil {
			return etf.Term{}, err
		}
		if t, ok := b.Get(v.Name); ok {
			return t, nil
		}
		return etf.Term{}, &UnboundError{Name: v.Name}
	case etf.TupleKind:
		pt, err := p.ToTuple()
		if err != nil {
			return etf.Term{}, err
		}
		out := etf.NewTuple(pt.Len())
		for i := 0; i < pt.Len(); i++ {
			item, err := Apply(pt.At(i), b)
			if err != nil {
				return etf.Term{}, err
			}
			out.Push(item)
		}
		return out.Term(), nil
	case etf.ListKind:
		return applyList(p, b)
	case etf.MapKind:
		pm, err := p.ToMap()
		if err != nil {
			return etf.Term{}, err
		}
		out := etf.NewMap()
		for _, pair := range pm.Pairs(nil) {
			k, err := Apply(pair.Key, b)
			if err != nil {
				return etf.Term{}, err
			}
			v, err := Apply(pair.Value, b)
			if err != nil {
				return etf.Term{}, err
			}
			out.Put(k, v)
		}
		return out.Term(), nil
	}
	return p, nil
}

func applyList(p etf.Term, b *Binds) (etf.Term, error) {
	pl, err := p.ToList()
	if err != nil {
		return etf.Term{}, err
	}
	out := etf.NewList()
	for i := 0; i < pl.Len(); i++ {
		item, err := Apply(pl.At(i), b)
		if err != nil {
			return etf.Term{}, err
		}
		out.Push(item)
	}
	tail, improper := pl.Tail()
	if !improper {
		return out.Close(), nil
	}
	tv, err := Apply(tail, b)
	if err != nil {
		return etf.Term{}, err
	}
	if tv.Kind() == etf.ListKind {
		// splice a list tail
		tl, err := tv.ToList()
		if err != nil {
			return etf.Term{}, err
		}
		out.Push(tl.Items(nil)...)
		if t2, imp := tl.Tail(); imp {
			return out.CloseWithTail(t2), nil
		}
		return out.Close(), nil
	}
	return out.CloseWithTail(tv), nil
}
