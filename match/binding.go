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

// Package match implements pattern terms: variable
// binding tables, structural matching of a pattern
// against a concrete term, substitution, and a text
// syntax for patterns.
package match

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/erlkit/erlkit/etf"
)

// Binds maps variable names to bound terms.
// The zero Binds is empty and ready to use.
type Binds struct {
	vals map[etf.Atom]etf.Term
}

// Bind sets name to t, replacing any previous binding.
func (b *Binds) Bind(name etf.Atom, t etf.Term) {
	if b.vals == nil {
		b.vals = make(map[etf.Atom]etf.Term)
	}
	b.vals[name] = t
}

// Get returns the term bound to name.
func (b *Binds) Get(name etf.Atom) (etf.Term, bool) {
	t, ok := b.vals[name]
	return t, ok
}

// Len returns the number of bound variables.
func (b *Binds) Len() int { return len(b.vals) }

// Merge inserts the bindings of o that are not already
// present in b (left-biased).
func (b *Binds) Merge(o *Binds) {
	if o == nil {
		return
	}
	for name, t := range o.vals {
		if _, ok := b.vals[name]; !ok {
			b.Bind(name, t)
		}
	}
}

// Clear removes every binding.
func (b *Binds) Clear() {
	maps.Clear(b.vals)
}

// Names returns the bound variable names in atom order.
func (b *Binds) Names() []etf.Atom {
	names := maps.Keys(b.vals)
	slices.SortFunc(names, func(x, y etf.Atom) bool {
		return x.Less(y)
	})
	return names
}

func (b *Binds) remove(name etf.Atom) {
	delete(b.vals, name)
}
