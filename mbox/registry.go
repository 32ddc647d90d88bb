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

package mbox

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/erlkit/erlkit/etf"
)

// Registry maps registered names to live mailboxes.
type Registry struct {
	mu     sync.RWMutex
	byName map[etf.Atom]*Mailbox
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[etf.Atom]*Mailbox)}
}

// Register binds name to mb. The empty atom is not a
// valid name.
func (r *Registry) Register(name etf.Atom, mb *Mailbox) error {
	if name == 0 {
		return etf.ErrBadArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return ErrNameTaken
	}
	r.byName[name] = mb
	return nil
}

// Unregister removes name; unknown names are ignored.
func (r *Registry) Unregister(name etf.Atom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Lookup resolves a registered name.
func (r *Registry) Lookup(name etf.Atom) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.byName[name]
	return mb, ok
}

// Names returns the registered names in atom order.
func (r *Registry) Names() []etf.Atom {
	r.mu.RLock()
	names := maps.Keys(r.byName)
	r.mu.RUnlock()
	slices.SortFunc(names, func(a, b etf.Atom) bool {
		return a.Less(b)
	})
	return names
}
