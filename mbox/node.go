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
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/erlkit/erlkit/etf"
)

// Node is the surface the mailbox layer needs from the
// connection layer: delivering exit notifications to
// (possibly remote) pids and retiring mailboxes.
type Node interface {
	// SendExit delivers an EXIT control message from
	// from to the linked pid to.
	SendExit(from, to etf.Term, reason etf.Term) error
	// SendMonitorExit delivers a MONITOR_P_EXIT control
	// message carrying ref to the monitoring pid to.
	SendMonitorExit(from, to etf.Term, ref etf.Term, reason etf.Term) error
	// CloseMailbox retires mb from the node's tables.
	CloseMailbox(mb *Mailbox)
}

// Transport is the inbound half: the connection layer
// calls Deliver for every transport message addressed
// to a local mailbox.
type Transport interface {
	Deliver(mb *Mailbox, m *Message) error
}

// RefMaker mints unique reference terms for one node
// incarnation.
type RefMaker struct {
	node     etf.Atom
	creation uint32
}

// NewRefMaker returns a reference factory for the given
// node and creation.
func NewRefMaker(node etf.Atom, creation uint32) *RefMaker {
	return &RefMaker{node: node, creation: creation}
}

// Make returns a fresh reference term. The three id
// words are drawn from a random UUID; the first word is
// masked to 18 bits the way the runtime emits them.
func (r *RefMaker) Make() (etf.Term, error) {
	u := uuid.New()
	ids := []uint32{
		binary.BigEndian.Uint32(u[0:4]) & 0x3FFFF,
		binary.BigEndian.Uint32(u[4:8]),
		binary.BigEndian.Uint32(u[8:12]),
	}
	return etf.MakeRef(r.node, ids, r.creation)
}
