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

// Package mbox implements the per-node mailbox layer:
// typed transport envelopes, a single-consumer async
// queue, and the dispatcher that maintains link and
// monitor state and tears mailboxes down with an exit
// broadcast.
package mbox

import (
	"errors"

	"github.com/erlkit/erlkit/etf"
)

var (
	// ErrClosed is observed by operations on a mailbox
	// that has been closed.
	ErrClosed = errors.New("mbox: mailbox closed")

	// ErrTimeout is delivered to a receive handler when
	// its deadline elapses before a message arrives.
	ErrTimeout = errors.New("mbox: receive timeout")

	// ErrCancelled is delivered to a pending receive
	// handler when the queue is reset or closed.
	ErrCancelled = errors.New("mbox: receive cancelled")

	// ErrBusy is returned when a consumer is already
	// registered on a single-consumer queue.
	ErrBusy = errors.New("mbox: consumer already pending")

	// ErrNameTaken is returned when registering a name
	// that is already bound to a live mailbox.
	ErrNameTaken = errors.New("mbox: name already registered")

	// ErrBadControl is returned for a control tuple the
	// dispatcher does not understand.
	ErrBadControl = errors.New("mbox: malformed control message")
)

// CtrlTag identifies the control message carried by a
// transport envelope. The values are the ones used on
// the wire.
type CtrlTag int

const (
	CtrlLink         CtrlTag = 1
	CtrlSend         CtrlTag = 2
	CtrlExit         CtrlTag = 3
	CtrlUnlink       CtrlTag = 4
	CtrlNodeLink     CtrlTag = 5
	CtrlRegSend      CtrlTag = 6
	CtrlGroupLeader  CtrlTag = 7
	CtrlExit2        CtrlTag = 8
	CtrlSendTT       CtrlTag = 12
	CtrlExitTT       CtrlTag = 13
	CtrlRegSendTT    CtrlTag = 16
	CtrlExit2TT      CtrlTag = 18
	CtrlMonitorP     CtrlTag = 19
	CtrlDemonitorP   CtrlTag = 20
	CtrlMonitorPExit CtrlTag = 21
)

func (c CtrlTag) String() string {
	switch c {
	case CtrlLink:
		return "LINK"
	case CtrlSend:
		return "SEND"
	case CtrlExit:
		return "EXIT"
	case CtrlUnlink:
		return "UNLINK"
	case CtrlNodeLink:
		return "NODE_LINK"
	case CtrlRegSend:
		return "REG_SEND"
	case CtrlGroupLeader:
		return "GROUP_LEADER"
	case CtrlExit2:
		return "EXIT2"
	case CtrlSendTT:
		return "SEND_TT"
	case CtrlExitTT:
		return "EXIT_TT"
	case CtrlRegSendTT:
		return "REG_SEND_TT"
	case CtrlExit2TT:
		return "EXIT2_TT"
	case CtrlMonitorP:
		return "MONITOR_P"
	case CtrlDemonitorP:
		return "DEMONITOR_P"
	case CtrlMonitorPExit:
		return "MONITOR_P_EXIT"
	}
	return "UNKNOWN"
}

// hasToken reports whether the tag carries a trace token.
func (c CtrlTag) hasToken() bool {
	switch c {
	case CtrlSendTT, CtrlExitTT, CtrlRegSendTT, CtrlExit2TT:
		return true
	}
	return false
}

// Message is a transport envelope: one control tag,
// sender/recipient addressing, an optional reference
// and trace token, and up to one payload term. The
// envelope owns its payload.
//
// Err is set by the dispatcher when a delivery-time
// failure was captured; the message is still enqueued.
type Message struct {
	tag     CtrlTag
	from    etf.Term // sender pid, when the tag carries one
	to      etf.Term // recipient pid, when addressed by pid
	toName  etf.Atom // recipient name, when addressed by name
	ref     etf.Term // monitor reference, when applicable
	token   etf.Term // trace token, when applicable
	payload etf.Term
	Err     error
}

// Type returns the control tag.
func (m *Message) Type() CtrlTag { return m.tag }

// Sender returns the sending pid, or the zero term for
// tags that carry none.
func (m *Message) Sender() etf.Term { return m.from }

// Recipient returns the recipient pid, or the zero term
// when the message is addressed by name.
func (m *Message) Recipient() etf.Term { return m.to }

// RecipientName returns the registered-name recipient,
// or the empty atom when the message is addressed by pid.
func (m *Message) RecipientName() etf.Atom { return m.toName }

// Ref returns the monitor reference, or the zero term
// for tags that carry none.
func (m *Message) Ref() etf.Term { return m.ref }

// Token returns the trace token, or the zero term for
// tags that carry none.
func (m *Message) Token() etf.Term { return m.token }

// Payload returns the payload term. For exit messages
// the payload is the exit reason.
func (m *Message) Payload() etf.Term { return m.payload }

// NewSend builds a pid-addressed send.
func NewSend(to etf.Term, payload etf.Term) *Message {
	return &Message{tag: CtrlSend, to: to, payload: payload}
}

// NewRegSend builds a name-addressed send.
func NewRegSend(from etf.Term, toName etf.Atom, payload etf.Term) *Message {
	return &Message{tag: CtrlRegSend, from: from, toName: toName, payload: payload}
}

// NewLink builds a link request.
func NewLink(from, to etf.Term) *Message {
	return &Message{tag: CtrlLink, from: from, to: to}
}

// NewUnlink builds an unlink request.
func NewUnlink(from, to etf.Term) *Message {
	return &Message{tag: CtrlUnlink, from: from, to: to}
}

// NewExit builds a link-exit notification.
func NewExit(from, to etf.Term, reason etf.Term) *Message {
	return &Message{tag: CtrlExit, from: from, to: to, payload: reason}
}

// NewExit2 builds an explicit (exit/2) kill.
func NewExit2(from, to etf.Term, reason etf.Term) *Message {
	return &Message{tag: CtrlExit2, from: from, to: to, payload: reason}
}

// NewMonitor builds a monitor request; to may be a pid
// term or an atom term naming a registered process.
func NewMonitor(from, to etf.Term, ref etf.Term) *Message {
	m := &Message{tag: CtrlMonitorP, from: from, ref: ref}
	m.address(to)
	return m
}

// NewDemonitor builds a demonitor request.
func NewDemonitor(from, to etf.Term, ref etf.Term) *Message {
	m := &Message{tag: CtrlDemonitorP, from: from, ref: ref}
	m.address(to)
	return m
}

// NewMonitorExit builds the down-notification for a
// monitored process.
func NewMonitorExit(from, to etf.Term, ref etf.Term, reason etf.Term) *Message {
	m := &Message{tag: CtrlMonitorPExit, ref: ref, payload: reason}
	m.from = from
	m.address(to)
	return m
}

func (m *Message) address(to etf.Term) {
	if a, err := to.ToAtom(); err == nil {
		m.toName = a
		return
	}
	m.to = to
}

// WithToken attaches a trace token, upgrading the tag
// to its trace-carrying variant where one exists.
func (m *Message) WithToken(token etf.Term) *Message {
	m.token = token
	switch m.tag {
	case CtrlSend:
		m.tag = CtrlSendTT
	case CtrlExit:
		m.tag = CtrlExitTT
	case CtrlRegSend:
		m.tag = CtrlRegSendTT
	case CtrlExit2:
		m.tag = CtrlExit2TT
	}
	return m
}

// cookie is the unused-cookie slot of SEND and REG_SEND
// control tuples.
func cookie() etf.Term {
	return etf.AtomTerm(0)
}

// Control renders the wire control tuple for m.
func (m *Message) Control() etf.Term {
	switch m.tag {
	case CtrlLink, CtrlUnlink:
		return etf.MakeTuple(etf.Long(int64(m.tag)), m.from, m.to)
	case CtrlSend:
		return etf.MakeTuple(etf.Long(int64(m.tag)), cookie(), m.to)
	case CtrlSendTT:
		return etf.MakeTuple(etf.Long(int64(m.tag)), cookie(), m.to, m.token)
	case CtrlExit, CtrlExit2:
		return etf.MakeTuple(etf.Long(int64(m.tag)), m.from, m.to, m.payload)
	case CtrlExitTT, CtrlExit2TT:
		return etf.MakeTuple(etf.Long(int64(m.tag)), m.from, m.to, m.token, m.payload)
	case CtrlRegSend:
		return etf.MakeTuple(etf.Long(int64(m.tag)), m.from, cookie(), etf.AtomTerm(m.toName))
	case CtrlRegSendTT:
		return etf.MakeTuple(etf.Long(int64(m.tag)), m.from, cookie(), etf.AtomTerm(m.toName), m.token)
	case CtrlMonitorP, CtrlDemonitorP:
		return etf.MakeTuple(etf.Long(int64(m.tag)), m.from, m.recipientTerm(), m.ref)
	case CtrlMonitorPExit:
		return etf.MakeTuple(etf.Long(int64(m.tag)), m.from, m.recipientTerm(), m.ref, m.payload)
	}
	return etf.MakeTuple(etf.Long(int64(m.tag)))
}

func (m *Message) recipientTerm() etf.Term {
	if m.toName != 0 {
		return etf.AtomTerm(m.toName)
	}
	return m.to
}

// ParseControl decodes an inbound control tuple (and
// the separately-transferred payload, when the tag has
// one) into a Message.
func ParseControl(ctl etf.Term, payload etf.Term) (*Message, error) {
	tp, err := ctl.ToTuple()
	if err != nil || tp.Len() < 1 {
		return nil, ErrBadControl
	}
	tagv, err := tp.At(0).ToLong()
	if err != nil {
		return nil, ErrBadControl
	}
	tag := CtrlTag(tagv)
	m := &Message{tag: tag}
	want := 0
	switch tag {
	case CtrlLink, CtrlUnlink:
		want = 3
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.from, m.to = tp.At(1), tp.At(2)
	case CtrlSend:
		want = 3
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.to = tp.At(2)
		m.payload = payload
	case CtrlSendTT:
		want = 4
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.to = tp.At(2)
		m.token = tp.At(3)
		m.payload = payload
	case CtrlExit, CtrlExit2:
		want = 4
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.from, m.to = tp.At(1), tp.At(2)
		m.payload = tp.At(3)
	case CtrlExitTT, CtrlExit2TT:
		want = 5
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.from, m.to = tp.At(1), tp.At(2)
		m.token = tp.At(3)
		m.payload = tp.At(4)
	case CtrlRegSend:
		want = 4
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.from = tp.At(1)
		name, err := tp.At(3).ToAtom()
		if err != nil {
			return nil, ErrBadControl
		}
		m.toName = name
		m.payload = payload
	case CtrlRegSendTT:
		want = 5
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.from = tp.At(1)
		name, err := tp.At(3).ToAtom()
		if err != nil {
			return nil, ErrBadControl
		}
		m.toName = name
		m.token = tp.At(4)
		m.payload = payload
	case CtrlMonitorP, CtrlDemonitorP:
		want = 4
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.from = tp.At(1)
		m.address(tp.At(2))
		m.ref = tp.At(3)
	case CtrlMonitorPExit:
		want = 5
		if tp.Len() != want {
			return nil, ErrBadControl
		}
		m.from = tp.At(1)
		m.to = tp.At(2)
		m.ref = tp.At(3)
		m.payload = tp.At(4)
	case CtrlNodeLink, CtrlGroupLeader:
		// accepted and enqueued untouched
		if tp.Len() < 1 {
			return nil, ErrBadControl
		}
		if tp.Len() >= 3 {
			m.from, m.to = tp.At(1), tp.At(2)
		}
		m.payload = payload
	default:
		return nil, ErrBadControl
	}
	return m, nil
}
