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
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"

	"github.com/erlkit/erlkit/etf"
	"github.com/erlkit/erlkit/match"
)

// siphash keys for monitor-reference map keys; fixed,
// since the tables are process-local
const (
	refHashK0 = 0x65726c6b69740a00
	refHashK1 = 0x6d6f6e69746f7200
)

type refKey struct {
	lo, hi uint64
}

func keyOf(ref etf.Term) (refKey, error) {
	lo, hi, err := ref.Hash128(refHashK0, refHashK1)
	if err != nil {
		return refKey{}, err
	}
	return refKey{lo: lo, hi: hi}, nil
}

// MonitorEntry is one live monitor on a mailbox: the
// reference that identifies it and the monitoring pid.
type MonitorEntry struct {
	Ref etf.Term
	Pid etf.Term
}

// Mailbox owns one local recipient's queue along with
// its link and monitor bookkeeping. Producers reach the
// mailbox only through Deliver. Handler callbacks are
// serialized: deliveries and timeouts run on the queue's
// executor, and the cancellation callback runs on the
// goroutine that calls Reset or Close.
type Mailbox struct {
	node  Node
	reg   *Registry
	self  etf.Term
	q     *Queue
	log   *log.Logger
	freed int64 // unix nanos at close; 0 while live

	mu    sync.Mutex
	name  etf.Atom
	links map[etf.Pid]etf.Term
	mons  map[refKey]MonitorEntry
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithLogger directs dispatch diagnostics to l.
func WithLogger(l *log.Logger) Option {
	return func(mb *Mailbox) { mb.log = l }
}

// WithRegistry attaches the name registry used by
// Register and by Close(…, deregister=true).
func WithRegistry(r *Registry) Option {
	return func(mb *Mailbox) { mb.reg = r }
}

// NewMailbox creates a live mailbox for the pid term
// self. The caller must eventually Close it.
func NewMailbox(node Node, self etf.Term, opts ...Option) (*Mailbox, error) {
	if _, err := self.ToPid(); err != nil {
		return nil, err
	}
	mb := &Mailbox{
		node:  node,
		self:  self,
		q:     NewQueue(),
		links: make(map[etf.Pid]etf.Term),
		mons:  make(map[refKey]MonitorEntry),
	}
	for _, o := range opts {
		o(mb)
	}
	return mb, nil
}

func (mb *Mailbox) logf(f string, args ...interface{}) {
	if mb.log != nil {
		mb.log.Printf(f, args...)
	}
}

// Self returns the mailbox's pid term.
func (mb *Mailbox) Self() etf.Term { return mb.self }

// Name returns the registered name, or the empty atom.
func (mb *Mailbox) Name() etf.Atom {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.name
}

// Freed returns the close timestamp in unix nanos,
// or 0 while the mailbox is live.
func (mb *Mailbox) Freed() int64 {
	return atomic.LoadInt64(&mb.freed)
}

// Closed reports whether Close has run.
func (mb *Mailbox) Closed() bool { return mb.Freed() != 0 }

// QueueLen returns the number of undelivered messages.
func (mb *Mailbox) QueueLen() int { return mb.q.Len() }

// Register binds name to this mailbox in the attached
// registry.
func (mb *Mailbox) Register(name etf.Atom) error {
	if mb.reg == nil {
		return etf.ErrBadArgument
	}
	if mb.Closed() {
		return ErrClosed
	}
	if err := mb.reg.Register(name, mb); err != nil {
		return err
	}
	mb.mu.Lock()
	mb.name = name
	mb.mu.Unlock()
	return nil
}

// Link records a link to pid.
func (mb *Mailbox) Link(pid etf.Term) error {
	p, err := pid.ToPid()
	if err != nil {
		return err
	}
	mb.mu.Lock()
	mb.links[p] = pid
	mb.mu.Unlock()
	return nil
}

// Unlink removes the link to pid, if any.
func (mb *Mailbox) Unlink(pid etf.Term) {
	p, err := pid.ToPid()
	if err != nil {
		return
	}
	mb.mu.Lock()
	delete(mb.links, p)
	mb.mu.Unlock()
}

// Links returns the linked pids.
func (mb *Mailbox) Links() []etf.Term {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return maps.Values(mb.links)
}

// AddMonitor records that pid monitors this mailbox
// under ref.
func (mb *Mailbox) AddMonitor(ref, pid etf.Term) error {
	k, err := keyOf(ref)
	if err != nil {
		return err
	}
	mb.mu.Lock()
	mb.mons[k] = MonitorEntry{Ref: ref, Pid: pid}
	mb.mu.Unlock()
	return nil
}

// RemoveMonitor drops the monitor identified by ref.
func (mb *Mailbox) RemoveMonitor(ref etf.Term) {
	k, err := keyOf(ref)
	if err != nil {
		return
	}
	mb.mu.Lock()
	delete(mb.mons, k)
	mb.mu.Unlock()
}

// Monitors returns the live monitor entries.
func (mb *Mailbox) Monitors() []MonitorEntry {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return maps.Values(mb.mons)
}

// Deliver routes one inbound transport message. Link,
// unlink, monitor, and demonitor requests mutate the
// mailbox state and are not enqueued; exit and
// monitor-exit messages update state and are enqueued;
// everything else is enqueued untouched. A panic while
// dispatching is captured and the message is enqueued
// with its Err field set rather than lost.
func (mb *Mailbox) Deliver(m *Message) {
	defer func() {
		if r := recover(); r != nil {
			m.Err = fmt.Errorf("mbox: dispatch: %v", r)
			mb.q.Enqueue(m)
		}
	}()
	switch m.Type() {
	case CtrlLink:
		if err := mb.Link(m.Sender()); err != nil {
			mb.logf("mbox: LINK from %s: %s", m.Sender(), err)
		}
	case CtrlUnlink:
		mb.Unlink(m.Sender())
	case CtrlMonitorP:
		if err := mb.AddMonitor(m.Ref(), m.Sender()); err != nil {
			mb.logf("mbox: MONITOR_P from %s: %s", m.Sender(), err)
		}
	case CtrlDemonitorP:
		mb.RemoveMonitor(m.Ref())
	case CtrlMonitorPExit:
		mb.RemoveMonitor(m.Ref())
		mb.q.Enqueue(m)
	case CtrlExit, CtrlExit2, CtrlExitTT, CtrlExit2TT:
		mb.Unlink(m.Sender())
		mb.q.Enqueue(m)
	default:
		mb.q.Enqueue(m)
	}
}

// Close tears the mailbox down: it stamps the freed
// time, cancels any pending receive and drops queued
// messages, optionally removes the registered name,
// then broadcasts the exit reason to every linked pid
// and every monitor. Broadcast failures are logged and
// swallowed per destination. Close is idempotent.
func (mb *Mailbox) Close(reason etf.Term, deregister bool) {
	if !atomic.CompareAndSwapInt64(&mb.freed, 0, time.Now().UnixNano()) {
		return
	}
	mb.q.Reset()
	mb.mu.Lock()
	name := mb.name
	mb.name = 0
	links := maps.Values(mb.links)
	mons := maps.Values(mb.mons)
	maps.Clear(mb.links)
	maps.Clear(mb.mons)
	mb.mu.Unlock()
	if deregister && mb.reg != nil && name != 0 {
		mb.reg.Unregister(name)
	}
	if mb.node != nil {
		var g errgroup.Group
		for i := range links {
			to := links[i]
			g.Go(func() error {
				if err := mb.node.SendExit(mb.self, to, reason); err != nil {
					mb.logf("mbox: exit broadcast to %s: %s", to, err)
				}
				return nil
			})
		}
		for i := range mons {
			mon := mons[i]
			g.Go(func() error {
				if err := mb.node.SendMonitorExit(mb.self, mon.Pid, mon.Ref, reason); err != nil {
					mb.logf("mbox: monitor-exit broadcast to %s: %s", mon.Pid, err)
				}
				return nil
			})
		}
		g.Wait()
	}
	mb.q.Close()
}

// AsyncReceive arms the queue consumer. If the mailbox
// is closed by the time the handler runs, the handler
// observes ErrClosed and is not re-armed.
func (mb *Mailbox) AsyncReceive(h Handler, timeout time.Duration, repeat int) error {
	if mb.Closed() {
		return ErrClosed
	}
	inner := func(m *Message, err error) bool {
		if mb.Closed() {
			h(m, ErrClosed)
			return false
		}
		return h(m, err)
	}
	return mb.q.AsyncDequeue(inner, timeout, repeat)
}

// MatchHandler consumes pattern-screened deliveries.
// binds is non-nil only when the message payload
// matched the pattern.
type MatchHandler func(m *Message, binds *match.Binds, err error) bool

// AsyncMatch is AsyncReceive with pattern screening:
// each delivered message's payload is matched against
// pattern, and the handler receives the resulting
// bindings (nil when the payload did not match, so the
// consumer decides whether to keep waiting).
func (mb *Mailbox) AsyncMatch(pattern etf.Term, h MatchHandler, timeout time.Duration, repeat int) error {
	inner := func(m *Message, err error) bool {
		if err != nil || m == nil {
			return h(m, nil, err)
		}
		b := new(match.Binds)
		if match.Match(pattern, m.Payload(), b) {
			return h(m, b, nil)
		}
		return h(m, nil, nil)
	}
	return mb.AsyncReceive(inner, timeout, repeat)
}
