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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/erlkit/erlkit/etf"
	"github.com/erlkit/erlkit/match"
)

type fakeNode struct {
	mu     sync.Mutex
	exits  map[string]int // pid -> EXIT count
	mexits map[string]int // ref -> MONITOR_P_EXIT count
	fail   bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		exits:  make(map[string]int),
		mexits: make(map[string]int),
	}
}

func (f *fakeNode) SendExit(from, to etf.Term, reason etf.Term) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits[to.String()]++
	if f.fail {
		return fmt.Errorf("fake transport down")
	}
	return nil
}

func (f *fakeNode) SendMonitorExit(from, to etf.Term, ref etf.Term, reason etf.Term) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mexits[ref.String()]++
	if f.fail {
		return fmt.Errorf("fake transport down")
	}
	return nil
}

func (f *fakeNode) CloseMailbox(mb *Mailbox) {}

func testPid(t *testing.T, id uint32) etf.Term {
	t.Helper()
	pid, err := etf.MakePid(etf.MustIntern("test@local"), id, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	return pid
}

func testRef(t *testing.T, id uint32) etf.Term {
	t.Helper()
	ref, err := etf.MakeRef(etf.MustIntern("test@local"), []uint32{id, 0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func newTestMailbox(t *testing.T, node Node, opts ...Option) *Mailbox {
	t.Helper()
	mb, err := NewMailbox(node, testPid(t, 1), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mb.Close(etf.MustAtom("normal"), false) })
	return mb
}

func TestDeliverLinkBookkeeping(t *testing.T) {
	mb := newTestMailbox(t, newFakeNode())
	remote := testPid(t, 7)

	mb.Deliver(NewLink(remote, mb.Self()))
	if len(mb.Links()) != 1 {
		t.Fatal("LINK should record the sender")
	}
	if mb.QueueLen() != 0 {
		t.Error("LINK must not be enqueued")
	}
	mb.Deliver(NewUnlink(remote, mb.Self()))
	if len(mb.Links()) != 0 {
		t.Error("UNLINK should remove the sender")
	}

	ref := testRef(t, 1)
	mb.Deliver(NewMonitor(remote, mb.Self(), ref))
	if len(mb.Monitors()) != 1 {
		t.Fatal("MONITOR_P should record the monitor")
	}
	if mb.QueueLen() != 0 {
		t.Error("MONITOR_P must not be enqueued")
	}
	mb.Deliver(NewDemonitor(remote, mb.Self(), ref))
	if len(mb.Monitors()) != 0 {
		t.Error("DEMONITOR_P should remove the monitor")
	}
}

func TestDeliverExitUnlinksAndEnqueues(t *testing.T) {
	mb := newTestMailbox(t, newFakeNode())
	remote := testPid(t, 7)
	mb.Deliver(NewLink(remote, mb.Self()))
	mb.Deliver(NewExit(remote, mb.Self(), etf.MustAtom("shutdown")))
	if len(mb.Links()) != 0 {
		t.Error("EXIT should remove the sender from links")
	}
	if mb.QueueLen() != 1 {
		t.Error("EXIT must be enqueued")
	}
}

func TestDeliverMonitorExit(t *testing.T) {
	mb := newTestMailbox(t, newFakeNode())
	remote := testPid(t, 7)
	ref := testRef(t, 2)
	mb.Deliver(NewMonitor(remote, mb.Self(), ref))
	mb.Deliver(NewMonitorExit(remote, mb.Self(), ref, etf.MustAtom("noproc")))
	if len(mb.Monitors()) != 0 {
		t.Error("MONITOR_P_EXIT should remove the monitor")
	}
	if mb.QueueLen() != 1 {
		t.Error("MONITOR_P_EXIT must be enqueued")
	}
}

func TestDeliverPlainSend(t *testing.T) {
	mb := newTestMailbox(t, newFakeNode())
	mb.Deliver(NewSend(mb.Self(), etf.Long(42)))
	if mb.QueueLen() != 1 {
		t.Error("SEND must be enqueued")
	}
}

func TestCloseBroadcastsExactlyOnce(t *testing.T) {
	node := newFakeNode()
	reg := NewRegistry()
	mb, err := NewMailbox(node, testPid(t, 1), WithRegistry(reg))
	if err != nil {
		t.Fatal(err)
	}
	name := etf.MustIntern("svc")
	if err := mb.Register(name); err != nil {
		t.Fatal(err)
	}
	linked := []etf.Term{testPid(t, 10), testPid(t, 11)}
	for _, pid := range linked {
		mb.Deliver(NewLink(pid, mb.Self()))
	}
	refs := []etf.Term{testRef(t, 20), testRef(t, 21), testRef(t, 22)}
	for i, ref := range refs {
		mb.Deliver(NewMonitor(testPid(t, uint32(30+i)), mb.Self(), ref))
	}

	mb.Close(etf.MustAtom("shutdown"), true)
	mb.Close(etf.MustAtom("shutdown"), true) // idempotent

	node.mu.Lock()
	defer node.mu.Unlock()
	for _, pid := range linked {
		if node.exits[pid.String()] != 1 {
			t.Errorf("pid %s received %d EXITs, want 1", pid, node.exits[pid.String()])
		}
	}
	for _, ref := range refs {
		if node.mexits[ref.String()] != 1 {
			t.Errorf("ref %s received %d MONITOR_P_EXITs, want 1", ref, node.mexits[ref.String()])
		}
	}
	if len(mb.Links()) != 0 || len(mb.Monitors()) != 0 {
		t.Error("close must clear link and monitor sets")
	}
	if mb.Name() != 0 {
		t.Error("close must clear the registered name")
	}
	if _, ok := reg.Lookup(name); ok {
		t.Error("close must deregister the name")
	}
	if !mb.Closed() || mb.Freed() == 0 {
		t.Error("freed timestamp must be set")
	}
}

func TestCloseSwallowsBroadcastErrors(t *testing.T) {
	node := newFakeNode()
	node.fail = true
	mb, err := NewMailbox(node, testPid(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	mb.Deliver(NewLink(testPid(t, 2), mb.Self()))
	mb.Deliver(NewLink(testPid(t, 3), mb.Self()))
	mb.Close(etf.MustAtom("kill"), false)
	node.mu.Lock()
	defer node.mu.Unlock()
	// both destinations were attempted despite errors
	if len(node.exits) != 2 {
		t.Errorf("attempted %d destinations, want 2", len(node.exits))
	}
}

func TestAsyncReceive(t *testing.T) {
	mb := newTestMailbox(t, newFakeNode())
	done := make(chan struct{})
	err := mb.AsyncReceive(func(m *Message, err error) bool {
		if err != nil {
			t.Errorf("receive: %s", err)
		} else if v, _ := m.Payload().ToLong(); v != 7 {
			t.Errorf("payload = %d", v)
		}
		close(done)
		return false
	}, time.Second, 1)
	if err != nil {
		t.Fatal(err)
	}
	mb.Deliver(NewSend(mb.Self(), etf.Long(7)))
	waitFor(t, done, "receive")
}

func TestAsyncReceiveObservesClose(t *testing.T) {
	if _, err := NewMailbox(newFakeNode(), etf.Term{}); err == nil {
		t.Fatal("mailbox must require a pid")
	}
	mb, err := NewMailbox(newFakeNode(), mustPid(t))
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan error, 1)
	err = mb.AsyncReceive(func(m *Message, err error) bool {
		got <- err
		return true // must be ignored once closed
	}, time.Minute, -1)
	if err != nil {
		t.Fatal(err)
	}
	mb.Close(etf.MustAtom("normal"), false)
	select {
	case err := <-got:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("got %v, want ErrClosed", err)
		}
	case <-time.After(testWait):
		t.Fatal("handler never observed close")
	}
	if err := mb.AsyncReceive(func(*Message, error) bool { return false }, 0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("arm after close: got %v, want ErrClosed", err)
	}
}

func mustPid(t *testing.T) etf.Term {
	t.Helper()
	return testPid(t, 99)
}

func TestAsyncMatch(t *testing.T) {
	mb := newTestMailbox(t, newFakeNode())
	pattern := match.MustParse("{ok, A::int()}")
	type result struct {
		binds *match.Binds
	}
	results := make(chan result, 2)
	err := mb.AsyncMatch(pattern, func(m *Message, b *match.Binds, err error) bool {
		if err != nil {
			t.Errorf("match receive: %s", err)
			return false
		}
		results <- result{binds: b}
		return b == nil // keep waiting past non-matching traffic
	}, time.Second, -1)
	if err != nil {
		t.Fatal(err)
	}
	mb.Deliver(NewSend(mb.Self(), etf.MustAtom("noise")))
	mb.Deliver(NewSend(mb.Self(), match.MustParse("{ok, 5}")))

	first := <-results
	if first.binds != nil {
		t.Error("noise should not match")
	}
	second := <-results
	if second.binds == nil {
		t.Fatal("match expected")
	}
	a, ok := second.binds.Get(etf.MustIntern("A"))
	if !ok || !a.Equal(etf.Long(5)) {
		t.Errorf("A = %s", a)
	}
}

func TestDeliverBadRefNotLost(t *testing.T) {
	mb := newTestMailbox(t, newFakeNode())
	// a zero ref cannot be hashed into the monitor
	// table, but the message must still be enqueued
	bad := &Message{tag: CtrlMonitorPExit, ref: etf.Term{}, payload: etf.Long(1)}
	mb.Deliver(bad)
	if mb.QueueLen() != 1 {
		t.Fatal("message must not be lost")
	}
}

func TestControlRoundTrip(t *testing.T) {
	from := testPid(t, 1)
	to := testPid(t, 2)
	ref := testRef(t, 3)
	reason := etf.MustAtom("bye")
	token, err := etf.MakeTrace(0, 1, 2, 3, from)
	if err != nil {
		t.Fatal(err)
	}
	msgs := []*Message{
		NewLink(from, to),
		NewUnlink(from, to),
		NewSend(to, etf.Long(9)),
		NewRegSend(from, etf.MustIntern("server"), etf.Long(9)),
		NewExit(from, to, reason),
		NewExit2(from, to, reason),
		NewExit(from, to, reason).WithToken(token),
		NewMonitor(from, to, ref),
		NewDemonitor(from, to, ref),
		NewMonitorExit(from, to, ref, reason),
	}
	for _, in := range msgs {
		ctl := in.Control()
		var payload etf.Term
		switch in.Type() {
		case CtrlSend, CtrlSendTT, CtrlRegSend, CtrlRegSendTT:
			payload = in.Payload()
		}
		out, err := ParseControl(ctl, payload)
		if err != nil {
			t.Fatalf("%s: %s", in.Type(), err)
		}
		if out.Type() != in.Type() {
			t.Errorf("tag: got %s, want %s", out.Type(), in.Type())
		}
		if !out.Payload().Equal(in.Payload()) && out.Payload().Kind() != etf.InvalidKind {
			t.Errorf("%s: payload mismatch", in.Type())
		}
		if in.RecipientName() != out.RecipientName() {
			t.Errorf("%s: name mismatch", in.Type())
		}
	}
}

func TestParseControlRejectsJunk(t *testing.T) {
	junk := []etf.Term{
		etf.Long(1),
		etf.MakeTuple(),
		etf.MakeTuple(etf.MustAtom("nope")),
		etf.MakeTuple(etf.Long(99), etf.Long(1)),
		etf.MakeTuple(etf.Long(int64(CtrlLink))), // too short
	}
	for _, ctl := range junk {
		if _, err := ParseControl(ctl, etf.Term{}); !errors.Is(err, ErrBadControl) {
			t.Errorf("%s: got %v, want ErrBadControl", ctl, err)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	node := newFakeNode()
	mb1, _ := NewMailbox(node, testPid(t, 1), WithRegistry(reg))
	mb2, _ := NewMailbox(node, testPid(t, 2), WithRegistry(reg))
	defer mb1.Close(etf.MustAtom("normal"), false)
	defer mb2.Close(etf.MustAtom("normal"), false)
	name := etf.MustIntern("the_service")
	if err := mb1.Register(name); err != nil {
		t.Fatal(err)
	}
	if err := mb2.Register(name); !errors.Is(err, ErrNameTaken) {
		t.Errorf("got %v, want ErrNameTaken", err)
	}
	if got, ok := reg.Lookup(name); !ok || got != mb1 {
		t.Error("lookup should find mb1")
	}
	reg.Unregister(name)
	if _, ok := reg.Lookup(name); ok {
		t.Error("unregistered name still resolves")
	}
	if err := reg.Register(0, mb1); !errors.Is(err, etf.ErrBadArgument) {
		t.Errorf("empty name: %v", err)
	}
}

func TestRefMaker(t *testing.T) {
	rm := NewRefMaker(etf.MustIntern("me@host"), 2)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref, err := rm.Make()
		if err != nil {
			t.Fatal(err)
		}
		r, err := ref.ToRef()
		if err != nil {
			t.Fatal(err)
		}
		if len(r.IDs) != 3 || r.Creation != 2 {
			t.Fatalf("ref shape: %+v", r)
		}
		if r.IDs[0] > 0x3FFFF {
			t.Fatalf("first id %#x exceeds 18 bits", r.IDs[0])
		}
		s := ref.String()
		if seen[s] {
			t.Fatalf("duplicate ref %s", s)
		}
		seen[s] = true
	}
}
