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
	"testing"
	"time"

	"github.com/erlkit/erlkit/etf"
)

const testWait = 5 * time.Second

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testWait):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	const n = 10
	for i := 0; i < n; i++ {
		q.Enqueue(NewSend(etf.Term{}, etf.Long(int64(i))))
	}
	got := make([]int64, 0, n)
	done := make(chan struct{})
	err := q.AsyncDequeue(func(m *Message, err error) bool {
		if err != nil {
			t.Errorf("unexpected error: %s", err)
			close(done)
			return false
		}
		v, _ := m.Payload().ToLong()
		got = append(got, v)
		if len(got) == n {
			close(done)
			return false
		}
		return true
	}, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, done, "all deliveries")
	for i := range got {
		if got[i] != int64(i) {
			t.Fatalf("delivery %d carried %d; order not preserved", i, got[i])
		}
	}
}

func TestQueueTimeout(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	done := make(chan struct{})
	err := q.AsyncDequeue(func(m *Message, err error) bool {
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("got %v, want ErrTimeout", err)
		}
		if m != nil {
			t.Error("timeout delivery must carry no message")
		}
		close(done)
		return false
	}, 10*time.Millisecond, 1)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, done, "timeout callback")
}

func TestQueueRepeatBudget(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	for i := 0; i < 3; i++ {
		q.Enqueue(NewSend(etf.Term{}, etf.Long(int64(i))))
	}
	delivered := make(chan int64, 3)
	err := q.AsyncDequeue(func(m *Message, err error) bool {
		if err != nil {
			return false
		}
		v, _ := m.Payload().ToLong()
		delivered <- v
		return true // willing, but capped by repeat
	}, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	<-delivered
	<-delivered
	select {
	case v := <-delivered:
		t.Fatalf("third delivery %d exceeded repeat budget", v)
	case <-time.After(100 * time.Millisecond):
	}
	if q.Len() != 1 {
		t.Errorf("queue should still hold 1 message, has %d", q.Len())
	}
}

func TestQueueConsumerStops(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	q.Enqueue(NewSend(etf.Term{}, etf.Long(1)))
	q.Enqueue(NewSend(etf.Term{}, etf.Long(2)))
	first := make(chan struct{})
	err := q.AsyncDequeue(func(m *Message, err error) bool {
		close(first)
		return false // done after one delivery
	}, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, first, "first delivery")
	// consumer released: a new one can be armed
	second := make(chan struct{})
	for {
		err = q.AsyncDequeue(func(m *Message, err error) bool {
			close(second)
			return false
		}, 0, 1)
		if !errors.Is(err, ErrBusy) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, second, "second delivery")
}

func TestQueueBusy(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	err := q.AsyncDequeue(func(*Message, error) bool { return true }, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	err = q.AsyncDequeue(func(*Message, error) bool { return true }, 0, -1)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("got %v, want ErrBusy", err)
	}
}

func TestQueueReset(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	q.Enqueue(NewSend(etf.Term{}, etf.Long(1)))
	cancelled := make(chan struct{})
	// drain the queued message first so the consumer is parked
	delivered := make(chan struct{})
	err := q.AsyncDequeue(func(m *Message, err error) bool {
		if err == nil {
			close(delivered)
			return true
		}
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("got %v, want ErrCancelled", err)
		}
		close(cancelled)
		return false
	}, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, delivered, "initial delivery")
	q.Reset()
	waitFor(t, cancelled, "cancellation callback")
	if q.Len() != 0 {
		t.Error("reset must drop queued messages")
	}
	// queue is reusable after Reset
	if err := q.AsyncDequeue(func(*Message, error) bool { return false }, time.Millisecond, 1); err != nil {
		t.Errorf("arm after reset: %s", err)
	}
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue()
	q.Close()
	err := q.AsyncDequeue(func(*Message, error) bool { return false }, 0, 1)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
	// enqueue after close is a silent drop
	q.Enqueue(NewSend(etf.Term{}, etf.Long(1)))
	if q.Len() != 0 {
		t.Error("closed queue must not accumulate")
	}
}
