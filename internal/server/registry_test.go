package server

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func pipeSession(t *testing.T, queue int) *Session {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close() //nolint:errcheck
		b.Close() //nolint:errcheck
	})
	return newSession(a, queue, time.Now())
}

func TestRegistrySingleController(t *testing.T) {
	r := NewRegistry()
	a, b, c := pipeSession(t, 1), pipeSession(t, 1), pipeSession(t, 1)

	if !r.Add(a) {
		t.Fatal("first session should become controller")
	}
	if r.Add(b) || r.Add(c) {
		t.Fatal("later sessions must not become controller")
	}
	if a.Role() != RoleController || b.Role() != RoleObserver {
		t.Errorf("roles = %s, %s", a.Role(), b.Role())
	}

	// Removing an observer leaves the controller alone.
	if next, was := r.Remove(c); next != nil || was {
		t.Errorf("Remove(observer) = %v, %v", next, was)
	}
	if r.Controller() != a {
		t.Error("controller changed")
	}

	next, was := r.Remove(a)
	if !was || next != b || !r.IsController(b) || b.Role() != RoleController {
		t.Fatalf("handover went to %v", next)
	}
	if next, was := r.Remove(b); !was || next != nil {
		t.Errorf("last Remove = %v, %v", next, was)
	}
	if r.Controller() != nil || r.Len() != 0 {
		t.Error("empty registry still has a controller")
	}
	if next, was := r.Remove(b); next != nil || was {
		t.Error("double remove reported a handover")
	}
}

func TestRegistryHandoverOrder(t *testing.T) {
	r := NewRegistry()
	sessions := make([]*Session, 5)
	for i := range sessions {
		sessions[i] = pipeSession(t, 1)
		r.Add(sessions[i])
	}
	r.Remove(sessions[2])
	for _, want := range []int{1, 3, 4} {
		next, _ := r.Remove(r.Controller())
		if next != sessions[want] {
			t.Fatalf("handover to %v, want session %d", next, want)
		}
	}
}

func TestSessionQueueDropsOldest(t *testing.T) {
	s := pipeSession(t, 2)
	s.Stream([]byte{1})
	s.Stream([]byte{2})
	if s.Stream([]byte{3}) {
		t.Error("Stream on a full queue should report the drop")
	}
	if s.Dropped() != 1 || s.QueueLen() != 2 {
		t.Fatalf("dropped=%d len=%d", s.Dropped(), s.QueueLen())
	}
	first := <-s.queue
	second := <-s.queue
	if first.data[0] != 2 || second.data[0] != 3 {
		t.Errorf("queue = %v, %v", first.data, second.data)
	}

	s.Close("test")
	if s.Stream([]byte{4}) {
		t.Error("Stream after Close succeeded")
	}
	s.Close("again")
	if s.closeReason() != "test" {
		t.Errorf("reason = %q", s.closeReason())
	}
}

func TestRepliesSurviveStreamBacklog(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close() //nolint:errcheck
	s := newSession(a, 100, time.Now())

	const preview, ack = 0x01, 0x02
	for i := 0; i < 100; i++ {
		s.Stream([]byte{preview})
	}
	if !s.Send([]byte{ack}) {
		t.Fatal("Send failed on an open session")
	}
	for i := 0; i < 100; i++ {
		s.Stream([]byte{preview})
	}
	if s.Dropped() != 100 {
		t.Errorf("Dropped() = %d, want 100", s.Dropped())
	}

	done := make(chan struct{})
	go func() {
		s.writeLoop(time.Second)
		close(done)
	}()

	got := make([]byte, 101)
	if _, err := io.ReadFull(b, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != ack {
		t.Errorf("first frame = %#x, want the reply ahead of the backlog", got[0])
	}
	if n := bytes.Count(got, []byte{ack}); n != 1 {
		t.Errorf("replies delivered = %d, want 1", n)
	}
	s.Close("done")
	<-done
}

func TestReplyQueueFullCloses(t *testing.T) {
	s := pipeSession(t, 2)
	s.Send([]byte{1})
	s.Send([]byte{2})
	if s.Send([]byte{3}) {
		t.Error("Send beyond the reply queue succeeded")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("session left open after a reply could not be queued")
	}
	if s.closeReason() != "reply queue full" {
		t.Errorf("reason = %q", s.closeReason())
	}
}

func TestWriteLoopAcks(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close() //nolint:errcheck
	s := newSession(a, 4, time.Now())

	acked := make(chan struct{})
	s.enqueue(outbound{data: []byte("hi"), ack: func() { close(acked) }})
	done := make(chan struct{})
	go func() {
		s.writeLoop(time.Second)
		close(done)
	}()

	buf := make([]byte, 2)
	if _, err := b.Read(buf); err != nil || string(buf) != "hi" {
		t.Fatalf("read %q, %v", buf, err)
	}
	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("ack not called")
	}
	s.Close("done")
	<-done
}
