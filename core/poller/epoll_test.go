//go:build linux

package poller

import (
	"testing"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEpollPoller_ReadableEvent(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	a, b := socketPair(t)
	if err := p.Add(a, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := unix.Write(b, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 ready descriptor, got %d", n)
	}
	if p.EventFd(0) != a {
		t.Errorf("Expected fd %d, got %d", a, p.EventFd(0))
	}
	if p.EventMask(0)&Readable == 0 {
		t.Errorf("Expected readable mask, got %#x", p.EventMask(0))
	}
}

func TestEpollPoller_OneShotSuppressesUntilModify(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	a, b := socketPair(t)
	if err := p.Add(a, Readable|OneShot); err != nil {
		t.Fatalf("Add: %v", err)
	}
	unix.Write(b, []byte("x"))

	if n, _ := p.Wait(1000); n != 1 {
		t.Fatalf("Expected first delivery, got %d events", n)
	}

	// Data is still unread; a level-triggered watch would fire again.
	if n, _ := p.Wait(50); n != 0 {
		t.Fatalf("Expected one-shot to suppress delivery, got %d events", n)
	}

	if err := p.Modify(a, Readable|OneShot); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if n, _ := p.Wait(1000); n != 1 {
		t.Fatalf("Expected delivery after re-arm, got %d events", n)
	}
}

func TestEpollPoller_PeerClosed(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])

	if err := p.Add(fds[0], Readable|PeerClosed); err != nil {
		t.Fatalf("Add: %v", err)
	}
	unix.Close(fds[1])

	n, err := p.Wait(1000)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 event, got %d (%v)", n, err)
	}
	if !p.EventMask(0).Closing() {
		t.Errorf("Expected closing mask, got %#x", p.EventMask(0))
	}
}

func TestEpollPoller_RemoveAndInvalidFd(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	a, b := socketPair(t)
	if err := p.Add(a, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Remove(a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	unix.Write(b, []byte("x"))
	if n, _ := p.Wait(50); n != 0 {
		t.Errorf("Expected no events after Remove, got %d", n)
	}

	if err := p.Add(-1, Readable); err == nil {
		t.Error("Expected error for negative fd")
	}
	if err := p.Modify(a, Readable); err == nil {
		t.Error("Expected error modifying an unregistered fd")
	}
}
