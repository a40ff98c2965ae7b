//go:build linux

package packetpump

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/facebook/fboss-sub029/internal/ids"
)

type pipeSource struct {
	name   string
	rfd    int
	wfd    int
}

func newPipeSource(t *testing.T, name string) *pipeSource {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	s := &pipeSource{name: name, rfd: fds[0], wfd: fds[1]}
	t.Cleanup(func() {
		unix.Close(s.rfd)
		unix.Close(s.wfd)
	})
	return s
}

func (p *pipeSource) Fd() int      { return p.rfd }
func (p *pipeSource) Name() string { return p.name }
func (p *pipeSource) Read(buf []byte) (int, error) {
	n, err := unix.Read(p.rfd, buf)
	if n < 0 {
		n = 0
	}
	return n, err
}
func (p *pipeSource) Write(pkt []byte) (int, error) {
	return unix.Write(p.wfd, pkt)
}

type fakeSubmitter struct {
	mu  sync.Mutex
	l3  [][]byte
	l2  [][]byte
}

func (f *fakeSubmitter) SubmitL3(id ids.InterfaceID, pkt []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.l3 = append(f.l3, append([]byte(nil), pkt...))
}
func (f *fakeSubmitter) SubmitL2(id ids.InterfaceID, pkt []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.l2 = append(f.l2, append([]byte(nil), pkt...))
}

func (f *fakeSubmitter) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.l3), len(f.l2)
}

func TestRunDeliversL3Packet(t *testing.T) {
	sub := &fakeSubmitter{}
	p, err := New(sub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	src := newPipeSource(t, "fboss2001")
	p.RegisterWithFraming(2001, src, false, 1500)

	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := src.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if l3, _ := sub.count(); l3 == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	l3, l2 := sub.count()
	if l3 != 1 || l2 != 0 {
		t.Fatalf("expected 1 L3 packet delivered, got l3=%d l2=%d", l3, l2)
	}
	if len(sub.l3[0]) != 128 {
		t.Errorf("delivered packet len = %d, want 128", len(sub.l3[0]))
	}
}

func TestServiceDropsOversizedRead(t *testing.T) {
	sub := &fakeSubmitter{}
	p, err := New(sub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	fd := 999
	p.byFd[fd] = &registration{id: 42, source: &fakeOverreadSource{}, ethernet: false, mtu: 4}

	p.service(fd)

	_, dropped := p.Counters()
	if dropped != 1 {
		t.Errorf("expected 1 dropped packet, got %d", dropped)
	}
	l3, _ := sub.count()
	if l3 != 0 {
		t.Errorf("expected no delivery for an oversized read, got %d", l3)
	}
}

type fakeOverreadSource struct{}

func (fakeOverreadSource) Fd() int      { return 999 }
func (fakeOverreadSource) Name() string { return "fake" }
func (fakeOverreadSource) Read(buf []byte) (int, error) {
	return len(buf) + 100, nil // simulate a read claiming more than the buffer held
}
func (fakeOverreadSource) Write(pkt []byte) (int, error) { return len(pkt), nil }

func TestServiceIgnoresZeroLengthRead(t *testing.T) {
	sub := &fakeSubmitter{}
	p, err := New(sub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	src := newPipeSource(t, "fboss2002")
	unix.Close(src.wfd) // EOF on next read
	p.byFd[src.rfd] = &registration{id: 1, source: src, ethernet: false, mtu: 1500}

	p.service(src.rfd)

	l3, l2 := sub.count()
	if l3 != 0 || l2 != 0 {
		t.Errorf("expected no delivery on zero-length read, got l3=%d l2=%d", l3, l2)
	}
}

func TestSendToHostWritesToRegisteredTap(t *testing.T) {
	sub := &fakeSubmitter{}
	p, err := New(sub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	src := newPipeSource(t, "fboss2003")
	p.RegisterWithFraming(2003, src, false, 1500)

	n, err := p.SendToHost(2003, []byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("SendToHost: n=%d err=%v", n, err)
	}

	buf := make([]byte, 16)
	rn, err := unix.Read(src.rfd, buf)
	if err != nil || string(buf[:rn]) != "hello" {
		t.Errorf("expected to read back what was sent, got %q err=%v", buf[:rn], err)
	}
}

func TestSendToHostUnknownInterfaceIsNotFound(t *testing.T) {
	sub := &fakeSubmitter{}
	p, err := New(sub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if _, err := p.SendToHost(9999, []byte("x")); err == nil {
		t.Errorf("expected an error for an unregistered interface")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	sub := &fakeSubmitter{}
	p, err := New(sub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	src := newPipeSource(t, "fboss2004")
	p.RegisterWithFraming(2004, src, false, 1500)
	p.Unregister(2004)

	if _, err := p.SendToHost(2004, []byte("x")); err == nil {
		t.Errorf("expected SendToHost to fail after Unregister")
	}
}
