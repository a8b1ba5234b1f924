package serial

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/esp32-bridge/bridge/internal/model"
)

type readResult struct {
	data []byte
	err  error
}

// fakePort scripts reads through a channel and records writes. A Read with
// nothing queued behaves like a port read timeout: (0, nil).
type fakePort struct {
	reads chan readResult

	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error
	closed   bool
}

func newFakePort() *fakePort {
	return &fakePort{reads: make(chan readResult, 16)}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case r := <-p.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(buf, r.data), nil
	case <-time.After(10 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener hands out scripted ports in order and fails once they run out.
type fakeOpener struct {
	mu    sync.Mutex
	ports []*fakePort
	opens int
}

func (o *fakeOpener) open(string, int) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if len(o.ports) == 0 {
		return nil, errors.New("no such device")
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func newTestLink(t *testing.T, opener *fakeOpener) (*Link, chan string) {
	t.Helper()

	link, err := NewLink(Config{
		PortName: "/dev/ttyTEST0",
		BaudRate: 115200,
		Opener:   opener.open,
	})
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	lines := make(chan string, 32)
	link.LineCallback = func(line string) {
		lines <- line
	}
	return link, lines
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func expectLine(t *testing.T, lines chan string, want string, timeout time.Duration) {
	t.Helper()
	select {
	case got := <-lines:
		if got != want {
			t.Fatalf("expected line %q, got %q", want, got)
		}
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for line %q", want)
	}
}

func TestNewLinkValidation(t *testing.T) {
	if _, err := NewLink(Config{BaudRate: 115200}); !errors.Is(err, model.ErrPortRequired) {
		t.Errorf("expected ErrPortRequired, got %v", err)
	}
	if _, err := NewLink(Config{PortName: "/dev/ttyUSB0"}); !errors.Is(err, model.ErrInvalidBaudRate) {
		t.Errorf("expected ErrInvalidBaudRate, got %v", err)
	}
}

func TestLinkReadsLines(t *testing.T) {
	port := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{port}}
	link, lines := newTestLink(t, opener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	// Lines may arrive split across reads, with CRLF endings and blank
	// lines mixed in.
	port.reads <- readResult{data: []byte("{\"a\":1}\n{\"b\":")}
	port.reads <- readResult{data: []byte("2}\r\n\n")}
	port.reads <- readResult{data: []byte("{\"c\":3}\n")}

	expectLine(t, lines, `{"a":1}`, time.Second)
	expectLine(t, lines, `{"b":2}`, time.Second)
	expectLine(t, lines, `{"c":3}`, time.Second)
}

func TestLinkReconnectsAfterReadError(t *testing.T) {
	port1 := newFakePort()
	port2 := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{port1, port2}}
	link, lines := newTestLink(t, opener)

	var mu sync.Mutex
	var states []bool
	link.StateCallback = func(connected bool) {
		mu.Lock()
		states = append(states, connected)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	port1.reads <- readResult{data: []byte("{\"before\":true}\n")}
	expectLine(t, lines, `{"before":true}`, time.Second)

	// Simulate the device dropping off the bus.
	port1.reads <- readResult{err: errors.New("device unplugged")}

	// The link discards the handle, waits the fixed delay, and reopens.
	waitFor(t, 3*time.Second, func() bool { return opener.openCount() == 2 })
	if !port1.isClosed() {
		t.Error("failed port should be closed")
	}

	port2.reads <- readResult{data: []byte("{\"after\":true}\n")}
	expectLine(t, lines, `{"after":true}`, time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false, true}
	if len(states) != len(want) {
		t.Fatalf("expected state transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected state transitions %v, got %v", want, states)
		}
	}
}

func TestLinkKeepsRetryingWhileDeviceAbsent(t *testing.T) {
	opener := &fakeOpener{}
	link, _ := newTestLink(t, opener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	// Every attempt fails; the loop must keep trying, never give up.
	waitFor(t, 5*time.Second, func() bool { return opener.openCount() >= 2 })
	if link.Connected() {
		t.Error("link must not report connected while opens fail")
	}
}

func TestWriteLineAppendsNewline(t *testing.T) {
	port := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{port}}
	link, _ := newTestLink(t, opener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	waitFor(t, time.Second, link.Connected)

	if err := link.WriteLine([]byte(`{"cmd":"led_on"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if got := port.writtenString(); got != "{\"cmd\":\"led_on\"}\n" {
		t.Errorf("unexpected device line: %q", got)
	}
}

func TestWriteLineNotConnected(t *testing.T) {
	opener := &fakeOpener{}
	link, _ := newTestLink(t, opener)

	err := link.WriteLine([]byte(`{"cmd":"led_on"}`))
	if !errors.Is(err, model.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestWriteLineFailureDropsHandle(t *testing.T) {
	port := newFakePort()
	port.writeErr = errors.New("input/output error")
	opener := &fakeOpener{ports: []*fakePort{port}}
	link, _ := newTestLink(t, opener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	waitFor(t, time.Second, link.Connected)

	if err := link.WriteLine([]byte(`{"cmd":"led_on"}`)); err == nil {
		t.Fatal("expected write error")
	}
	if link.Connected() {
		t.Error("failed write should discard the handle")
	}

	// The run loop reopens on its next cycle.
	waitFor(t, 3*time.Second, func() bool { return opener.openCount() >= 2 })
}

func TestCloseRejectsFurtherWrites(t *testing.T) {
	port := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{port}}
	link, _ := newTestLink(t, opener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	waitFor(t, time.Second, link.Connected)

	if err := link.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !port.isClosed() {
		t.Error("underlying port should be closed")
	}

	if err := link.WriteLine([]byte(`{"cmd":"led_on"}`)); !errors.Is(err, model.ErrLinkClosed) {
		t.Errorf("expected ErrLinkClosed, got %v", err)
	}
}
