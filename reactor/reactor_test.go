package reactor

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// chanCallback funnels the three upcalls into channels the test goroutine
// can wait on.
type chanCallback struct {
	connected    chan struct{}
	received     chan []byte
	disconnected chan error
}

func newChanCallback() *chanCallback {
	return &chanCallback{
		connected:    make(chan struct{}, 4),
		received:     make(chan []byte, 64),
		disconnected: make(chan error, 4),
	}
}

func (c *chanCallback) OnConnect() {
	c.connected <- struct{}{}
}

func (c *chanCallback) OnDisconnect(cause error) {
	c.disconnected <- cause
}

func (c *chanCallback) OnReceive(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	c.received <- cp
}

const testTimeout = 5 * time.Second

func waitConnect(t *testing.T, cb *chanCallback) {
	t.Helper()
	select {
	case <-cb.connected:
	case err := <-cb.disconnected:
		t.Fatalf("disconnected instead of connected: %v", err)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for OnConnect")
	}
}

func waitDisconnect(t *testing.T, cb *chanCallback) error {
	t.Helper()
	select {
	case err := <-cb.disconnected:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for OnDisconnect")
		return nil
	}
}

func collect(t *testing.T, cb *chanCallback, n int) []byte {
	t.Helper()
	var got []byte
	for len(got) < n {
		select {
		case buf := <-cb.received:
			got = append(got, buf...)
		case <-time.After(testTimeout):
			t.Fatalf("timed out, received %d of %d bytes", len(got), n)
		}
	}
	return got
}

// startReactor runs a reactor in the background and stops it when the
// test finishes.
func startReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()
	t.Cleanup(func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("reactor did not stop")
		}
	})
	// give Run a moment to flip the running flag
	for i := 0; i < 100 && !r.Running(); i++ {
		time.Sleep(time.Millisecond)
	}
	return r
}

// listen starts a listener on an ephemeral loopback port and returns it
// together with a channel of accepted handles, each pre-wired to a fresh
// chanCallback.
func listen(t *testing.T, r *Reactor) (*Listener, chan *chanCallback) {
	t.Helper()
	accepted := make(chan *chanCallback, 4)
	l, err := NewListener(r, "127.0.0.1", 0, func(tcp *TCP) {
		cb := newChanCallback()
		tcp.Callback = cb
		accepted <- cb
	})
	if err != nil {
		t.Fatal(err)
	}
	return l, accepted
}

func TestConnectAndEcho(t *testing.T) {
	r := startReactor(t)
	l, accepted := listen(t, r)

	clientCB := newChanCallback()
	client, err := NewOutgoingTCP(r, "127.0.0.1", l.Port(), clientCB)
	if err != nil {
		t.Fatal(err)
	}
	waitConnect(t, clientCB)

	var serverCB *chanCallback
	select {
	case serverCB = <-accepted:
	case <-time.After(testTimeout):
		t.Fatal("no connection accepted")
	}

	client.Send([]byte("hello over the reactor"))
	got := collect(t, serverCB, len("hello over the reactor"))
	if string(got) != "hello over the reactor" {
		t.Errorf("server received %q", got)
	}
}

func TestSendBeforeConnect(t *testing.T) {
	r := startReactor(t)
	l, accepted := listen(t, r)

	clientCB := newChanCallback()
	client, err := NewOutgoingTCP(r, "127.0.0.1", l.Port(), clientCB)
	if err != nil {
		t.Fatal(err)
	}
	// queue data immediately; the connect may or may not have finished
	client.Send([]byte("early"))
	client.Send([]byte(" bird"))

	waitConnect(t, clientCB)
	serverCB := <-accepted

	got := collect(t, serverCB, len("early bird"))
	if string(got) != "early bird" {
		t.Errorf("server received %q", got)
	}
}

func TestSendPreservesFIFOOrder(t *testing.T) {
	r := startReactor(t)
	l, accepted := listen(t, r)

	clientCB := newChanCallback()
	client, err := NewOutgoingTCP(r, "127.0.0.1", l.Port(), clientCB)
	if err != nil {
		t.Fatal(err)
	}
	waitConnect(t, clientCB)

	var want bytes.Buffer
	for i := 0; i < 200; i++ {
		buf := bytes.Repeat([]byte{byte(i)}, 100)
		want.Write(buf)
		client.Send(buf)
	}

	serverCB := <-accepted
	got := collect(t, serverCB, want.Len())
	if !bytes.Equal(got, want.Bytes()) {
		t.Error("byte stream arrived out of order or corrupted")
	}
}

func TestZeroLengthSend(t *testing.T) {
	r := startReactor(t)
	l, accepted := listen(t, r)

	clientCB := newChanCallback()
	client, err := NewOutgoingTCP(r, "127.0.0.1", l.Port(), clientCB)
	if err != nil {
		t.Fatal(err)
	}
	waitConnect(t, clientCB)
	serverCB := <-accepted

	client.Send([]byte{})
	client.Send([]byte("after empty"))

	got := collect(t, serverCB, len("after empty"))
	if string(got) != "after empty" {
		t.Errorf("server received %q", got)
	}
}

func TestRemoteCloseReportsEOF(t *testing.T) {
	r := startReactor(t)
	l, accepted := listen(t, r)

	clientCB := newChanCallback()
	client, err := NewOutgoingTCP(r, "127.0.0.1", l.Port(), clientCB)
	if err != nil {
		t.Fatal(err)
	}
	waitConnect(t, clientCB)
	serverCB := <-accepted

	r.InvokeLater(func() { client.Close(errors.New("test done")) })

	if err := waitDisconnect(t, serverCB); !errors.Is(err, ErrClosedByRemote) {
		t.Errorf("server disconnect cause = %v, want ErrClosedByRemote", err)
	}
	if err := waitDisconnect(t, clientCB); err == nil || err.Error() != "test done" {
		t.Errorf("client disconnect cause = %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	r := startReactor(t)

	// grab a port nothing listens on
	l, _ := listen(t, r)
	port := l.Port()
	closed := make(chan struct{})
	r.InvokeLater(func() {
		l.Close(errors.New("freeing the port"))
		close(closed)
	})
	<-closed

	cb := newChanCallback()
	if _, err := NewOutgoingTCP(r, "127.0.0.1", port, cb); err != nil {
		t.Fatal(err)
	}

	err := waitDisconnect(t, cb)
	var nerr *NetError
	if !errors.As(err, &nerr) {
		t.Fatalf("disconnect cause = %v, want *NetError", err)
	}
	if nerr.Op != "connect" {
		t.Errorf("failed op = %q, want connect", nerr.Op)
	}
}

func TestStopClosesHandles(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()
	for i := 0; i < 100 && !r.Running(); i++ {
		time.Sleep(time.Millisecond)
	}

	l, accepted := listen(t, r)
	clientCB := newChanCallback()
	if _, err := NewOutgoingTCP(r, "127.0.0.1", l.Port(), clientCB); err != nil {
		t.Fatal(err)
	}
	waitConnect(t, clientCB)
	serverCB := <-accepted

	r.Stop()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("reactor did not stop")
	}

	if err := waitDisconnect(t, clientCB); !errors.Is(err, ErrReactorStopped) {
		t.Errorf("client cause = %v, want ErrReactorStopped", err)
	}
	if err := waitDisconnect(t, serverCB); !errors.Is(err, ErrReactorStopped) {
		t.Errorf("server cause = %v, want ErrReactorStopped", err)
	}
}

func TestInvokeLaterRunsOnReactor(t *testing.T) {
	r := startReactor(t)

	ran := make(chan struct{})
	r.InvokeLater(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(testTimeout):
		t.Fatal("InvokeLater task never ran")
	}
}

func TestWriteInterestMirrorsQueue(t *testing.T) {
	r := startReactor(t)
	l, accepted := listen(t, r)

	clientCB := newChanCallback()
	client, err := NewOutgoingTCP(r, "127.0.0.1", l.Port(), clientCB)
	if err != nil {
		t.Fatal(err)
	}
	waitConnect(t, clientCB)
	serverCB := <-accepted

	client.Send([]byte("drain me"))
	collect(t, serverCB, len("drain me"))

	// once the queue is drained, WRITE interest must be gone again
	check := make(chan Events, 1)
	r.InvokeLater(func() { check <- client.subscribedEvents() })
	select {
	case ev := <-check:
		if ev&EventWrite != 0 {
			t.Error("WRITE still subscribed with empty queue")
		}
		if ev&EventRead == 0 {
			t.Error("READ subscription lost")
		}
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
}
