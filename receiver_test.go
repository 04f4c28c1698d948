// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDatagram struct {
	data []byte
	addr net.Addr
	err  error
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakePacketConn mimics a UDP socket: buffered datagram queue, read
// deadlines and close semantics.
type fakePacketConn struct {
	dgrams chan fakeDatagram
	closed chan struct{}

	closeOnce sync.Once

	mu       sync.Mutex
	deadline time.Time

	reads            int32
	deadlineArmCount int32
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{
		dgrams: make(chan fakeDatagram, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakePacketConn) push(data []byte) {
	c.dgrams <- fakeDatagram{data: data, addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 6000}}
}

func (c *fakePacketConn) pushErr(err error) {
	c.dgrams <- fakeDatagram{err: err}
}

func (c *fakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	atomic.AddInt32(&c.reads, 1)

	// queued datagrams win over an expired deadline
	select {
	case dg := <-c.dgrams:
		if dg.err != nil {
			return 0, nil, dg.err
		}
		return copy(b, dg.data), dg.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case dg := <-c.dgrams:
		if dg.err != nil {
			return 0, nil, dg.err
		}
		return copy(b, dg.data), dg.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

func (c *fakePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) { return len(b), nil }

func (c *fakePacketConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakePacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004}
}

func (c *fakePacketConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *fakePacketConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.IsZero() {
		atomic.AddInt32(&c.deadlineArmCount, 1)
	}
	c.deadline = t
	return nil
}

func (c *fakePacketConn) SetWriteDeadline(time.Time) error { return nil }

type received struct {
	port  int
	raddr net.Addr
	data  []byte
}

func collectPackets(r *Receiver) <-chan received {
	ch := make(chan received, 64)
	r.OnPacket = func(_ *Receiver, port int, raddr net.Addr, data []byte) {
		ch <- received{port: port, raddr: raddr, data: data}
	}
	return ch
}

func waitPacket(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for packet")
		return received{}
	}
}

func TestReceiverDeliversPackets(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)
	ch := collectPackets(r)

	r.Start()
	defer r.Close("test done")

	conn.push([]byte("hello rtp"))

	got := waitPacket(t, ch)
	require.Equal(t, []byte("hello rtp"), got.data)
	require.Equal(t, 5004, got.port)
	require.Equal(t, "10.0.0.2:6000", got.raddr.String())
}

func TestReceiverDrainsQueuedDatagrams(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)
	ch := collectPackets(r)

	// all three are queued before the loop starts
	conn.push([]byte("one"))
	conn.push([]byte("two"))
	conn.push([]byte("three"))

	r.Start()
	defer r.Close("test done")

	require.Equal(t, []byte("one"), waitPacket(t, ch).data)
	require.Equal(t, []byte("two"), waitPacket(t, ch).data)
	require.Equal(t, []byte("three"), waitPacket(t, ch).data)

	// the trailing two came out of one synchronous drain pass, not three
	// blocking read wakeups
	require.Equal(t, int32(1), atomic.LoadInt32(&conn.deadlineArmCount))
}

func TestReceiverCopiesScratchBuffer(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)
	ch := collectPackets(r)

	r.Start()
	defer r.Close("test done")

	conn.push([]byte("aaaa"))
	first := waitPacket(t, ch)
	conn.push([]byte("bbbb"))
	second := waitPacket(t, ch)

	require.Equal(t, []byte("aaaa"), first.data)
	require.Equal(t, []byte("bbbb"), second.data)
}

func TestReceiverCloseIdempotent(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)

	var closeCount int32
	var reason string
	r.OnClose = func(s string) {
		atomic.AddInt32(&closeCount, 1)
		reason = s
	}

	r.Start()
	r.Close("bye")
	r.Close("again")

	require.Equal(t, int32(1), atomic.LoadInt32(&closeCount))
	require.Equal(t, "bye", reason)
}

func TestReceiverStartAfterCloseIsNoop(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)
	r.Close("early")

	r.Start()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, int32(0), atomic.LoadInt32(&conn.reads))
}

func TestReceiverSurvivesTransientErrors(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)
	ch := collectPackets(r)

	var closeCount int32
	r.OnClose = func(string) { atomic.AddInt32(&closeCount, 1) }

	// ICMP port unreachable surfaces like this on a connected UDP socket
	conn.pushErr(&net.OpError{Op: "read", Net: "udp", Err: syscall.ECONNREFUSED})
	conn.pushErr(&net.OpError{Op: "read", Net: "udp", Err: syscall.ECONNRESET})

	r.Start()
	defer r.Close("test done")

	conn.push([]byte("still alive"))
	require.Equal(t, []byte("still alive"), waitPacket(t, ch).data)
	require.Equal(t, int32(0), atomic.LoadInt32(&closeCount))
}

func TestReceiverUnclassifiedErrorCloses(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)

	closed := make(chan string, 1)
	r.OnClose = func(reason string) { closed <- reason }

	conn.pushErr(errors.New("boom"))
	r.Start()

	select {
	case reason := <-closed:
		require.Equal(t, "boom", reason)
	case <-time.After(time.Second):
		t.Fatal("receiver did not close on unclassified error")
	}
}

func TestReceiverSocketReleasedUnderneath(t *testing.T) {
	conn := newFakePacketConn()
	r := NewReceiver(conn, 0)

	closed := make(chan string, 1)
	r.OnClose = func(reason string) { closed <- reason }

	r.Start()
	// socket closed by someone else, not via receiver Close
	conn.Close()

	select {
	case reason := <-closed:
		require.Equal(t, "socket closed", reason)
	case <-time.After(time.Second):
		t.Fatal("receiver did not observe released socket")
	}
}
