// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReceiveBufSize is the scratch buffer size for a single datagram. Must stay
// comfortably above MTU since UDP reassembles fragmented datagrams.
var ReceiveBufSize = 8192

type receiverState int

const (
	stateIdle receiverState = iota
	stateReceiving
	stateClosing
	stateClosed
)

// Receiver drives the receive loop of one datagram socket. The socket is
// supplied pre bound by the caller, the receiver only reads and closes it.
//
// Every received datagram is copied out of the shared scratch buffer into a
// fresh buffer before OnPacket fires, so consumers may hold the bytes as long
// as they like.
type Receiver struct {
	// OnPacket fires once per datagram, in arrival order, on the receive
	// goroutine. Must be set before Start.
	OnPacket func(r *Receiver, localPort int, raddr net.Addr, data []byte)
	// OnClose fires exactly once, on the first Close call.
	OnClose func(reason string)

	conn net.PacketConn
	log  zerolog.Logger

	mu    sync.Mutex
	state receiverState

	buf []byte
}

// NewReceiver wraps a pre bound datagram socket. bufSize <= 0 falls back to
// ReceiveBufSize.
func NewReceiver(conn net.PacketConn, bufSize int) *Receiver {
	if bufSize <= 0 {
		bufSize = ReceiveBufSize
	}
	return &Receiver{
		conn: conn,
		buf:  make([]byte, bufSize),
		log:  log.With().Str("caller", "receiver").Str("id", uuid.NewString()).Logger(),
	}
}

// Start launches the receive loop. It is a no-op unless the receiver is idle,
// calling it after Close does nothing and touches no socket.
func (r *Receiver) Start() {
	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return
	}
	r.state = stateReceiving
	r.mu.Unlock()

	go r.receiveLoop()
}

// Close is idempotent. The first call releases the socket and fires OnClose
// with reason, later calls are no-ops. Safe to call concurrently with the
// receive loop.
func (r *Receiver) Close(reason string) {
	r.mu.Lock()
	if r.state == stateClosing || r.state == stateClosed {
		r.mu.Unlock()
		return
	}
	r.state = stateClosing
	r.mu.Unlock()

	r.conn.Close()

	r.mu.Lock()
	r.state = stateClosed
	r.mu.Unlock()

	if r.OnClose != nil {
		r.OnClose(reason)
	}
}

// LocalPort returns the bound port of the underlying socket.
func (r *Receiver) LocalPort() int {
	if ua, ok := r.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.Port
	}
	return 0
}

func (r *Receiver) closing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateClosing || r.state == stateClosed
}

func (r *Receiver) receiveLoop() {
	for {
		if r.closing() {
			return
		}

		n, raddr, err := r.conn.ReadFrom(r.buf)
		if err != nil {
			if !r.handleReadErr(err) {
				return
			}
			continue
		}
		r.emit(n, raddr)

		// Datagrams already queued at the socket are drained synchronously
		// on this goroutine instead of going through another blocking read
		// wakeup per packet.
		if !r.drain() {
			return
		}
	}
}

// drain reads until the socket queue is empty, using an immediate read
// deadline as the non blocking check. Returns false when the loop must stop.
func (r *Receiver) drain() bool {
	if err := r.conn.SetReadDeadline(time.Now()); err != nil {
		// socket already released
		return !r.closing()
	}
	defer r.conn.SetReadDeadline(time.Time{})

	for {
		if r.closing() {
			return false
		}

		n, raddr, err := r.conn.ReadFrom(r.buf)
		if err != nil {
			if errorIsTimeout(err) {
				// queue empty, back to blocking mode
				return true
			}
			return r.handleReadErr(err)
		}
		r.emit(n, raddr)
	}
}

func (r *Receiver) emit(n int, raddr net.Addr) {
	if n <= 0 || r.OnPacket == nil {
		return
	}
	// scratch buffer is reused on the next read
	data := make([]byte, n)
	copy(data, r.buf[:n])
	r.OnPacket(r, r.LocalPort(), raddr, data)
}

// handleReadErr classifies a socket error. It reports whether the receive
// loop should keep going.
//
// RTP exchanges routinely produce spurious socket errors, ICMP port
// unreachable on half open associations being the usual one. Those never
// tear down a socket that may still be usable. Only an unclassified failure
// closes the receiver.
func (r *Receiver) handleReadErr(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		if !r.closing() {
			// socket released underneath us without Close
			r.Close("socket closed")
		}
		return false
	}

	if errorIsTimeout(err) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		r.log.Warn().Err(err).Msg("ICMP induced socket error, continuing to receive")
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		r.log.Warn().Err(err).Msg("Transient socket error, continuing to receive")
		return true
	}

	r.log.Error().Err(err).Msg("Unexpected receive error, closing receiver")
	r.Close(err.Error())
	return false
}

func errorIsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
