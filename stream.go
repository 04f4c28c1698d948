// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import (
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mediakit/rtpcore/ntptime"
)

// DefaultMaxDropOut is how long the reorder buffer waits for a missing
// packet before accepting the gap.
var DefaultMaxDropOut = 100 * time.Millisecond

// Stream assembles the receive pipeline of one RTP source: datagram receiver,
// packet parsing, reorder buffer and media clock anchoring. RTCP arriving on
// the paired socket refreshes the NTP anchor from sender reports.
//
// The reorder buffer itself is not synchronized, Stream serializes all access
// to it behind its own lock so the receive goroutines and the consumer can
// run concurrently.
type Stream struct {
	// OnClose fires once when the RTP receiver closes.
	OnClose func(reason string)

	clockRate  int
	maxDropOut time.Duration
	log        zerolog.Logger
	rtpRecv    *Receiver
	rtcpRecv   *Receiver
	metrics    *Metrics

	mu        sync.Mutex
	buffer    *ReorderBuffer
	stats     StreamStats
	seq       SequenceTracker
	anchor    ntptime.Anchor
	anchorSet bool

	// prometheus counters are monotonic, keep last synced buffer counters
	syncedDups uint64
	syncedGaps uint64
}

// NewStream builds a receive pipeline over a pre bound RTP socket and an
// optional paired RTCP socket (pass nil to skip RTCP). clockRate is the
// media clock in Hz, 8000 for narrowband telephony codecs.
func NewStream(rtpConn net.PacketConn, rtcpConn net.PacketConn, clockRate int, maxDropOut time.Duration) *Stream {
	if maxDropOut <= 0 {
		maxDropOut = DefaultMaxDropOut
	}

	s := &Stream{
		clockRate:  clockRate,
		maxDropOut: maxDropOut,
		log:        log.With().Str("caller", "stream").Logger(),
		buffer:     NewReorderBuffer(maxDropOut),
	}
	s.rtpRecv = NewReceiver(rtpConn, 0)
	s.rtpRecv.OnPacket = s.onRTPPacket
	s.rtpRecv.OnClose = func(reason string) {
		if s.OnClose != nil {
			s.OnClose(reason)
		}
	}

	if rtcpConn != nil {
		s.rtcpRecv = NewReceiver(rtcpConn, 0)
		s.rtcpRecv.OnPacket = s.onRTCPPacket
	}
	return s
}

// WithMetrics attaches prometheus collection. Call before Start.
func (s *Stream) WithMetrics(m *Metrics) *Stream {
	s.metrics = m
	return s
}

// Start launches the receive loops.
func (s *Stream) Start() {
	s.rtpRecv.Start()
	if s.rtcpRecv != nil {
		s.rtcpRecv.Start()
	}
}

// Close tears down both receivers. Idempotent.
func (s *Stream) Close(reason string) {
	s.rtpRecv.Close(reason)
	if s.rtcpRecv != nil {
		s.rtcpRecv.Close(reason)
	}
}

// ReadPacket pulls the next in-order packet from the reorder buffer. It
// returns false when nothing is ready yet, callers poll it once per
// scheduling tick.
func (s *Stream) ReadPacket() (*Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.buffer.Get()
	s.syncBufferMetrics()
	return p, ok
}

// Anchor returns the current media clock anchor pair.
func (s *Stream) Anchor() (ntptime.Anchor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor, s.anchorSet
}

// WallClock interpolates wall clock time for an RTP timestamp of this
// stream. It reports false until an anchor was captured.
func (s *Stream) WallClock(rtpTimestamp uint32) (time.Time, bool) {
	s.mu.Lock()
	anchor, ok := s.anchor, s.anchorSet
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return anchor.InterpolateTime(rtpTimestamp, s.clockRate), true
}

// Stats returns a copy of the accumulated receive counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Stream) onRTPPacket(_ *Receiver, _ int, raddr net.Addr, data []byte) {
	p, _, err := ParsePacket(data)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ParseErrors.Inc()
		}
		s.log.Warn().Err(err).Str("raddr", raddr.String()).Msg("Dropping unparsable RTP datagram")
		return
	}

	now := p.ReceivedTime

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &s.stats
	if stats.SSRC != p.Header.SSRC {
		// single source per stream, on SSRC change reset everything
		*stats = StreamStats{
			SSRC:                   p.Header.SSRC,
			FirstPktSequenceNumber: p.Header.SequenceNumber,
			SampleRate:             uint32(s.clockRate),
			firstRTPTime:           now,
			firstRTPTimestamp:      p.Header.Timestamp,
		}
		s.seq.Init(p.Header.SequenceNumber)

		// The old source may have left buffered packets and a sequence
		// expectation behind. The new source gets a fresh buffer so it
		// does not stall against them.
		s.buffer = NewReorderBuffer(s.maxDropOut)
		s.syncedDups, s.syncedGaps = 0, 0

		if !s.anchorSet {
			// stream start anchor until the first sender report arrives
			s.anchor = ntptime.Anchor{
				RTPTimestamp: p.Header.Timestamp,
				NTP:          ntptime.FromTime(now),
			}
			s.anchorSet = true
		}
	} else {
		if err := s.seq.Update(p.Header.SequenceNumber); err != nil {
			s.log.Warn().Err(err).Uint16("seq", p.Header.SequenceNumber).Msg("Sequence tracker rejected packet")
		}
		stats.calcJitter(now, p.Header.Timestamp)
	}

	stats.PacketsCount++
	stats.OctetCount += uint64(p.PayloadLength())
	stats.LastSequenceNumber = p.Header.SequenceNumber

	s.buffer.Add(p)

	if s.metrics != nil {
		s.metrics.PacketsReceived.Inc()
		s.metrics.OctetsReceived.Add(float64(p.PayloadLength()))
	}
	s.syncBufferMetrics()
}

func (s *Stream) onRTCPPacket(_ *Receiver, _ int, raddr net.Addr, data []byte) {
	pkts, err := rtcp.Unmarshal(data)
	if err != nil {
		s.log.Warn().Err(err).Str("raddr", raddr.String()).Msg("Dropping unparsable RTCP datagram")
		return
	}

	for _, pkt := range pkts {
		sr, ok := pkt.(*rtcp.SenderReport)
		if !ok {
			continue
		}

		anchor := ntptime.AnchorFromSenderReport(sr)
		s.mu.Lock()
		s.anchor = anchor
		s.anchorSet = true
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.SenderReports.Inc()
		}
	}
}

// caller must hold s.mu
func (s *Stream) syncBufferMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.BufferedPackets.Set(float64(s.buffer.Len()))

	if d := s.buffer.Duplicates(); d > s.syncedDups {
		s.metrics.DuplicatesDropped.Add(float64(d - s.syncedDups))
		s.syncedDups = d
	}
	if g := s.buffer.Gaps(); g > s.syncedGaps {
		s.metrics.GapsAccepted.Add(float64(g - s.syncedGaps))
		s.syncedGaps = g
	}
}
