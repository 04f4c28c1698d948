// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// The 16 bit sequence space is treated as a ring with a cut point. The top
// and bottom quarters classify a number as belonging before or after a wrap.
// The half space in between gives hysteresis, so a forward jump inside one
// generation is not mistaken for a wrap.
const (
	seqAfterWrapMax  uint16 = 1 << 14       // bottom quarter
	seqBeforeWrapMin uint16 = 3 * (1 << 14) // top quarter
)

func isAfterWrap(s uint16) bool  { return s < seqAfterWrapMax }
func isBeforeWrap(s uint16) bool { return s > seqBeforeWrapMin }

// ReorderBufferMaxPackets caps buffered packets under sustained pathological
// reordering. Once exceeded, Get releases the oldest packet regardless of the
// drop out budget.
var ReorderBufferMaxPackets = 512

// ReorderBuffer accepts RTP packets in arbitrary arrival order and re-emits
// them in sequence number order, across a single 16 bit wrap at a time. A
// missing packet is waited on for at most maxDropOut before the gap is
// accepted.
//
// Not internally synchronized. Add and Get must be serialized by the caller,
// concurrent use needs an external lock.
type ReorderBuffer struct {
	log        zerolog.Logger
	maxDropOut time.Duration
	maxPackets int

	// ordered by descending logical sequence position, index 0 holds the
	// newest packet and the last element is next to emit
	packets []*Packet

	nextSeq    uint16
	nextSeqSet bool

	duplicates uint64
	gaps       uint64
}

// NewReorderBuffer creates a buffer that waits at most maxDropOut for a
// missing packet before releasing past the gap.
func NewReorderBuffer(maxDropOut time.Duration) *ReorderBuffer {
	return &ReorderBuffer{
		log:        log.With().Str("caller", "reorder").Logger(),
		maxDropOut: maxDropOut,
		maxPackets: ReorderBufferMaxPackets,
	}
}

// Add inserts p at its logical sequence position. A packet whose sequence
// number is already buffered is logged and dropped.
func (b *ReorderBuffer) Add(p *Packet) {
	seq := p.Header.SequenceNumber

	if len(b.packets) == 0 {
		b.packets = append(b.packets, p)
		return
	}

	tail := b.packets[len(b.packets)-1].Header.SequenceNumber
	head := b.packets[0].Header.SequenceNumber

	// A very late packet from before the current expectation belongs after
	// everything buffered, also when the tail already wrapped past it.
	if b.nextSeqSet && b.nextSeq >= seq &&
		(tail > b.nextSeq || (isBeforeWrap(b.nextSeq) && isAfterWrap(tail))) {
		b.packets = append(b.packets, p)
		b.checkCap()
		return
	}

	// First packet observed from the generation after the wrap.
	if isBeforeWrap(tail) && !isAfterWrap(head) && isAfterWrap(seq) {
		b.packets = append([]*Packet{p}, b.packets...)
		b.checkCap()
		return
	}

	for i := range b.packets {
		cur := b.packets[i].Header.SequenceNumber

		// Keep same generation packets grouped behind the wrapped ones.
		if isBeforeWrap(seq) && isBeforeWrap(tail) && isAfterWrap(cur) {
			continue
		}

		if cur == seq {
			b.duplicates++
			b.log.Info().Uint16("seq", seq).Msg("Duplicate packet dropped")
			return
		}

		if cur < seq || (isAfterWrap(seq) && isBeforeWrap(cur)) {
			b.packets = append(b.packets[:i], append([]*Packet{p}, b.packets[i:]...)...)
			b.checkCap()
			return
		}
	}

	b.packets = append(b.packets, p)
	b.checkCap()
}

// Get returns the logically earliest buffered packet when it is the one the
// consumer expects, or once the drop out budget for the missing packet ran
// out. It returns false when the expected packet still has a chance to
// arrive. Call in a loop, one packet per call.
func (b *ReorderBuffer) Get() (*Packet, bool) {
	if len(b.packets) == 0 {
		return nil, false
	}

	tail := b.packets[len(b.packets)-1]
	seq := tail.Header.SequenceNumber

	if b.nextSeqSet && seq != b.nextSeq {
		over := len(b.packets) > b.maxPackets
		if !over && time.Since(tail.ReceivedTime) <= b.maxDropOut {
			// the missing packet may still arrive
			return nil, false
		}
		b.gaps++
		b.log.Warn().Uint16("expected", b.nextSeq).Uint16("got", seq).Msg("Sequence gap accepted")
	}

	b.packets = b.packets[:len(b.packets)-1]
	b.nextSeq = seq + 1
	b.nextSeqSet = true
	return tail, true
}

// Len returns the number of buffered packets.
func (b *ReorderBuffer) Len() int {
	return len(b.packets)
}

// Duplicates returns how many duplicate packets were dropped.
func (b *ReorderBuffer) Duplicates() uint64 {
	return b.duplicates
}

// Gaps returns how many sequence gaps were accepted.
func (b *ReorderBuffer) Gaps() uint64 {
	return b.gaps
}

func (b *ReorderBuffer) checkCap() {
	if len(b.packets) > b.maxPackets {
		b.log.Warn().Int("buffered", len(b.packets)).Msg("Reorder buffer over capacity, next Get releases early")
	}
}
