// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import (
	"errors"
	"io"
	"time"

	"github.com/pion/rtp"
)

var (
	// errNoPayload marks an internal consistency failure. Packets built via
	// the exported constructors always carry exactly one payload storage.
	errNoPayload = errors.New("rtpcore: packet has no payload storage")
)

// Packet is a parsed RTP packet. The payload is either owned by the packet
// or a borrowed view into a larger receive buffer. A borrowed view is copied
// into owned storage at most once, on first demand.
type Packet struct {
	Header rtp.Header

	// ReceivedTime is the wall clock moment of arrival, stamped by the
	// receive path. It drives the reorder buffer drop out policy.
	ReceivedTime time.Time

	payload  []byte // owned
	segment  []byte // borrowed view, dropped once materialized
	reserved int    // trailing bytes for the SRTP auth tag on Marshal
}

// NewPacket builds a packet owning payload.
func NewPacket(hdr rtp.Header, payload []byte) *Packet {
	if payload == nil {
		payload = []byte{}
	}
	return &Packet{
		Header:       hdr,
		ReceivedTime: time.Now(),
		payload:      payload,
	}
}

// NewPacketSegment builds a packet over a borrowed payload view without
// copying. reserved extra bytes are appended on Marshal for the SRTP auth
// tag and are never part of the logical payload.
//
// Used on the hot receive path before a consumer decides whether the payload
// needs to outlive the receive buffer.
func NewPacketSegment(segment []byte, reserved int) *Packet {
	return &Packet{
		ReceivedTime: time.Now(),
		segment:      segment,
		reserved:     reserved,
	}
}

// ParsePacket decodes one RTP packet from buf. Header decoding is delegated
// to pion/rtp. The payload is everything after the header minus declared
// padding, copied into owned storage so buf can be reused.
//
// On failure no partial packet is produced. A declared padding size larger
// than the bytes remaining after the header fails with io.ErrShortBuffer.
func ParsePacket(buf []byte) (*Packet, int, error) {
	var hdr rtp.Header
	n, err := hdr.Unmarshal(buf)
	if err != nil {
		return nil, 0, err
	}

	if hdr.Extension {
		// Extensions hold views into buf. Drop them so buf can be reused.
		hdr.Extensions = nil
		hdr.Extension = false
	}

	end := len(buf)
	if hdr.Padding {
		pad := int(buf[end-1])
		end -= pad
		if end < n {
			return nil, 0, io.ErrShortBuffer
		}
		// Padding is stripped here, the parsed packet carries none.
		hdr.Padding = false
	}

	payload := make([]byte, end-n)
	copy(payload, buf[n:end])

	p := &Packet{
		Header:       hdr,
		ReceivedTime: time.Now(),
		payload:      payload,
	}
	return p, len(buf), nil
}

// PayloadLength returns the logical payload size without materializing a
// borrowed view.
func (p *Packet) PayloadLength() int {
	if p.payload != nil {
		return len(p.payload)
	}
	return len(p.segment)
}

// Payload returns the owned payload bytes. A borrowed view is copied exactly
// once and the copy cached, subsequent calls return the same storage.
func (p *Packet) Payload() []byte {
	if p.payload == nil && p.segment != nil {
		p.payload = make([]byte, len(p.segment))
		copy(p.payload, p.segment)
		p.segment = nil
	}
	return p.payload
}

// PayloadByte reads a single payload byte from whichever storage is active,
// without forcing a copy of a borrowed view.
func (p *Packet) PayloadByte(i int) byte {
	if p.payload != nil {
		return p.payload[i]
	}
	return p.segment[i]
}

// Marshal serializes header bytes, payload bytes and the reserved zeroed
// trailer space.
func (p *Packet) Marshal() ([]byte, error) {
	payload := p.payload
	if payload == nil {
		if p.segment == nil {
			return nil, errNoPayload
		}
		payload = p.segment
	}

	hdr, err := p.Header.Marshal()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(hdr)+len(payload)+p.reserved)
	copy(out, hdr)
	copy(out[len(hdr):], payload)
	return out, nil
}
