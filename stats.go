// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import "time"

// StreamStats accumulates receive side counters for one RTP source.
// Some fields are exported as readonly intentionally.
type StreamStats struct {
	SSRC                   uint32
	FirstPktSequenceNumber uint16
	LastSequenceNumber     uint16

	PacketsCount uint64
	OctetCount   uint64

	SampleRate uint32

	firstRTPTime      time.Time
	firstRTPTimestamp uint32
	jitter            float64
	transit           int64
}

// Jitter returns the current interarrival jitter estimate in timestamp units.
func (stats *StreamStats) Jitter() float64 {
	return stats.jitter
}

// https://www.rfc-editor.org/rfc/rfc3550#appendix-A.8
// Reading is not dictated by the media clock here, so the estimate is against
// the first packet arrival instead of the previous one.
func (stats *StreamStats) calcJitter(now time.Time, pktTimestamp uint32) {
	sampleRate := float64(stats.SampleRate)

	rtpSampleArrival := stats.firstRTPTimestamp + uint32(now.Sub(stats.firstRTPTime).Seconds()*sampleRate)
	transit := int64(rtpSampleArrival) - int64(pktTimestamp)

	D := transit - stats.transit
	stats.transit = transit

	if D < 0 {
		D = -D
	}
	stats.jitter = stats.jitter + (float64(D)-stats.jitter)/16.0
}
