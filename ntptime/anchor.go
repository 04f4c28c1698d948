// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package ntptime

import (
	"time"

	"github.com/pion/rtcp"
)

// Anchor is a single correlated sample of the RTP media clock against wall
// clock time, typically captured at stream start or from an RTCP sender
// report. One anchor is enough to interpolate NTP time for any later RTP
// timestamp on the same stream.
type Anchor struct {
	RTPTimestamp uint32
	NTP          Timestamp
}

// AnchorFromSenderReport captures an anchor from an RTCP sender report.
func AnchorFromSenderReport(sr *rtcp.SenderReport) Anchor {
	return Anchor{
		RTPTimestamp: sr.RTPTime,
		NTP:          Timestamp(sr.NTPTime),
	}
}

// Interpolate computes the NTP timestamp for rtpTimestamp at the given clock
// rate. The RTP clock difference uses unsigned 32 bit subtraction so it stays
// correct across the 2^32 timestamp wrap.
func (a Anchor) Interpolate(rtpTimestamp uint32, clockRate int) Timestamp {
	diffTicks := rtpTimestamp - a.RTPTimestamp
	rate := uint32(clockRate)

	secs := diffTicks / rate
	frac := float64(diffTicks%rate) / float64(rate)
	return a.NTP.AddSeconds(secs).AddFraction(frac)
}

// InterpolateTime is Interpolate mapped to wall clock time.
func (a Anchor) InterpolateTime(rtpTimestamp uint32, clockRate int) time.Time {
	return a.Interpolate(rtpTimestamp, clockRate).Time()
}
