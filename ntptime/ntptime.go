// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

// Package ntptime implements 64 bit NTP timestamp arithmetic.
// An NTP timestamp packs seconds since 1900-01-01T00:00:00Z in the upper
// 32 bits and fractional seconds in 1/2^32 units in the lower 32 bits.
package ntptime

import (
	"math"
	"time"
)

// Offset between NTP epoch (1900) and Unix epoch (1970) in seconds
const ntpEpochOffset int64 = 2208988800

var ntpEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Timestamp is a 64 bit NTP timestamp passed by value.
type Timestamp uint64

// Now returns the NTP timestamp for the current moment.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts wall clock time to an NTP timestamp.
func FromTime(t time.Time) Timestamp {
	seconds := t.Unix() + ntpEpochOffset
	frac := (float64(t.Nanosecond()) / 1e9) * (1 << 32)
	return Timestamp(uint64(seconds)<<32 | uint64(frac))
}

// Seconds returns the upper 32 bits, seconds since the 1900 epoch.
func (ts Timestamp) Seconds() uint32 {
	return uint32(ts >> 32)
}

// Fraction returns the lower 32 bits, fractional seconds in 1/2^32 units.
func (ts Timestamp) Fraction() uint32 {
	return uint32(ts)
}

// AddSeconds adds n to the seconds field, wrapping on 32 bit overflow.
// The fraction field is unchanged.
func (ts Timestamp) AddSeconds(n uint32) Timestamp {
	return Timestamp(uint64(ts.Seconds()+n)<<32 | uint64(ts.Fraction()))
}

// AddFraction adds a fractional offset f in [-1.0, 1.0) to the fraction
// field. The carry is NOT propagated into the seconds field, so an addition
// that crosses a whole second boundary does not bump the seconds. Callers
// needing exact second rollover must call AddSeconds separately.
func (ts Timestamp) AddFraction(f float64) Timestamp {
	incr := int64(f * (1 << 32))
	frac := uint32(int64(ts.Fraction()) + incr)
	return Timestamp(uint64(ts.Seconds())<<32 | uint64(frac))
}

// Time maps the timestamp to wall clock time, resolving the fraction to
// rounded milliseconds.
func (ts Timestamp) Time() time.Time {
	ms := math.Round(float64(ts.Fraction()) / (1 << 32) * 1000)
	return ntpEpoch.Add(time.Duration(ts.Seconds())*time.Second + time.Duration(ms)*time.Millisecond)
}
