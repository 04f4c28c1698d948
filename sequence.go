// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import "errors"

var (
	// RTP spec recommended
	seqMaxMisorder uint16 = 100
	seqMaxDropout  uint16 = 3000
	seqMax         uint16 = 65535
)

var (
	ErrSequenceBad       = errors.New("bad sequence")
	ErrSequenceDuplicate = errors.New("sequence duplicate")
)

// SequenceTracker extends the 16 bit RTP sequence counter with a wrap count,
// following RFC 3550 appendix A.2. For thread safety wrap it.
type SequenceTracker struct {
	seqNum    uint16 // highest sequence received
	wrapCount uint16

	badSeq uint16
}

func (s *SequenceTracker) Init(seq uint16) {
	s.seqNum = seq
	s.badSeq = seqMax
	s.wrapCount = 0
}

// Update advances the tracker with a received sequence number.
func (s *SequenceTracker) Update(seq uint16) error {
	maxSeq := s.seqNum

	udelta := seq - maxSeq
	if udelta < seqMaxDropout {
		if seq < maxSeq {
			s.wrapCount++
		}
		s.seqNum = seq
		return nil
	}

	if udelta <= seqMax-seqMaxMisorder {
		// sequence number made a very large jump
		if seq == s.badSeq {
			// two sequential packets, assume the other side restarted
			s.Init(seq)
			return nil
		}

		s.badSeq = seq + 1
		return ErrSequenceBad
	}

	return ErrSequenceDuplicate
}

// Extended returns the sequence number extended over wraps.
func (s *SequenceTracker) Extended() uint64 {
	return uint64(s.seqNum) + (uint64(seqMax)+1)*uint64(s.wrapCount)
}
