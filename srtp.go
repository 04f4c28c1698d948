// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2025, Mediakit Authors

package rtpcore

import (
	"github.com/pion/srtp/v3"
)

// SRTPTagLength returns the trailing byte count a packet must reserve for
// the authentication tag of the given protection profile. The tag is never
// part of the logical payload, the protection itself happens outside this
// package.
func SRTPTagLength(profile srtp.ProtectionProfile) int {
	switch profile {
	case srtp.ProtectionProfileAes128CmHmacSha1_80,
		srtp.ProtectionProfileAes256CmHmacSha1_80,
		srtp.ProtectionProfileNullHmacSha1_80:
		return 10
	case srtp.ProtectionProfileAes128CmHmacSha1_32:
		return 4
	case srtp.ProtectionProfileAeadAes128Gcm,
		srtp.ProtectionProfileAeadAes256Gcm:
		return 16
	}
	return 0
}
