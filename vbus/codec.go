// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package vbus

const (
	syncByte         = 0xaa
	packetTypeByte   = 0x10
	datagramTypeByte = 0x20
)

// checksum computes the VBus septet checksum over the given bytes:
// an accumulator starting at 0x7f, decremented by each byte and masked
// to 7 bits after every step.
func checksum(b []byte) byte {
	crc := byte(0x7f)
	for _, v := range b {
		crc = (crc - v) & 0x7f
	}
	return crc
}
