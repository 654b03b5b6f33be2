// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package vbus

// Packet is a periodic broadcast measurement frame. FrameData has room for
// 508 bytes, but the codec carries at most 504 of them: 0-84
// septet-protected 7-byte groups of 6 payload bytes each. The last 4 bytes
// of FrameData are never encoded or decoded.
type Packet struct {
	Header     Header
	Command    uint16
	FrameCount uint8
	FrameData  [508]byte
}

func (p *Packet) GetHeader() Header { return p.Header }
func (*Packet) isData()             {}

// AsPacket type-asserts a Data value, the Go stand-in for matching the
// Packet arm of the original Data sum type.
func AsPacket(d Data) (*Packet, bool) {
	p, ok := d.(*Packet)
	return p, ok
}

// packetFixedLen is the header portion of a Packet frame before its
// septet-protected payload groups: sync, dest(2), src(2), type, cmd(2),
// frame-count.
const packetFixedLen = 9

// EncodePacket serializes a Packet. Each group of up to 6 payload bytes
// is preceded by its own septet byte, mirroring the Datagram scheme but
// repeated once per group instead of once per frame.
func EncodePacket(p *Packet) []byte {
	total := packetFixedLen + int(p.FrameCount)*7 + 1
	buf := make([]byte, total)
	buf[0] = syncByte
	buf[1] = byte(p.Header.DestinationAddress)
	buf[2] = byte(p.Header.DestinationAddress >> 8)
	buf[3] = byte(p.Header.SourceAddress)
	buf[4] = byte(p.Header.SourceAddress >> 8)
	buf[5] = packetTypeByte
	buf[6] = byte(p.Command)
	buf[7] = byte(p.Command >> 8)
	buf[8] = p.FrameCount

	off := packetFixedLen
	for g := 0; g < int(p.FrameCount); g++ {
		var septet byte
		base := g * 6
		for i := 0; i < 6; i++ {
			b := p.FrameData[base+i]
			buf[off+1+i] = b & 0x7f
			septet |= (b >> 7 & 1) << uint(i)
		}
		buf[off] = septet
		off += 7
	}
	buf[total-1] = checksum(buf[1 : total-1])
	return buf
}

// decodePacket parses a validated Packet frame (checksum already
// verified, wire[0]/wire[5] already confirmed).
func decodePacket(wire []byte, channel uint8) *Packet {
	frameCount := wire[8]
	p := &Packet{
		Header: Header{
			Channel:            channel,
			DestinationAddress: uint16(wire[1]) | uint16(wire[2])<<8,
			SourceAddress:      uint16(wire[3]) | uint16(wire[4])<<8,
			ProtocolVersion:    ProtocolVersion,
		},
		Command:    uint16(wire[6]) | uint16(wire[7])<<8,
		FrameCount: frameCount,
	}
	off := packetFixedLen
	for g := 0; g < int(frameCount); g++ {
		septet := wire[off]
		base := g * 6
		for i := 0; i < 6; i++ {
			b := wire[off+1+i] | (septet>>uint(i)&1)<<7
			p.FrameData[base+i] = b
		}
		off += 7
	}
	return p
}

// packetWireLen returns the total on-wire length of a Packet given its
// frame-count byte, once at least packetFixedLen bytes are available.
func packetWireLen(frameCount uint8) int {
	return packetFixedLen + int(frameCount)*7 + 1
}
