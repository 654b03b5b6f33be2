// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package vbus

// Datagram is a point-to-point command/reply frame: 16 bytes on the wire.
type Datagram struct {
	Header  Header
	Command uint16
	Param16 int16
	Param32 int32
}

func (d *Datagram) GetHeader() Header { return d.Header }
func (*Datagram) isData()             {}

// AsDatagram type-asserts a Data value, the Go stand-in for matching the
// Datagram arm of the original Data sum type.
func AsDatagram(d Data) (*Datagram, bool) {
	dg, ok := d.(*Datagram)
	return dg, ok
}

// datagramWireLen is the fixed on-wire size of a Datagram frame.
const datagramWireLen = 16

// EncodeDatagram serializes a Datagram to its fixed 16-byte wire form.
//
// Only Param16 and Param32 carry values wide enough to need MSB-stripping
// in practice (addresses and commands stay inside the 15-bit range the
// protocol reserves for them), so only those six bytes are septet-masked;
// the stripped bits collect into the single septet byte at offset 14.
func EncodeDatagram(d *Datagram) []byte {
	buf := make([]byte, datagramWireLen)
	buf[0] = syncByte
	buf[1] = byte(d.Header.DestinationAddress)
	buf[2] = byte(d.Header.DestinationAddress >> 8)
	buf[3] = byte(d.Header.SourceAddress)
	buf[4] = byte(d.Header.SourceAddress >> 8)
	buf[5] = datagramTypeByte
	buf[6] = byte(d.Command)
	buf[7] = byte(d.Command >> 8)

	p16 := uint16(d.Param16)
	p32 := uint32(d.Param32)
	fields := [6]byte{
		byte(p16), byte(p16 >> 8),
		byte(p32), byte(p32 >> 8), byte(p32 >> 16), byte(p32 >> 24),
	}
	var septet byte
	for i, b := range fields {
		buf[8+i] = b & 0x7f
		septet |= (b >> 7 & 1) << uint(i)
	}
	buf[14] = septet
	buf[15] = checksum(buf[1:15])
	return buf
}

// decodeDatagram parses a validated 16-byte frame (checksum already
// verified, wire[0] already confirmed to be syncByte and wire[5] to be
// datagramTypeByte) into a Datagram.
func decodeDatagram(wire []byte, channel uint8) *Datagram {
	septet := wire[14]
	fields := [6]byte{wire[8], wire[9], wire[10], wire[11], wire[12], wire[13]}
	for i := range fields {
		fields[i] |= (septet >> uint(i) & 1) << 7
	}
	p16 := uint16(fields[0]) | uint16(fields[1])<<8
	p32 := uint32(fields[2]) | uint32(fields[3])<<8 | uint32(fields[4])<<16 | uint32(fields[5])<<24

	return &Datagram{
		Header: Header{
			Channel:            channel,
			DestinationAddress: uint16(wire[1]) | uint16(wire[2])<<8,
			SourceAddress:      uint16(wire[3]) | uint16(wire[4])<<8,
			ProtocolVersion:    ProtocolVersion,
		},
		Command: uint16(wire[6]) | uint16(wire[7])<<8,
		Param16: int16(p16),
		Param32: int32(p32),
	}
}
