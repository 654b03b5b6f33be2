// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package vbus

// LiveDataBuffer is the streaming decoder: bytes read off a connection are
// appended to it, and whole Data frames are pulled out in arrival order.
// It is the sole owner of not-yet-framed bytes; callers must never inspect
// or mutate the internal buffer directly.
type LiveDataBuffer struct {
	channel uint8
	buf     []byte
}

// NewLiveDataBuffer creates an empty buffer that stamps the given channel
// onto every Data item it decodes.
func NewLiveDataBuffer(channel uint8) *LiveDataBuffer {
	return &LiveDataBuffer{channel: channel}
}

// ExtendFromSlice appends freshly-read bytes to the buffer.
func (lb *LiveDataBuffer) ExtendFromSlice(b []byte) {
	lb.buf = append(lb.buf, b...)
}

// ReadData pulls the next whole, checksum-valid Data frame out of the
// buffer, if one is available. Bytes that don't begin a valid frame
// (including a frame that fails its checksum) are dropped one at a time
// until either a frame is found or the buffer runs dry — this keeps the
// decoder self-resynchronizing after a dropped or corrupted byte.
func (lb *LiveDataBuffer) ReadData() (Data, bool) {
	for {
		if len(lb.buf) == 0 {
			return nil, false
		}
		if lb.buf[0] != syncByte {
			lb.buf = lb.buf[1:]
			continue
		}
		if len(lb.buf) < 6 {
			return nil, false
		}

		typeByte := lb.buf[5]
		var total int
		switch typeByte {
		case datagramTypeByte:
			total = datagramWireLen
		case packetTypeByte:
			if len(lb.buf) < packetFixedLen {
				return nil, false
			}
			// A frame count whose groups would overrun FrameData is not a
			// valid Packet header.
			if int(lb.buf[8]) > len(Packet{}.FrameData)/6 {
				lb.buf = lb.buf[1:]
				continue
			}
			total = packetWireLen(lb.buf[8])
		default:
			lb.buf = lb.buf[1:]
			continue
		}

		if len(lb.buf) < total {
			return nil, false
		}

		frame := lb.buf[:total]
		if checksum(frame[1:total-1]) != frame[total-1] {
			lb.buf = lb.buf[1:]
			continue
		}

		lb.buf = lb.buf[total:]
		switch typeByte {
		case datagramTypeByte:
			return decodeDatagram(frame, lb.channel), true
		default:
			return decodePacket(frame, lb.channel), true
		}
	}
}
