// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package vbus

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func encodeTestDatagram(dest, src uint16, command uint16, param16 int16, param32 int32) []byte {
	return EncodeDatagram(&Datagram{
		Header: Header{
			DestinationAddress: dest,
			SourceAddress:      src,
		},
		Command: command,
		Param16: param16,
		Param32: param32,
	})
}

func TestEncodeDatagram(t *testing.T) {
	tests := []struct {
		name                 string
		dest, src            uint16
		command              uint16
		param16              int16
		param32              int32
		want                 string
	}{
		{"wait_for_free_bus reply", 0x0000, 0x7e11, 0x0500, 0, 0, "aa0000117e200005000000000000004b"},
		{"release_bus request", 0x7e11, 0x0020, 0x0600, 0, 0, "aa117e2000200006000000000000002a"},
		{"get_value_by_index request", 0x7e11, 0x0020, 0x0356, 0x1234, 0, "aa117e20002056033412000000000011"},
		{"get_value_by_index reply", 0x0020, 0x7e11, 0x0156, 0x1234, 0x789abcde, "aa2000117e20560134125e3c1a781c4b"},
		{"set_value_by_index request", 0x7e11, 0x0020, 0x0256, 0x1234, 0x789abcde, "aa117e200020560234125e3c1a781c4a"},
		{"get_value_index_by_id_hash request", 0x7e11, 0x0020, 0x1100, 0, 0x789abcde, "aa117e200020001100005e3c1a781c57"},
		{"get_value_index_by_id_hash reply", 0x0020, 0x7e11, 0x0100, 0x1234, 0x789abcde, "aa2000117e20000134125e3c1a781c21"},
		{"get_caps1 request", 0x7e11, 0x0020, 0x1300, 0, 0, "aa117e2000200013000000000000001d"},
		{"get_caps1 reply", 0x0020, 0x7e11, 0x1301, 0, 0x789abcde, "aa2000117e20011300005e3c1a781c54"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeTestDatagram(tt.dest, tt.src, tt.command, tt.param16, tt.param32)
			assert.Equal(t, tt.want, hex.EncodeToString(got))
		})
	}
}

func TestDecodeDatagramRoundTrip(t *testing.T) {
	wire := mustDecodeHex(t, "aa2000117e20560134125e3c1a781c4b")
	lb := NewLiveDataBuffer(0)
	lb.ExtendFromSlice(wire)

	data, ok := lb.ReadData()
	require.True(t, ok)

	dg, ok := AsDatagram(data)
	require.True(t, ok)
	assert.Equal(t, uint16(0x0020), dg.Header.DestinationAddress)
	assert.Equal(t, uint16(0x7e11), dg.Header.SourceAddress)
	assert.Equal(t, uint16(0x0156), dg.Command)
	assert.Equal(t, int16(0x1234), dg.Param16)
	assert.Equal(t, int32(0x789abcde), dg.Param32)

	// re-encoding the decoded fields reproduces the original bytes.
	again := EncodeDatagram(&Datagram{Header: dg.Header, Command: dg.Command, Param16: dg.Param16, Param32: dg.Param32})
	assert.Equal(t, hex.EncodeToString(wire), hex.EncodeToString(again))
}

func TestEncodeEmptyPacket(t *testing.T) {
	p := &Packet{
		Header:  Header{DestinationAddress: 0x0010, SourceAddress: 0x7e11},
		Command: 0x0100,
	}
	got := EncodePacket(p)
	assert.Equal(t, "aa1000117e100001004f", hex.EncodeToString(got))
}

func TestLiveDataBufferOrderingAndResync(t *testing.T) {
	var rx []byte
	rx = append(rx, EncodePacket(&Packet{Header: Header{DestinationAddress: 0x0010, SourceAddress: 0x7e11}, Command: 0x0100})...)
	rx = append(rx, 0xff, 0xff, 0xff) // garbage bytes between frames must be skipped
	rx = append(rx, encodeTestDatagram(0x0000, 0x7e11, 0x0500, 0, 0)...)

	lb := NewLiveDataBuffer(0)
	// append in 5-byte chunks, so frames straddle chunk boundaries; every
	// chunk is appended before the first ReadData.
	for _, chunk := range splitBytes(rx, 5) {
		lb.ExtendFromSlice(chunk)
	}

	first, ok := lb.ReadData()
	require.True(t, ok)
	p, ok := AsPacket(first)
	require.True(t, ok)
	assert.Equal(t, uint16(0x0010), p.Header.DestinationAddress)

	second, ok := lb.ReadData()
	require.True(t, ok)
	dg, ok := AsDatagram(second)
	require.True(t, ok)
	assert.Equal(t, uint16(0x0500), dg.Command)

	_, ok = lb.ReadData()
	assert.False(t, ok)
}

func splitBytes(b []byte, n int) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		if n > len(b) {
			n = len(b)
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}
