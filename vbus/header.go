// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package vbus implements the RESOL VBus wire format: the Packet/Datagram
// frame codec and the streaming decoder (LiveDataBuffer) that pulls whole
// frames out of a byte stream a few bytes at a time.
package vbus

import "time"

// ProtocolVersion is the fixed protocol-version byte stamped on every
// outgoing frame.
const ProtocolVersion uint8 = 0x20

// Header is common to every Data variant.
type Header struct {
	Timestamp          time.Time
	Channel            uint8
	DestinationAddress uint16
	SourceAddress      uint16
	ProtocolVersion    uint8
}

// Data is implemented by Packet and Datagram, the two frame kinds the
// decoder produces.
type Data interface {
	GetHeader() Header
	isData()
}
