// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package transceiver implements LiveDataStream, the request/reply engine
// that drives a VBus connection once a handshake has handed over the raw
// stream: outgoing datagram construction, the retrying transceive loop, and
// every domain operation built on top of it.
package transceiver

import (
	"io"
	"time"

	"github.com/resol-vbus/govbus/vbus"
	"github.com/resol-vbus/govbus/vbuslog"
	"github.com/resol-vbus/govbus/vbusmetrics"
)

// LiveDataStream owns a reader, a writer, and a streaming decode buffer. It
// is not safe for concurrent use: a single goroutine must drive all of its
// methods, mirroring the single-threaded cooperative scheduling the
// underlying connection was designed around. Callers needing concurrent
// read/write access split reader and writer across two goroutines that
// communicate over channels instead of sharing one LiveDataStream.
type LiveDataStream struct {
	reader      io.Reader
	writer      io.Writer
	channel     uint8
	selfAddress uint16
	buf         *vbus.LiveDataBuffer
	log         vbuslog.Clog
	metrics     *vbusmetrics.Registry
}

// NewLiveDataStream wraps reader/writer with a fresh decode buffer scoped to
// channel. A nil metrics registry disables instrumentation.
func NewLiveDataStream(reader io.Reader, writer io.Writer, channel uint8, selfAddress uint16, log vbuslog.Clog, metrics *vbusmetrics.Registry) *LiveDataStream {
	if metrics == nil {
		metrics = vbusmetrics.NewNopRegistry()
	}
	return &LiveDataStream{
		reader:      reader,
		writer:      writer,
		channel:     channel,
		selfAddress: selfAddress,
		buf:         vbus.NewLiveDataBuffer(channel),
		log:         log,
		metrics:     metrics,
	}
}

// createDatagram builds an outgoing Datagram addressed from this stream's
// self address on this stream's channel, stamped with the current time.
func (s *LiveDataStream) createDatagram(destinationAddress uint16, command uint16, param16 int16, param32 int32) *vbus.Datagram {
	return &vbus.Datagram{
		Header: vbus.Header{
			Timestamp:          time.Now(),
			Channel:            s.channel,
			DestinationAddress: destinationAddress,
			SourceAddress:      s.selfAddress,
			ProtocolVersion:    vbus.ProtocolVersion,
		},
		Command: command,
		Param16: param16,
		Param32: param32,
	}
}
