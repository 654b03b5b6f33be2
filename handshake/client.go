// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package handshake

import (
	"fmt"
	"io"
	"net"

	"github.com/resol-vbus/govbus/vbuserr"
	"github.com/resol-vbus/govbus/vbuslog"
)

// ClientHandshake is the client side of the VBus-over-TCP handshake.
type ClientHandshake struct {
	conn net.Conn
	buf  []byte
	log  vbuslog.Clog
}

// StartClient waits for the server's initial greeting reply and returns a
// ready ClientHandshake.
func StartClient(conn net.Conn, log vbuslog.Clog) (*ClientHandshake, error) {
	hs := &ClientHandshake{conn: conn, log: log}
	if err := hs.readReply(); err != nil {
		return nil, err
	}
	return hs, nil
}

func (hs *ClientHandshake) readReply() error {
	for {
		if idx := indexByte(hs.buf, '\n'); idx >= 0 {
			firstByte := hs.buf[0]
			hs.buf = hs.buf[idx+1:]

			switch firstByte {
			case '+':
				return nil
			case '-':
				return vbuserr.New("negative reply")
			default:
				return vbuserr.New("unexpected reply")
			}
		}

		tmp := make([]byte, 256)
		n, err := hs.conn.Read(tmp)
		if n == 0 {
			if err != nil {
				return vbuserr.FromIO(err)
			}
			return vbuserr.New("reached EOF")
		}
		hs.buf = append(hs.buf, tmp[:n]...)
	}
}

func (hs *ClientHandshake) sendCommand(cmd string, args *string) error {
	var line string
	if args != nil {
		line = fmt.Sprintf("%s %s\r\n", cmd, *args)
	} else {
		line = fmt.Sprintf("%s\r\n", cmd)
	}

	if _, err := io.WriteString(hs.conn, line); err != nil {
		return vbuserr.FromIO(err)
	}
	hs.log.Debug("handshake: <- %q", line)
	return hs.readReply()
}

// SendConnectCommand sends CONNECT <viaTag> and waits for the reply.
func (hs *ClientHandshake) SendConnectCommand(viaTag string) error {
	return hs.sendCommand("CONNECT", &viaTag)
}

// SendPassCommand sends PASS <password> and waits for the reply.
func (hs *ClientHandshake) SendPassCommand(password string) error {
	return hs.sendCommand("PASS", &password)
}

// SendChannelCommand sends CHANNEL <n> and waits for the reply.
func (hs *ClientHandshake) SendChannelCommand(channel uint8) error {
	arg := fmt.Sprintf("%d", channel)
	return hs.sendCommand("CHANNEL", &arg)
}

// SendDataCommand sends DATA, waits for the reply, consumes the
// handshake, and yields the raw connection for binary use.
func (hs *ClientHandshake) SendDataCommand() (net.Conn, error) {
	if err := hs.sendCommand("DATA", nil); err != nil {
		return nil, err
	}
	return hs.conn, nil
}

// SendQuitCommand sends QUIT and waits for the reply, consuming the
// handshake.
func (hs *ClientHandshake) SendQuitCommand() error {
	return hs.sendCommand("QUIT", nil)
}
