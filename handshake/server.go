// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package handshake implements the line-oriented text dialog that
// precedes the binary VBus wire protocol, on both the client and server
// side of a TCP connection.
package handshake

import (
	"io"
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/resol-vbus/govbus/vbuserr"
	"github.com/resol-vbus/govbus/vbuslog"
)

// ServerHandshake is the server side of the VBus-over-TCP handshake. It
// emits the greeting on construction and dispatches subsequent commands
// through ReceiveCommand and its convenience wrappers.
type ServerHandshake struct {
	conn net.Conn
	buf  []byte
	log  vbuslog.Clog
}

// StartServer sends the +HELLO greeting and returns a ready ServerHandshake.
func StartServer(conn net.Conn, log vbuslog.Clog) (*ServerHandshake, error) {
	hs := &ServerHandshake{conn: conn, log: log}
	if err := hs.sendReply("+HELLO\r\n"); err != nil {
		return nil, err
	}
	return hs, nil
}

func (hs *ServerHandshake) sendReply(reply string) error {
	if _, err := io.WriteString(hs.conn, reply); err != nil {
		return vbuserr.FromIO(err)
	}
	hs.log.Debug("handshake: -> %q", reply)
	return nil
}

func (hs *ServerHandshake) receiveLine() (string, error) {
	for {
		if idx := indexByte(hs.buf, '\n'); idx >= 0 {
			line := string(hs.buf[:idx])
			hs.buf = hs.buf[idx+1:]
			return line, nil
		}

		tmp := make([]byte, 256)
		n, err := hs.conn.Read(tmp)
		if n == 0 {
			if err != nil {
				return "", vbuserr.FromIO(err)
			}
			return "", vbuserr.New("reached EOF")
		}
		hs.buf = append(hs.buf, tmp[:n]...)
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// ReceiveCommand is the general command-dispatch primitive: it reads one
// line, splits it into an uppercased command keyword and an optional
// argument, and invokes validator. QUIT is handled unconditionally before
// the validator runs: it always replies +OK and then surfaces an error to
// the caller. Otherwise, if validator reports ok, +OK is sent and value is
// returned; if not, the validator's reply string is sent and the loop
// reads the next line.
func ReceiveCommand[T any](hs *ServerHandshake, validator func(command string, args *string) (value T, reply string, ok bool)) (T, error) {
	var zero T
	for {
		line, err := hs.receiveLine()
		if err != nil {
			return zero, err
		}
		line = strings.TrimSpace(line)

		var command string
		var args *string
		if idx := strings.IndexFunc(line, unicode.IsSpace); idx >= 0 {
			command = strings.ToUpper(line[:idx])
			a := strings.TrimSpace(line[idx:])
			args = &a
		} else {
			command = strings.ToUpper(line)
		}

		if command == "QUIT" {
			if err := hs.sendReply("+OK\r\n"); err != nil {
				return zero, err
			}
			return zero, vbuserr.New("received QUIT command")
		}

		value, reply, ok := validator(command, args)
		if ok {
			if err := hs.sendReply("+OK\r\n"); err != nil {
				return zero, err
			}
			return value, nil
		}
		if err := hs.sendReply(reply); err != nil {
			return zero, err
		}
	}
}

// ReceiveConnectCommand waits for a CONNECT <via_tag> command and returns
// the tag unvalidated.
func (hs *ServerHandshake) ReceiveConnectCommand() (string, error) {
	return hs.ReceiveConnectCommandAndVerify(func(viaTag string) (string, string, bool) {
		return viaTag, "", true
	})
}

// ReceiveConnectCommandAndVerify waits for CONNECT and delegates semantic
// validation of the via-tag argument to validator.
func (hs *ServerHandshake) ReceiveConnectCommandAndVerify(validator func(viaTag string) (value string, reply string, ok bool)) (string, error) {
	return ReceiveCommand(hs, func(command string, args *string) (string, string, bool) {
		if command != "CONNECT" {
			return "", "-ERROR Expected CONNECT command\r\n", false
		}
		if args == nil {
			return "", "-ERROR Expected argument\r\n", false
		}
		return validator(*args)
	})
}

// ReceivePassCommand waits for a PASS <password> command and returns the
// password unvalidated.
func (hs *ServerHandshake) ReceivePassCommand() (string, error) {
	return hs.ReceivePassCommandAndVerify(func(password string) (string, string, bool) {
		return password, "", true
	})
}

// ReceivePassCommandAndVerify waits for PASS and delegates semantic
// validation of the password to validator.
func (hs *ServerHandshake) ReceivePassCommandAndVerify(validator func(password string) (value string, reply string, ok bool)) (string, error) {
	return ReceiveCommand(hs, func(command string, args *string) (string, string, bool) {
		if command != "PASS" {
			return "", "-ERROR Expected PASS command\r\n", false
		}
		if args == nil {
			return "", "-ERROR Expected argument\r\n", false
		}
		return validator(*args)
	})
}

// ReceiveChannelCommand waits for a CHANNEL <n> command and returns the
// parsed channel unvalidated.
func (hs *ServerHandshake) ReceiveChannelCommand() (uint8, error) {
	return hs.ReceiveChannelCommandAndVerify(func(channel uint8) (uint8, string, bool) {
		return channel, "", true
	})
}

// ReceiveChannelCommandAndVerify waits for CHANNEL, parses its numeric
// argument, and delegates semantic validation to validator.
func (hs *ServerHandshake) ReceiveChannelCommandAndVerify(validator func(channel uint8) (value uint8, reply string, ok bool)) (uint8, error) {
	return ReceiveCommand(hs, func(command string, args *string) (uint8, string, bool) {
		if command != "CHANNEL" {
			return 0, "-ERROR Expected CHANNEL command\r\n", false
		}
		if args == nil {
			return 0, "-ERROR Expected argument\r\n", false
		}
		n, err := strconv.ParseUint(*args, 10, 8)
		if err != nil {
			return 0, "-ERROR Expected 8 bit number argument\r\n", false
		}
		return validator(uint8(n))
	})
}

// ReceiveDataCommand waits for a DATA command with no argument, consumes
// the handshake, and yields the raw connection for binary use.
func (hs *ServerHandshake) ReceiveDataCommand() (net.Conn, error) {
	_, err := ReceiveCommand(hs, func(command string, args *string) (struct{}, string, bool) {
		if command != "DATA" {
			return struct{}{}, "-ERROR Expected DATA command\r\n", false
		}
		if args != nil {
			return struct{}{}, "-ERROR Unexpected argument\r\n", false
		}
		return struct{}{}, "", true
	})
	if err != nil {
		return nil, err
	}
	return hs.conn, nil
}
