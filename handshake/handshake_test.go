// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package handshake

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resol-vbus/govbus/vbuslog"
)

func TestClientServerHandshakeEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		hs, err := StartServer(conn, vbuslog.NewLogger("server"))
		if err != nil {
			serverDone <- err
			return
		}
		if _, err := hs.ReceiveConnectCommand(); err != nil {
			serverDone <- err
			return
		}
		if _, err := hs.ReceivePassCommand(); err != nil {
			serverDone <- err
			return
		}
		if _, err := hs.ReceiveChannelCommand(); err != nil {
			serverDone <- err
			return
		}
		raw, err := hs.ReceiveDataCommand()
		if err != nil {
			serverDone <- err
			return
		}
		raw.Close()
		serverDone <- nil
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	hs, err := StartClient(conn, vbuslog.NewLogger("client"))
	require.NoError(t, err)

	require.NoError(t, hs.SendConnectCommand("via_tag"))
	require.NoError(t, hs.SendPassCommand("password"))
	require.NoError(t, hs.SendChannelCommand(1))
	raw, err := hs.SendDataCommand()
	require.NoError(t, err)
	raw.Close()

	assert.NoError(t, <-serverDone)
}

func TestServerHandshakeRejectsWrongCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		hs, err := StartServer(conn, vbuslog.NewLogger("server"))
		if err != nil {
			serverDone <- err
			return
		}
		_, err = hs.ReceivePassCommand()
		serverDone <- err
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	hs, err := StartClient(conn, vbuslog.NewLogger("client"))
	require.NoError(t, err)

	// Sending CONNECT when the server expects PASS should draw a
	// negative reply, which the client surfaces as an error.
	err = hs.SendConnectCommand("via_tag")
	assert.Error(t, err)
}

func TestServerHandshakeQuit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		hs, err := StartServer(conn, vbuslog.NewLogger("server"))
		if err != nil {
			serverDone <- err
			return
		}
		_, err = hs.ReceivePassCommand()
		serverDone <- err
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	hs, err := StartClient(conn, vbuslog.NewLogger("client"))
	require.NoError(t, err)

	require.NoError(t, hs.SendQuitCommand())
	assert.Error(t, <-serverDone)
}
