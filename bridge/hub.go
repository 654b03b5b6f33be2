// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package bridge fans VBus traffic from one upstream connection out to any
// number of downstream TCP clients, and relays client writes back upstream.
// It generalizes the serial-to-TCP concentrator pattern to an arbitrary
// upstream io.ReadWriter so the same hub serves a real serial port, a
// upstream TCP connection, or a test double alike.
package bridge

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/resol-vbus/govbus/handshake"
	"github.com/resol-vbus/govbus/vbuserr"
	"github.com/resol-vbus/govbus/vbuslog"
	"github.com/resol-vbus/govbus/vbusmetrics"
)

// queueDepth bounds every channel connecting the hub's loops; a stalled
// consumer back-pressures its producer rather than growing without bound.
const queueDepth = 10

// Hub relays bytes between one upstream io.ReadWriter and N downstream
// client connections accepted via Attach.
type Hub struct {
	upstream io.ReadWriter
	log      vbuslog.Clog
	metrics  *vbusmetrics.Registry

	upstreamToClients chan []byte
	clientsToUpstream chan []byte

	mu      sync.Mutex
	clients map[uint64]net.Conn
	nextID  uint64
}

// NewHub wraps upstream with a fresh Hub. A nil metrics registry disables
// instrumentation.
func NewHub(upstream io.ReadWriter, log vbuslog.Clog, metrics *vbusmetrics.Registry) *Hub {
	if metrics == nil {
		metrics = vbusmetrics.NewNopRegistry()
	}
	return &Hub{
		upstream:          upstream,
		log:               log,
		metrics:           metrics,
		upstreamToClients: make(chan []byte, queueDepth),
		clientsToUpstream: make(chan []byte, queueDepth),
		clients:           make(map[uint64]net.Conn),
	}
}

// Run drives the three relay loops (upstream-read, upstream-write,
// clients-fan-out) until ctx is canceled or one of them hits a fatal error,
// which is then returned and cancels the others.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.upstreamReadLoop(ctx) })
	g.Go(func() error { return h.upstreamWriteLoop(ctx) })
	g.Go(func() error { return h.clientsFanOutLoop(ctx) })

	return g.Wait()
}

func (h *Hub) upstreamReadLoop(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := h.upstream.Read(buf)
		if err != nil {
			return vbuserr.FromIO(err)
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		select {
		case h.upstreamToClients <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) upstreamWriteLoop(ctx context.Context) error {
	for {
		select {
		case chunk := <-h.clientsToUpstream:
			if _, err := h.upstream.Write(chunk); err != nil {
				return vbuserr.FromIO(err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) clientsFanOutLoop(ctx context.Context) error {
	for {
		select {
		case chunk := <-h.upstreamToClients:
			h.fanOut(chunk)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fanOut writes chunk to every attached client, removing any that fail.
// The failing-id collection happens during iteration and the removal
// happens after, under the same lock, so a client id never appears twice
// in the map and no client is skipped mid-iteration.
func (h *Hub) fanOut(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var failed []uint64
	for id, conn := range h.clients {
		if _, err := conn.Write(chunk); err != nil {
			h.log.Warn("bridge: write to client %d failed: %v", id, err)
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		if conn, ok := h.clients[id]; ok {
			conn.Close()
			delete(h.clients, id)
		}
	}
	h.metrics.BridgeClientsAttached.Set(float64(len(h.clients)))
}

// Attach runs the server side of the handshake on conn (PASS then DATA,
// skipping CONNECT/CHANNEL since the bridge has nothing to route by tag or
// channel) and, on success, registers the connection as a client and relays
// its subsequent writes upstream until it disconnects or ctx is canceled.
// Attach blocks until the client detaches; callers run it in its own
// goroutine per incoming connection.
func (h *Hub) Attach(ctx context.Context, conn net.Conn) error {
	hs, err := handshake.StartServer(conn, h.log)
	if err != nil {
		return err
	}
	if _, err := hs.ReceivePassCommand(); err != nil {
		h.metrics.HandshakeFailures.WithLabelValues("pass").Inc()
		return err
	}
	raw, err := hs.ReceiveDataCommand()
	if err != nil {
		h.metrics.HandshakeFailures.WithLabelValues("data").Inc()
		return err
	}

	id := h.addClient(raw)
	defer h.removeClient(id)

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := raw.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return vbuserr.FromIO(err)
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		select {
		case h.clientsToUpstream <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) addClient(conn net.Conn) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.clients[id] = conn
	h.metrics.BridgeClientsAttached.Set(float64(len(h.clients)))
	return id
}

func (h *Hub) removeClient(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.clients[id]; ok {
		conn.Close()
		delete(h.clients, id)
	}
	h.metrics.BridgeClientsAttached.Set(float64(len(h.clients)))
}

// ClientCount reports the number of currently attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
