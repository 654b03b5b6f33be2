// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package discovery

import (
	"context"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/resol-vbus/govbus/deviceinfo"
	"github.com/resol-vbus/govbus/vbuserr"
	"github.com/resol-vbus/govbus/vbuslog"
	"github.com/resol-vbus/govbus/vbusmetrics"
)

func deadlineFrom(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// enableBroadcast sets SO_BROADCAST on conn's socket so WriteToUDP to a
// broadcast address (255.255.255.255 or a subnet broadcast) succeeds instead
// of failing with EACCES.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Discovery runs broadcast probes per cfg, optionally logging and
// reporting metrics through the supplied Clog/Registry.
type Discovery struct {
	cfg     Config
	log     vbuslog.Clog
	metrics *vbusmetrics.Registry
}

// New validates cfg (filling in defaults) and returns a ready Discovery.
// A nil metrics registry disables instrumentation.
func New(cfg Config, log vbuslog.Clog, metrics *vbusmetrics.Registry) (*Discovery, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = vbusmetrics.NewNopRegistry()
	}
	return &Discovery{cfg: cfg, log: log, metrics: metrics}, nil
}

// DiscoverDeviceAddresses runs Config.Rounds broadcast/collect iterations
// and returns the deduplicated set of endpoints that answered.
func (d *Discovery) DiscoverDeviceAddresses(ctx context.Context) ([]*net.UDPAddr, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, vbuserr.FromIO(err)
	}
	defer conn.Close()

	if err := enableBroadcast(conn); err != nil {
		return nil, vbuserr.FromIO(err)
	}

	broadcastAddr, err := net.ResolveUDPAddr("udp4", d.cfg.BroadcastAddr)
	if err != nil {
		return nil, vbuserr.FromAddrParse(d.cfg.BroadcastAddr, err)
	}

	seen := map[string]*net.UDPAddr{}
	query := []byte(QueryPayload)
	reply := []byte(ReplyPayload)

	for round := uint8(0); round < d.cfg.Rounds; round++ {
		if _, err := conn.WriteToUDP(query, broadcastAddr); err != nil {
			return nil, vbuserr.FromIO(err)
		}
		d.metrics.DiscoveryRounds.Inc()

		if err := conn.SetReadDeadline(deadlineFrom(d.cfg.BroadcastTimeout)); err != nil {
			return nil, vbuserr.FromIO(err)
		}

		buf := make([]byte, 64)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				// timeout terminates the wait for this round, never the operation.
				break
			}
			if n != len(reply) {
				continue
			}
			if string(buf[:n]) != ReplyPayload {
				continue
			}
			seen[from.String()] = from
			d.log.Debug("discovery: reply from %s", from)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	addrs := make([]*net.UDPAddr, 0, len(seen))
	for _, a := range seen {
		addrs = append(addrs, a)
	}
	d.metrics.DevicesDiscovered.Set(float64(len(addrs)))
	return addrs, nil
}

// DiscoverDevices re-targets each discovered address to Config.FetchPort
// and fetches its device information. Per-address fetch failures are
// dropped silently — the device may have gone offline between probe and
// fetch.
func (d *Discovery) DiscoverDevices(ctx context.Context) ([]deviceinfo.DeviceInformation, error) {
	addrs, err := d.DiscoverDeviceAddresses(ctx)
	if err != nil {
		return nil, err
	}

	devices := make([]deviceinfo.DeviceInformation, 0, len(addrs))
	for _, a := range addrs {
		target := &net.UDPAddr{IP: a.IP, Port: int(d.cfg.FetchPort)}
		info, err := deviceinfo.Fetch(ctx, target.String(), d.cfg.FetchTimeout)
		if err != nil {
			d.log.Warn("discovery: fetch from %s failed: %v", target, err)
			continue
		}
		devices = append(devices, info)
	}
	return devices, nil
}
