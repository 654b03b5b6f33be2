// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transceiver

import (
	"context"
	"time"

	"github.com/resol-vbus/govbus/vbus"
)

const (
	defaultMaxTries  = 3
	defaultInitial   = 500 * time.Millisecond
	defaultIncrement = 500 * time.Millisecond
)

// ReplyKind distinguishes an exact 0x0100 reply from the resync replies
// (0x1001 / 0x1101) the hash-indexed operations may also return. Callers
// that normalize these lose the resync signal, so HashReply keeps them
// apart rather than collapsing them.
type ReplyKind int

const (
	ReplyExact ReplyKind = iota
	ReplyResync
)

// HashReply is the result of GetValueIDHashByIndex / GetValueIndexByIDHash.
type HashReply struct {
	Datagram *vbus.Datagram
	Kind     ReplyKind
}

func replyMatchesRequest(reply, request *vbus.Datagram) bool {
	return reply.Header.SourceAddress == request.Header.DestinationAddress &&
		reply.Header.DestinationAddress == request.Header.SourceAddress
}

// Receive waits up to timeout for any Data accepted by filter.
func (s *LiveDataStream) Receive(ctx context.Context, timeout time.Duration, filter func(vbus.Data) bool) (vbus.Data, error) {
	return s.receive(ctx, timeout, "receive", filter)
}

// ReceiveAnyData waits up to timeout for the next Data item, whatever it is.
func (s *LiveDataStream) ReceiveAnyData(ctx context.Context, timeout time.Duration) (vbus.Data, error) {
	return s.receive(ctx, timeout, "receive_any_data", func(vbus.Data) bool { return true })
}

// WaitForFreeBus waits for a datagram offering bus control (command 0x0500).
func (s *LiveDataStream) WaitForFreeBus(ctx context.Context) (*vbus.Datagram, error) {
	data, err := s.receive(ctx, 20000*time.Millisecond, "wait_for_free_bus", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && dg.Command == 0x0500
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}

// ReleaseBus hands bus control back to the regular master. The reply is any
// Packet, not a Datagram — the regular master immediately resumes its own
// broadcast cycle.
func (s *LiveDataStream) ReleaseBus(ctx context.Context, address uint16) (vbus.Data, error) {
	tx := s.createDatagram(address, 0x0600, 0, 0)
	wire := vbus.EncodeDatagram(tx)

	return s.transceive(ctx, wire, 2, 2500*time.Millisecond, 2500*time.Millisecond, "release_bus", func(d vbus.Data) bool {
		_, ok := vbus.AsPacket(d)
		return ok
	})
}

// GetValueByIndex reads a single value by its index/subindex.
func (s *LiveDataStream) GetValueByIndex(ctx context.Context, address uint16, index int16, subindex uint8) (*vbus.Datagram, error) {
	tx := s.createDatagram(address, 0x0300|uint16(subindex), index, 0)
	wire := vbus.EncodeDatagram(tx)
	replyCommand := uint16(0x0100) | uint16(subindex)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "get_value_by_index", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && dg.Command == replyCommand && dg.Param16 == tx.Param16
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}

// SetValueByIndex writes a single value by its index/subindex.
func (s *LiveDataStream) SetValueByIndex(ctx context.Context, address uint16, index int16, subindex uint8, value int32) (*vbus.Datagram, error) {
	tx := s.createDatagram(address, 0x0200|uint16(subindex), index, value)
	wire := vbus.EncodeDatagram(tx)
	replyCommand := uint16(0x0100) | uint16(subindex)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "set_value_by_index", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && dg.Command == replyCommand && dg.Param16 == tx.Param16
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}

// GetValueIDHashByIndex resolves the ID hash backing a value index.
func (s *LiveDataStream) GetValueIDHashByIndex(ctx context.Context, address uint16, index int16) (*HashReply, error) {
	tx := s.createDatagram(address, 0x1000, index, 0)
	wire := vbus.EncodeDatagram(tx)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "get_value_id_hash_by_index", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && (dg.Command == 0x0100 || dg.Command == 0x1001) && dg.Param16 == tx.Param16
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	kind := ReplyExact
	if dg.Command == 0x1001 {
		kind = ReplyResync
	}
	return &HashReply{Datagram: dg, Kind: kind}, nil
}

// GetValueIndexByIDHash resolves a value index from its ID hash.
func (s *LiveDataStream) GetValueIndexByIDHash(ctx context.Context, address uint16, idHash int32) (*HashReply, error) {
	tx := s.createDatagram(address, 0x1100, 0, idHash)
	wire := vbus.EncodeDatagram(tx)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "get_value_index_by_id_hash", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && (dg.Command == 0x0100 || dg.Command == 0x1101) && dg.Param32 == tx.Param32
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	kind := ReplyExact
	if dg.Command == 0x1101 {
		kind = ReplyResync
	}
	return &HashReply{Datagram: dg, Kind: kind}, nil
}

// GetCaps1 fetches capability flags (part 1) from a device.
func (s *LiveDataStream) GetCaps1(ctx context.Context, address uint16) (*vbus.Datagram, error) {
	tx := s.createDatagram(address, 0x1300, 0, 0)
	wire := vbus.EncodeDatagram(tx)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "get_caps1", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && dg.Command == 0x1301
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}

// BeginBulkValueTransaction opens a bulk value transaction with the given
// device-side timeout.
func (s *LiveDataStream) BeginBulkValueTransaction(ctx context.Context, address uint16, txTimeout int32) (*vbus.Datagram, error) {
	tx := s.createDatagram(address, 0x1400, 0, txTimeout)
	wire := vbus.EncodeDatagram(tx)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "begin_bulk_value_transaction", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && dg.Command == 0x1401
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}

// CommitBulkValueTransaction commits a previously opened bulk value
// transaction.
func (s *LiveDataStream) CommitBulkValueTransaction(ctx context.Context, address uint16) (*vbus.Datagram, error) {
	tx := s.createDatagram(address, 0x1402, 0, 0)
	wire := vbus.EncodeDatagram(tx)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "commit_bulk_value_transaction", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && dg.Command == 0x1403
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}

// RollbackBulkValueTransaction aborts a previously opened bulk value
// transaction.
func (s *LiveDataStream) RollbackBulkValueTransaction(ctx context.Context, address uint16) (*vbus.Datagram, error) {
	tx := s.createDatagram(address, 0x1404, 0, 0)
	wire := vbus.EncodeDatagram(tx)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "rollback_bulk_value_transaction", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && dg.Command == 0x1405
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}

// SetBulkValueByIndex writes a single value by index/subindex while inside
// a bulk value transaction.
func (s *LiveDataStream) SetBulkValueByIndex(ctx context.Context, address uint16, index int16, subindex uint8, value int32) (*vbus.Datagram, error) {
	tx := s.createDatagram(address, 0x1500|uint16(subindex), index, value)
	wire := vbus.EncodeDatagram(tx)
	replyCommand := uint16(0x1600) | uint16(subindex)

	data, err := s.transceive(ctx, wire, defaultMaxTries, defaultInitial, defaultIncrement, "set_bulk_value_by_index", func(d vbus.Data) bool {
		dg, ok := vbus.AsDatagram(d)
		return ok && replyMatchesRequest(dg, tx) && dg.Command == replyCommand && dg.Param16 == tx.Param16
	})
	if err != nil || data == nil {
		return nil, err
	}
	dg, _ := vbus.AsDatagram(data)
	return dg, nil
}
