// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transceiver

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/resol-vbus/govbus/vbus"
	"github.com/resol-vbus/govbus/vbuserr"
)

// errAttemptTimeout signals that one attempt's deadline elapsed without a
// matching reply; it never escapes this package.
var errAttemptTimeout = errors.New("transceiver: attempt timeout")

// transceive is the core engine: it writes outgoing (if non-nil) once per
// attempt, then drains framed Data out of the decode buffer, feeding it
// from reader as needed, until filter accepts an item or the attempt's
// timeout elapses. Exhausting maxTries attempts, or an EOF from reader,
// both yield (nil, nil) — "no reply" is not an error. Attempts carry a
// growing timeout (initialTimeout, then +timeoutIncrement per subsequent
// attempt) but no delay between them: the next attempt's write goes out
// the instant the previous one's deadline elapses.
func (s *LiveDataStream) transceive(ctx context.Context, outgoing []byte, maxTries int, initialTimeout, timeoutIncrement time.Duration, operation string, filter func(vbus.Data) bool) (vbus.Data, error) {
	for attempt := 0; attempt < maxTries; attempt++ {
		timeout := initialTimeout + time.Duration(attempt)*timeoutIncrement

		if outgoing != nil {
			if _, err := s.writer.Write(outgoing); err != nil {
				return nil, vbuserr.FromIO(err)
			}
		}

		deadline := time.Now().Add(timeout)

		for {
			if data, ok := s.buf.ReadData(); ok {
				if filter(data) {
					s.metrics.TransceiveSuccess.WithLabelValues(operation).Inc()
					return data, nil
				}
				continue
			}

			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}

			scratch := make([]byte, 256)
			n, err := readWithDeadline(ctx, s.reader, scratch, deadline)
			if err != nil {
				if errors.Is(err, errAttemptTimeout) {
					break
				}
				if errors.Is(err, io.EOF) {
					// Stream ended before a match: "no reply", not an error.
					s.metrics.TransceiveTimeouts.WithLabelValues(operation).Inc()
					return nil, nil
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, vbuserr.FromIO(err)
			}
			if n == 0 {
				continue
			}
			s.buf.ExtendFromSlice(scratch[:n])
		}

		s.log.Debug("transceiver: %s attempt exhausted, retrying", operation)
		s.metrics.TransceiveRetries.WithLabelValues(operation).Inc()
	}

	s.metrics.TransceiveTimeouts.WithLabelValues(operation).Inc()
	return nil, nil
}

// receive is transceive with no outgoing bytes and a single attempt.
func (s *LiveDataStream) receive(ctx context.Context, timeout time.Duration, operation string, filter func(vbus.Data) bool) (vbus.Data, error) {
	return s.transceive(ctx, nil, 1, timeout, 0, operation, filter)
}

// readWithDeadline reads once from r, bounded by deadline. Readers that
// support SetReadDeadline (net.Conn and friends) use it directly; others
// fall back to racing the read against a timer in a background goroutine,
// which may leak if the underlying Read never returns — acceptable here
// because the only non-deadline-capable readers this package is tested
// against are bounded in-memory buffers.
func readWithDeadline(ctx context.Context, r io.Reader, buf []byte, deadline time.Time) (int, error) {
	if dr, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok {
		if err := dr.SetReadDeadline(deadline); err != nil {
			return 0, err
		}
		n, err := r.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, errAttemptTimeout
			}
		}
		return n, err
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-timer.C:
		return 0, errAttemptTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
