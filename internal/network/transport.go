// Package network implements the listening socket and the framed transport
// that carries the driver protocol over one accepted TCP connection.
package network

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/protocol"
)

// maxZeroWrites bounds consecutive (0, nil) writes before Send gives up.
const maxZeroWrites = 64

// Transport wraps the accepted connection and implements both framing
// disciplines: marker-delimited text frames and exact-length binary frames.
// It is driven by a single goroutine; only Close may be called concurrently.
type Transport struct {
	rw       io.ReadWriteCloser
	remote   string
	capacity int
	logger   zerolog.Logger

	// bytes that arrived after the last text frame's marker
	pending []byte

	connectedAt  time.Time
	lastActivity time.Time
	bytesIn      int64
	bytesOut     int64

	closeMu sync.Mutex
	closed  bool
}

// Stats is a point-in-time copy of the transport counters.
type Stats struct {
	BytesIn      int64
	BytesOut     int64
	ConnectedAt  time.Time
	LastActivity time.Time
}

// NewTransport wraps an accepted connection. capacity bounds a text frame,
// marker included.
func NewTransport(conn net.Conn, capacity int) *Transport {
	return newTransport(conn, conn.RemoteAddr().String(), capacity)
}

func newTransport(rw io.ReadWriteCloser, remote string, capacity int) *Transport {
	if capacity < protocol.EndOfRecordLen+1 {
		capacity = protocol.DefaultMaxFrameSize
	}
	now := time.Now()
	return &Transport{
		rw:           rw,
		remote:       remote,
		capacity:     capacity,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "transport").Str("remote", remote).Logger(),
	}
}

// ReadTextFrame accumulates bytes until the end-of-record marker is found and
// returns the frame, marker included. The result is never longer than the
// transport capacity. Only the newly appended bytes are scanned for the marker.
func (t *Transport) ReadTextFrame() ([]byte, error) {
	marker := []byte(protocol.EndOfRecord)
	buf := make([]byte, 0, t.capacity)

	if len(t.pending) > 0 {
		n := min(len(t.pending), t.capacity)
		buf = append(buf, t.pending[:n]...)
		t.pending = t.pending[n:]
	}

	scanned := 0
	var readErr error
	for {
		if i := bytes.Index(buf[scanned:], marker); i >= 0 {
			end := scanned + i + len(marker)
			if end < len(buf) {
				rest := make([]byte, 0, len(buf)-end+len(t.pending))
				rest = append(rest, buf[end:]...)
				t.pending = append(rest, t.pending...)
			}
			t.lastActivity = time.Now()
			t.logger.Trace().Int("bytes", end).Msg("text frame received")
			return buf[:end:end], nil
		}
		// The marker may straddle the boundary with the next read.
		scanned = max(0, len(buf)-(len(marker)-1))

		if readErr != nil {
			return nil, t.receiveError(readErr, len(buf))
		}
		if len(buf) >= t.capacity {
			return nil, fmt.Errorf("%w: %d bytes without end-of-record marker", ErrFrameTooLarge, len(buf))
		}

		n, err := t.rw.Read(buf[len(buf):t.capacity])
		buf = buf[:len(buf)+n]
		t.bytesIn += int64(n)
		readErr = err
	}
}

// ReadExact receives exactly n bytes without scanning for any marker.
func (t *Transport) ReadExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrShortFrame, n)
	}
	out := make([]byte, n)
	copied := copy(out, t.pending)
	t.pending = t.pending[copied:]

	if copied < n {
		m, err := io.ReadFull(t.rw, out[copied:])
		t.bytesIn += int64(m)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: got %d of %d bytes: %w", ErrShortFrame, copied+m, n, ErrPeerClosed)
			}
			return nil, fmt.Errorf("network: receive failed after %d of %d bytes: %w", copied+m, n, err)
		}
	}

	t.lastActivity = time.Now()
	return out, nil
}

// ReadFloat64s receives count packed little-endian float64 values.
func (t *Transport) ReadFloat64s(count int) ([]float64, error) {
	if count < 0 || count > math.MaxInt/protocol.Float64Size {
		return nil, fmt.Errorf("%w: invalid element count %d", ErrShortFrame, count)
	}
	raw, err := t.ReadExact(count * protocol.Float64Size)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeFloat64s(raw)
}

// ReadMatrix receives one packed 3x3 float64 matrix.
func (t *Transport) ReadMatrix() ([protocol.MatrixLen]float64, error) {
	raw, err := t.ReadExact(protocol.MatrixLen * protocol.Float64Size)
	if err != nil {
		return [protocol.MatrixLen]float64{}, err
	}
	return protocol.DecodeMatrix(raw)
}

// ReadInt32 receives one little-endian int32.
func (t *Transport) ReadInt32() (int32, error) {
	raw, err := t.ReadExact(protocol.Int32Size)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeInt32(raw)
}

// Send writes all of data, looping over partial writes. A write that makes
// no progress without an error is retried; only a write error is fatal.
func (t *Transport) Send(data []byte) (int, error) {
	total, stalls := 0, 0
	for total < len(data) {
		n, err := t.rw.Write(data[total:])
		total += n
		t.bytesOut += int64(n)
		if err != nil {
			if t.IsClosed() {
				return total, ErrClosed
			}
			return total, fmt.Errorf("network: send failed after %d of %d bytes: %w", total, len(data), err)
		}
		if n == 0 {
			stalls++
			if stalls > maxZeroWrites {
				return total, fmt.Errorf("%w: %d of %d bytes sent", ErrNoProgress, total, len(data))
			}
			continue
		}
		stalls = 0
	}

	t.lastActivity = time.Now()
	t.logger.Trace().Int("bytes", total).Msg("reply sent")
	return total, nil
}

// Close closes the underlying connection. It is safe to call more than once
// and from another goroutine.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.logger.Debug().Msg("connection closed")
	return t.rw.Close()
}

// IsClosed returns whether Close has been called.
func (t *Transport) IsClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// RemoteAddr returns the peer address.
func (t *Transport) RemoteAddr() string {
	return t.remote
}

// Capacity returns the maximum text frame size.
func (t *Transport) Capacity() int {
	return t.capacity
}

// Stats returns the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		BytesIn:      t.bytesIn,
		BytesOut:     t.bytesOut,
		ConnectedAt:  t.connectedAt,
		LastActivity: t.lastActivity,
	}
}

func (t *Transport) receiveError(err error, buffered int) error {
	if t.IsClosed() {
		return ErrClosed
	}
	if errors.Is(err, io.EOF) {
		if buffered > 0 {
			return fmt.Errorf("%w: %d bytes buffered without end-of-record marker", ErrPeerClosed, buffered)
		}
		return ErrPeerClosed
	}
	return fmt.Errorf("network: receive failed: %w", err)
}
