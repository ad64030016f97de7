package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparc-project/sparcd/internal/protocol"
)

// chunkedConn serves its input in fixed-size reads and records writes.
type chunkedConn struct {
	in        []byte
	chunk     int
	out       bytes.Buffer
	zeroWrite int
	closed    bool
}

func (c *chunkedConn) Read(p []byte) (int, error) {
	if len(c.in) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), c.chunk, len(c.in))
	copy(p, c.in[:n])
	c.in = c.in[n:]
	return n, nil
}

func (c *chunkedConn) Write(p []byte) (int, error) {
	if c.zeroWrite > 0 {
		c.zeroWrite--
		return 0, nil
	}
	// short writes of at most 3 bytes
	n := min(len(p), 3)
	return c.out.Write(p[:n])
}

func (c *chunkedConn) Close() error {
	c.closed = true
	return nil
}

func newChunked(in string, chunk int) (*Transport, *chunkedConn) {
	c := &chunkedConn{in: []byte(in), chunk: chunk}
	return newTransport(c, "test", protocol.DefaultMaxFrameSize), c
}

func TestReadTextFrameAcrossReads(t *testing.T) {
	// the marker is split over several one-byte reads
	tr, _ := newChunked("STATUS\r\n\r\n", 1)
	frame, err := tr.ReadTextFrame()
	require.NoError(t, err)
	assert.Equal(t, "STATUS\r\n\r\n", string(frame))
	assert.EqualValues(t, 10, tr.Stats().BytesIn)
}

func TestReadTextFrameCarriesOverTrailingBytes(t *testing.T) {
	tr, _ := newChunked("STATUS\r\n\r\nINIT\r\n\r\n7\r\n\r\n", 64)

	for _, want := range []string{"STATUS\r\n\r\n", "INIT\r\n\r\n", "7\r\n\r\n"} {
		frame, err := tr.ReadTextFrame()
		require.NoError(t, err)
		assert.Equal(t, want, string(frame))
	}

	_, err := tr.ReadTextFrame()
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReadExactUsesCarriedBytes(t *testing.T) {
	payload := protocol.AppendInt32(nil, 42)
	tr, _ := newChunked("POSDATA\r\n\r\n"+string(payload), 64)

	frame, err := tr.ReadTextFrame()
	require.NoError(t, err)
	assert.Equal(t, "POSDATA\r\n\r\n", string(frame))

	v, err := tr.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)
}

func TestReadTextFrameTooLarge(t *testing.T) {
	tr, _ := newChunked(strings.Repeat("A", 500), 16)
	_, err := tr.ReadTextFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadTextFrameExactlyAtCapacity(t *testing.T) {
	body := strings.Repeat("E", protocol.DefaultMaxFrameSize-protocol.EndOfRecordLen)
	tr, _ := newChunked(body+protocol.EndOfRecord, 7)
	frame, err := tr.ReadTextFrame()
	require.NoError(t, err)
	assert.Len(t, frame, protocol.DefaultMaxFrameSize)
}

func TestReadTextFramePeerClosedMidFrame(t *testing.T) {
	tr, _ := newChunked("STAT", 64)
	_, err := tr.ReadTextFrame()
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReadExactShort(t *testing.T) {
	tr, _ := newChunked("\x01\x02\x03", 64)
	_, err := tr.ReadExact(8)
	assert.ErrorIs(t, err, ErrShortFrame)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReadFloat64sAndMatrix(t *testing.T) {
	in := protocol.AppendFloat64s(nil, 1, 2, 3, 4, 5, 6, 7, 8, 9, 0.5, -0.5)
	tr, _ := newChunked(string(in), 5)

	m, err := tr.ReadMatrix()
	require.NoError(t, err)
	assert.Equal(t, [protocol.MatrixLen]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, m)

	vs, err := tr.ReadFloat64s(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -0.5}, vs)

	_, err = tr.ReadFloat64s(-1)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestSendLoopsOverShortAndZeroWrites(t *testing.T) {
	tr, c := newChunked("", 1)
	c.zeroWrite = 10

	n, err := tr.Send([]byte("READY\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "READY\r\n\r\n", c.out.String())
	assert.EqualValues(t, 9, tr.Stats().BytesOut)
}

func TestSendGivesUpWithoutProgress(t *testing.T) {
	tr, c := newChunked("", 1)
	c.zeroWrite = maxZeroWrites + 10

	_, err := tr.Send([]byte("READY\r\n\r\n"))
	assert.ErrorIs(t, err, ErrNoProgress)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, c := newChunked("", 1)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, c.closed)
	assert.True(t, tr.IsClosed())
}

func TestTransportOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := NewTransport(server, protocol.DefaultMaxFrameSize)
	defer tr.Close()

	go func() {
		client.Write([]byte("ECHO\r\n\r\nhi\r\n\r\n"))
	}()

	frame, err := tr.ReadTextFrame()
	require.NoError(t, err)
	assert.Equal(t, "ECHO\r\n\r\n", string(frame))

	frame, err = tr.ReadTextFrame()
	require.NoError(t, err)
	assert.Equal(t, "hi\r\n\r\n", string(frame))

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 6)
		_, _ = io.ReadFull(client, buf)
		got <- buf
	}()
	_, err = tr.Send(frame)
	require.NoError(t, err)

	select {
	case b := <-got:
		assert.Equal(t, "hi\r\n\r\n", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("reply not received")
	}
}

func TestListenAcceptAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Listen(ctx, ListenConfig{Host: "127.0.0.1", Port: 0, Backlog: 1})
	require.NoError(t, err)
	require.NotZero(t, ln.Port())

	dialed := make(chan error, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			c.Close()
		}
		dialed <- err
	}()

	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	conn.Close()
	require.NoError(t, <-dialed)

	cancel()
	_, err = ln.Accept(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCloseWhileReading(t *testing.T) {
	tr, _ := newChunked(strings.Repeat("STATUS\r\n\r\n", 5000), 128)

	done := make(chan error, 1)
	go func() {
		for {
			if _, err := tr.ReadTextFrame(); err != nil {
				done <- err
				return
			}
		}
	}()

	require.NoError(t, tr.Close())
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed) || errors.Is(err, ErrPeerClosed), "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop")
	}
	assert.True(t, tr.IsClosed())
}

func TestListenerCloseReleasesContextWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := Listen(ctx, ListenConfig{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	// the AfterFunc was already stopped by Close
	assert.False(t, ln.stop())

	_, err = ln.Accept(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
