package protocol

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInt(t *testing.T) {
	v, err := ParseInt([]byte("42\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	v, err = ParseInt([]byte(" -7 \r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v)

	_, err = ParseInt([]byte("4x2\r\n\r\n"))
	assert.ErrorIs(t, err, ErrBadInteger)

	_, err = ParseInt([]byte("\r\n\r\n"))
	assert.ErrorIs(t, err, ErrBadInteger)

	_, err = ParseInt([]byte("99999999999\r\n\r\n"))
	assert.ErrorIs(t, err, ErrBadInteger)

	_, err = ParseInt([]byte("12"))
	assert.ErrorIs(t, err, ErrMissingSentinel)
}

func TestDecodeIsLittleEndian(t *testing.T) {
	raw := make([]byte, 16)
	binary.LittleEndian.PutUint64(raw[0:], math.Float64bits(1.5))
	binary.LittleEndian.PutUint64(raw[8:], math.Float64bits(-2.25))

	vs, err := DecodeFloat64s(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2.25}, vs)

	_, err = DecodeFloat64s(raw[:7])
	assert.ErrorIs(t, err, ErrShortPayload)

	n, err := DecodeInt32([]byte{0x05, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, int32(5), n)

	n, err = DecodeInt32([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, int32(-1), n)

	_, err = DecodeInt32([]byte{1, 2})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestDecodeMatrix(t *testing.T) {
	in := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	m, err := DecodeMatrix(AppendFloat64s(nil, in...))
	require.NoError(t, err)
	assert.Equal(t, [MatrixLen]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, m)

	_, err = DecodeMatrix(AppendFloat64s(nil, 1, 2))
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestBuildForceReplyLayout(t *testing.T) {
	forces := []float64{1, 2, 3, 4, 5, 6}
	var virial [MatrixLen]float64
	virial[0] = 9

	reply := BuildForceReply(-1.5, forces, virial)
	head := len(ReplyForceReady) + EndOfRecordLen
	require.Equal(t, head+8+4+6*8+9*8+4, len(reply))
	assert.Equal(t, ReplyForceReady+EndOfRecord, string(reply[:head]))

	body := reply[head:]
	pot, err := DecodeFloat64s(body[:8])
	require.NoError(t, err)
	assert.Equal(t, -1.5, pot[0])

	natoms, err := DecodeInt32(body[8:12])
	require.NoError(t, err)
	assert.Equal(t, int32(2), natoms)

	got, err := DecodeFloat64s(body[12 : 12+48])
	require.NoError(t, err)
	assert.Equal(t, forces, got)
}

func TestBuildTextAndErrorReplies(t *testing.T) {
	assert.Equal(t, "READY\r\n\r\n", string(BuildTextReply(ReplyReady)))
	assert.Equal(t, "ERROR\r\n\r\n", string(BuildErrorReply("")))
	assert.Equal(t, "ERROR frame too large\r\n\r\n", string(BuildErrorReply("frame too large")))

	var virial [MatrixLen]float64
	stress := BuildStressReply(virial)
	assert.Len(t, stress, len(ReplyStressReady)+EndOfRecordLen+9*8)
}
