package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// ParseInt decodes a bare decimal integer text frame such as "42\r\n\r\n".
// Surrounding whitespace and NUL padding are ignored. The value must fit in
// an int32.
func ParseInt(frame []byte) (int32, error) {
	end := bytes.Index(frame, []byte(EndOfRecord))
	if end < 0 {
		return 0, ErrMissingSentinel
	}
	text := bytes.Trim(frame[:end], " \t\r\n\x00")
	if len(text) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrBadInteger)
	}
	v, err := strconv.ParseInt(string(text), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadInteger, text)
	}
	return int32(v), nil
}

// DecodeFloat64s decodes a packed little-endian float64 array.
func DecodeFloat64s(b []byte) ([]float64, error) {
	if len(b)%Float64Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrShortPayload, len(b), Float64Size)
	}
	out := make([]float64, len(b)/Float64Size)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*Float64Size:]))
	}
	return out, nil
}

// DecodeMatrix decodes exactly nine packed float64 values.
func DecodeMatrix(b []byte) ([MatrixLen]float64, error) {
	var m [MatrixLen]float64
	if len(b) != MatrixLen*Float64Size {
		return m, fmt.Errorf("%w: matrix needs %d bytes, got %d", ErrShortPayload, MatrixLen*Float64Size, len(b))
	}
	for i := range m {
		m[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*Float64Size:]))
	}
	return m, nil
}

// DecodeInt32 decodes a single little-endian int32.
func DecodeInt32(b []byte) (int32, error) {
	if len(b) != Int32Size {
		return 0, fmt.Errorf("%w: int32 needs %d bytes, got %d", ErrShortPayload, Int32Size, len(b))
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// AppendFloat64s appends vs to b in packed little-endian form.
func AppendFloat64s(b []byte, vs ...float64) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

// AppendInt32 appends v to b in little-endian form.
func AppendInt32(b []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}
