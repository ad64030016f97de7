package protocol

import (
	"bytes"
	"fmt"
)

// ReplyBuilder constructs server-to-driver replies: text frames followed by
// optional packed little-endian binary blocks.
type ReplyBuilder struct {
	buf bytes.Buffer
}

// NewReplyBuilder creates a new ReplyBuilder.
func NewReplyBuilder() *ReplyBuilder {
	return &ReplyBuilder{}
}

// Reset clears the builder for reuse.
func (b *ReplyBuilder) Reset() {
	b.buf.Reset()
}

// WriteText writes s as a text frame terminated by EndOfRecord.
func (b *ReplyBuilder) WriteText(s string) *ReplyBuilder {
	b.buf.WriteString(s)
	b.buf.WriteString(EndOfRecord)
	return b
}

// WriteInt32 writes a little-endian int32.
func (b *ReplyBuilder) WriteInt32(v int32) *ReplyBuilder {
	b.buf.Write(AppendInt32(nil, v))
	return b
}

// WriteFloat64 writes a little-endian float64.
func (b *ReplyBuilder) WriteFloat64(v float64) *ReplyBuilder {
	b.buf.Write(AppendFloat64s(nil, v))
	return b
}

// WriteFloat64s writes a packed little-endian float64 array.
func (b *ReplyBuilder) WriteFloat64s(vs []float64) *ReplyBuilder {
	b.buf.Write(AppendFloat64s(make([]byte, 0, len(vs)*Float64Size), vs...))
	return b
}

// WriteBytes writes raw bytes.
func (b *ReplyBuilder) WriteBytes(data []byte) *ReplyBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed reply bytes.
func (b *ReplyBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the reply being built.
func (b *ReplyBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current reply for debugging.
func (b *ReplyBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("ReplyBuilder[%d bytes]: %x", len(data), data)
}

// ---- Pre-built replies ----

// BuildTextReply creates a single text frame reply such as "READY\r\n\r\n".
func BuildTextReply(token string) []byte {
	return NewReplyBuilder().WriteText(token).Build()
}

// BuildForceReply creates a GETFORCE reply.
// Format: [FORCEREADY text][potential:8][natoms:4][forces:3*natoms*8][virial:9*8][extra_len:4]
func BuildForceReply(potential float64, forces []float64, virial [MatrixLen]float64) []byte {
	b := NewReplyBuilder()
	b.WriteText(ReplyForceReady)
	b.WriteFloat64(potential)
	b.WriteInt32(int32(len(forces) / 3))
	b.WriteFloat64s(forces)
	b.WriteFloat64s(virial[:])
	b.WriteInt32(0)
	return b.Build()
}

// BuildStressReply creates a GETSTRESS reply.
// Format: [STRESSREADY text][virial:9*8]
func BuildStressReply(virial [MatrixLen]float64) []byte {
	b := NewReplyBuilder()
	b.WriteText(ReplyStressReady)
	b.WriteFloat64s(virial[:])
	return b.Build()
}

// BuildErrorReply creates a typed error reply, "ERROR <reason>".
func BuildErrorReply(reason string) []byte {
	if reason == "" {
		return BuildTextReply(ReplyError)
	}
	return BuildTextReply(ReplyError + " " + reason)
}
