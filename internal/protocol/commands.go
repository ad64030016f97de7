// Package protocol implements the text-command / binary-payload wire protocol
// spoken between a calculation driver and sparcd. Text frames (commands,
// bare integers, replies) end with the EndOfRecord marker. Binary frames have
// a statically known length and are always little-endian.
package protocol

// EndOfRecord terminates every text frame.
const EndOfRecord = "\r\n\r\n"

// EndOfRecordLen is the size of the EndOfRecord marker in bytes.
const EndOfRecordLen = len(EndOfRecord)

// DefaultMaxFrameSize is the default capacity of a text frame, marker included.
const DefaultMaxFrameSize = 128

// Binary element sizes.
const (
	Float64Size = 8
	Int32Size   = 4
	MatrixLen   = 9 // 3x3, row-major
)

// Kind classifies a received command frame.
type Kind int

const (
	KindInvalid Kind = iota
	KindStatus
	KindInit
	KindPosData
	KindGetForce
	KindGetStress
	KindAbort
	KindEcho
)

// Command tokens, matched case-sensitively as prefixes.
const (
	CmdStatus    = "STATUS"
	CmdInit      = "INIT"
	CmdPosData   = "POSDATA"
	CmdGetForce  = "GETFORCE"
	CmdGetStress = "GETSTRESS"
	CmdAbort     = "ABORT"
	CmdEcho      = "ECHO"
)

// Reply tokens.
const (
	ReplyNeedInit    = "NEEDINIT"
	ReplyReady       = "READY"
	ReplyHaveData    = "HAVEDATA"
	ReplyForceReady  = "FORCEREADY"
	ReplyStressReady = "STRESSREADY"
	ReplyError       = "ERROR"
)

type vocabularyEntry struct {
	token string
	kind  Kind
}

// vocabulary is ordered; the first matching prefix wins.
var vocabulary = []vocabularyEntry{
	{CmdStatus, KindStatus},
	{CmdInit, KindInit},
	{CmdPosData, KindPosData},
	{CmdGetForce, KindGetForce},
	{CmdGetStress, KindGetStress},
	{CmdAbort, KindAbort},
	{CmdEcho, KindEcho},
}

// Kinds returns every valid request kind in vocabulary order.
func Kinds() []Kind {
	kinds := make([]Kind, len(vocabulary))
	for i, v := range vocabulary {
		kinds[i] = v.kind
	}
	return kinds
}

// String returns the command token for k, or "INVALID".
func (k Kind) String() string {
	for _, v := range vocabulary {
		if v.kind == k {
			return v.token
		}
	}
	return "INVALID"
}
