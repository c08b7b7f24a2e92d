// Package http2 implements an incremental HTTP/2 frame parser and
// encoder suitable for splicing traffic between two peers: it decodes
// and re-encodes frames without driving a connection state machine of
// its own (no settings negotiation, no flow control enforcement).
package http2

import "github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"

// Type is the error-taxonomy category for every error this package
// returns.
const Type = httperr.TypeParseHTTP2

// FrameType identifies the ten standard HTTP/2 frame types plus an
// escape hatch for anything else observed on the wire.
type FrameType int

const (
	FrameData FrameType = iota
	FrameHeaders
	FramePriority
	FrameRstStream
	FrameSettings
	FramePushPromise
	FramePing
	FrameGoAway
	FrameWindowUpdate
	FrameContinuation
	FrameUnknown
)

// FrameHeader is the 9-byte frame header common to every frame.
type FrameHeader struct {
	Length   int
	Type     FrameType
	RawType  uint8 // preserves the wire byte for FrameUnknown/Raw re-encoding
	Flags    uint8
	StreamID uint32
}

// Frame pairs a decoded header with its typed payload.
type Frame struct {
	Header  FrameHeader
	Payload FramePayload
}

// FramePayload holds exactly one of the typed payloads below,
// depending on Frame.Header.Type; Raw carries the payload verbatim
// for frame types this package doesn't interpret (PUSH_PROMISE and
// genuinely unknown types).
type FramePayload struct {
	Data         *DataFrame
	Headers      *HeadersFrame
	Priority     *PriorityFrame
	RstStream    *RstStreamFrame
	Settings     *SettingsFrame
	Ping         *PingFrame
	GoAway       *GoAwayFrame
	WindowUpdate *WindowUpdateFrame
	Continuation []byte
	Raw          []byte
}

type DataFrame struct {
	EndStream bool
	Payload   []byte
}

type HeadersFrame struct {
	EndStream   bool
	EndHeaders  bool
	HeaderBlock []byte
	Headers     []HeaderField
}

// HeaderField is a single decoded/encoded HPACK name-value pair.
type HeaderField struct {
	Name  string
	Value string
}

type PriorityFrame struct {
	StreamDependency uint32
	Weight           uint8
	Exclusive        bool
}

type RstStreamFrame struct {
	ErrorCode uint32
}

// Setting is one (identifier, value) pair inside a SETTINGS frame.
type Setting struct {
	ID    uint16
	Value uint32
}

type SettingsFrame struct {
	Settings []Setting
	Ack      bool
}

type PingFrame struct {
	OpaqueData [8]byte
	Ack        bool
}

type GoAwayFrame struct {
	LastStreamID uint32
	ErrorCode    uint32
	DebugData    []byte
}

type WindowUpdateFrame struct {
	StreamID  uint32
	Increment uint32
}
