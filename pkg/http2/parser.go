package http2

import (
	"bytes"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

// Preface is the fixed 24-byte client connection preface that must
// precede the first frame on every HTTP/2 connection.
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

const preface = Preface
const frameHeaderLen = 9

// Status is the outcome of a single Push call.
type Status int

const (
	NeedMore Status = iota
	Complete
	Error
)

// ParseResult is returned by Parser.Push.
type ParseResult struct {
	Status   Status
	Frame    *Frame
	Warnings []httperr.Warning
	Err      *httperr.Error
}

// pendingHeaderBlock accumulates HEADERS fragments until an
// end_headers-flagged frame (a HEADERS with END_HEADERS, or a
// following CONTINUATION with END_HEADERS) completes the block.
type pendingHeaderBlock struct {
	streamID  uint32
	endStream bool
	fragments []byte
}

// Parser incrementally decodes an HTTP/2 frame stream: the 24-byte
// client preface must arrive first, exactly, before any frames.
type Parser struct {
	buf          bytes.Buffer
	warnings     []httperr.Warning
	prefaceSeen  bool
	maxFrameSize int
	hpack        *HpackDecoder
	headerBlock  *pendingHeaderBlock
}

func NewParser() *Parser {
	return &Parser{maxFrameSize: DefaultMaxFrameSize, hpack: NewHpackDecoder()}
}

func NewParserWithMaxFrameSize(maxFrameSize int) *Parser {
	return &Parser{maxFrameSize: maxFrameSize, hpack: NewHpackDecoder()}
}

// Push feeds newly arrived bytes and attempts to produce the next
// complete frame.
func (p *Parser) Push(b []byte) ParseResult {
	p.buf.Write(b)
	return p.tryParse()
}

func (p *Parser) tryParse() ParseResult {
	if !p.prefaceSeen {
		data := p.buf.Bytes()
		if len(data) < len(preface) {
			return ParseResult{Status: NeedMore, Warnings: p.warnings}
		}
		if string(data[:len(preface)]) != preface {
			return ParseResult{Status: Error, Err: httperr.New(Type, httperr.KindInvalidPreface, 0, "client preface mismatch"), Warnings: p.drainWarnings()}
		}
		p.buf.Next(len(preface))
		p.prefaceSeen = true
	}

	for {
		frame, consumed, err := parseFrame(p.buf.Bytes(), p.maxFrameSize, &p.warnings)
		if err != nil {
			return ParseResult{Status: Error, Err: err, Warnings: p.drainWarnings()}
		}
		if frame == nil {
			return ParseResult{Status: NeedMore, Warnings: p.warnings}
		}
		p.buf.Next(consumed)

		attached, err := p.attachHeaderBlock(*frame)
		if err != nil {
			return ParseResult{Status: Error, Err: err, Warnings: p.drainWarnings()}
		}
		if attached == nil {
			// Header block still open: keep consuming frames already buffered.
			continue
		}
		return ParseResult{Status: Complete, Frame: attached, Warnings: p.drainWarnings()}
	}
}

func (p *Parser) drainWarnings() []httperr.Warning {
	w := p.warnings
	p.warnings = nil
	return w
}

// attachHeaderBlock handles HEADERS/CONTINUATION coalescing: a HEADERS
// frame without END_HEADERS (or a CONTINUATION without END_HEADERS)
// stashes its fragment and yields nothing until the block completes.
func (p *Parser) attachHeaderBlock(frame Frame) (*Frame, *httperr.Error) {
	switch frame.Header.Type {
	case FrameHeaders:
		return p.handleHeadersFrame(frame.Header, frame.Payload.Headers)
	case FrameContinuation:
		return p.handleContinuationFrame(frame.Header, frame.Payload.Continuation)
	default:
		return &frame, nil
	}
}

func (p *Parser) handleHeadersFrame(header FrameHeader, headers *HeadersFrame) (*Frame, *httperr.Error) {
	block := &pendingHeaderBlock{
		streamID:  header.StreamID,
		endStream: headers.EndStream,
		fragments: append([]byte(nil), headers.HeaderBlock...),
	}

	if headers.EndHeaders {
		decoded, err := p.hpack.Decode(block.fragments)
		if err != nil {
			return nil, err
		}
		return &Frame{
			Header: header,
			Payload: FramePayload{Headers: &HeadersFrame{
				EndStream:   headers.EndStream,
				EndHeaders:  true,
				HeaderBlock: block.fragments,
				Headers:     decoded,
			}},
		}, nil
	}

	p.headerBlock = block
	return nil, nil
}

func (p *Parser) handleContinuationFrame(header FrameHeader, fragment []byte) (*Frame, *httperr.Error) {
	pending := p.headerBlock
	if pending == nil {
		p.warnings = append(p.warnings, httperr.Warning{Kind: httperr.WarningHeadersContinuationMismatch})
		return &Frame{Header: header, Payload: FramePayload{Continuation: fragment}}, nil
	}
	p.headerBlock = nil

	if pending.streamID != header.StreamID {
		p.warnings = append(p.warnings, httperr.Warning{Kind: httperr.WarningHeadersContinuationMismatch})
	}

	pending.fragments = append(pending.fragments, fragment...)

	endHeaders := header.Flags&0x4 != 0
	if !endHeaders {
		p.headerBlock = pending
		return nil, nil
	}

	decoded, err := p.hpack.Decode(pending.fragments)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Header: FrameHeader{Length: header.Length, Type: FrameHeaders, Flags: header.Flags, StreamID: pending.streamID},
		Payload: FramePayload{Headers: &HeadersFrame{
			EndStream:   pending.endStream,
			EndHeaders:  true,
			HeaderBlock: pending.fragments,
			Headers:     decoded,
		}},
	}, nil
}

// parseFrame decodes one complete frame (header + payload) from data
// if fully buffered, else reports NeedMore via a nil frame.
func parseFrame(data []byte, maxFrameSize int, warnings *[]httperr.Warning) (*Frame, int, *httperr.Error) {
	if len(data) < frameHeaderLen {
		return nil, 0, nil
	}

	length := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
	rawType := data[3]
	flags := data[4]
	streamID := (uint32(data[5])<<24 | uint32(data[6])<<16 | uint32(data[7])<<8 | uint32(data[8])) & 0x7FFFFFFF

	if length > maxFrameSize {
		*warnings = append(*warnings, httperr.Warning{Kind: httperr.WarningFrameTooLarge})
	}

	total := frameHeaderLen + length
	if len(data) < total {
		return nil, 0, nil
	}

	payload := data[frameHeaderLen:total]
	frameType, known := frameTypeFromByte(rawType)
	if !known {
		*warnings = append(*warnings, httperr.Warning{Kind: httperr.WarningUnknownFrameType})
	}

	header := FrameHeader{Length: length, Type: frameType, RawType: rawType, Flags: flags, StreamID: streamID}

	fp, err := decodePayload(frameType, flags, streamID, payload)
	if err != nil {
		return nil, 0, err
	}

	return &Frame{Header: header, Payload: fp}, total, nil
}

func frameTypeFromByte(b uint8) (FrameType, bool) {
	switch b {
	case 0x0:
		return FrameData, true
	case 0x1:
		return FrameHeaders, true
	case 0x2:
		return FramePriority, true
	case 0x3:
		return FrameRstStream, true
	case 0x4:
		return FrameSettings, true
	case 0x5:
		return FramePushPromise, true
	case 0x6:
		return FramePing, true
	case 0x7:
		return FrameGoAway, true
	case 0x8:
		return FrameWindowUpdate, true
	case 0x9:
		return FrameContinuation, true
	default:
		return FrameUnknown, false
	}
}

func decodePayload(frameType FrameType, flags uint8, streamID uint32, payload []byte) (FramePayload, *httperr.Error) {
	switch frameType {
	case FrameData:
		return FramePayload{Data: &DataFrame{EndStream: flags&0x1 != 0, Payload: append([]byte(nil), payload...)}}, nil

	case FrameHeaders:
		return FramePayload{Headers: &HeadersFrame{
			EndStream:   flags&0x1 != 0,
			EndHeaders:  flags&0x4 != 0,
			HeaderBlock: append([]byte(nil), payload...),
		}}, nil

	case FramePriority:
		if len(payload) < 5 {
			return FramePayload{}, httperr.New(Type, httperr.KindIncompleteFrame, 0, "PRIORITY frame too short")
		}
		dep := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
		exclusive := dep&0x80000000 != 0
		return FramePayload{Priority: &PriorityFrame{
			StreamDependency: dep & 0x7FFFFFFF,
			Weight:           payload[4],
			Exclusive:        exclusive,
		}}, nil

	case FrameRstStream:
		if len(payload) < 4 {
			return FramePayload{}, httperr.New(Type, httperr.KindIncompleteFrame, 0, "RST_STREAM frame too short")
		}
		code := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
		return FramePayload{RstStream: &RstStreamFrame{ErrorCode: code}}, nil

	case FrameSettings:
		ack := flags&0x1 != 0
		if ack {
			return FramePayload{Settings: &SettingsFrame{Ack: true}}, nil
		}
		if len(payload)%6 != 0 {
			return FramePayload{}, httperr.New(Type, httperr.KindInvalidFrameHeader, 0, "SETTINGS payload not a multiple of 6")
		}
		var settings []Setting
		for i := 0; i < len(payload); i += 6 {
			id := uint16(payload[i])<<8 | uint16(payload[i+1])
			value := uint32(payload[i+2])<<24 | uint32(payload[i+3])<<16 | uint32(payload[i+4])<<8 | uint32(payload[i+5])
			settings = append(settings, Setting{ID: id, Value: value})
		}
		return FramePayload{Settings: &SettingsFrame{Settings: settings}}, nil

	case FramePing:
		if len(payload) != 8 {
			return FramePayload{}, httperr.New(Type, httperr.KindInvalidFrameHeader, 0, "PING payload must be 8 bytes")
		}
		var opaque [8]byte
		copy(opaque[:], payload)
		return FramePayload{Ping: &PingFrame{OpaqueData: opaque, Ack: flags&0x1 != 0}}, nil

	case FrameGoAway:
		if len(payload) < 8 {
			return FramePayload{}, httperr.New(Type, httperr.KindIncompleteFrame, 0, "GOAWAY frame too short")
		}
		last := (uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])) & 0x7FFFFFFF
		code := uint32(payload[4])<<24 | uint32(payload[5])<<16 | uint32(payload[6])<<8 | uint32(payload[7])
		return FramePayload{GoAway: &GoAwayFrame{LastStreamID: last, ErrorCode: code, DebugData: append([]byte(nil), payload[8:]...)}}, nil

	case FrameWindowUpdate:
		if len(payload) < 4 {
			return FramePayload{}, httperr.New(Type, httperr.KindIncompleteFrame, 0, "WINDOW_UPDATE frame too short")
		}
		inc := (uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])) & 0x7FFFFFFF
		return FramePayload{WindowUpdate: &WindowUpdateFrame{StreamID: streamID, Increment: inc}}, nil

	case FrameContinuation:
		return FramePayload{Continuation: append([]byte(nil), payload...)}, nil

	case FramePushPromise, FrameUnknown:
		return FramePayload{Raw: append([]byte(nil), payload...)}, nil

	default:
		return FramePayload{Raw: append([]byte(nil), payload...)}, nil
	}
}
