package http1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/limits"
)

// EventKind discriminates the tagged events emitted by the streaming
// parsers.
type EventKind int

const (
	EventHeaders EventKind = iota
	EventBodyBytes
	EventEndOfMessage
	EventExpectContinue
)

// bodyMode governs which body sub-state-machine is active once
// headers have been parsed.
type bodyMode int

const (
	modeNoBody bodyMode = iota
	modeContentLength
	modeChunked
	modeCloseDelimited
)

// chunkState is the nested state machine driving chunked body
// reassembly.
type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
	chunkDone
	chunkNone
)

type messageState int

const (
	stateHeaders messageState = iota
	stateBody
	stateDone
)

// ResponseFrameInfo carries the parsed response start line and
// headers, plus the computed body framing.
type ResponseFrameInfo struct {
	Version         Version
	StatusCode      int
	Reason          string
	Headers         []Header
	ContentLength   *int
	Chunked         bool
	CloseDelimited  bool
	ConnectionClose bool
}

// RequestFrameInfo carries the parsed request start line and headers,
// plus the computed body framing.
type RequestFrameInfo struct {
	Version         Version
	Method          string
	Target          string
	Headers         []Header
	ContentLength   *int
	Chunked         bool
	ConnectionClose bool
	ExpectContinue  bool
}

// ResponseStreamEvent is one event emitted by ResponseStream.Push.
type ResponseStreamEvent struct {
	Kind EventKind
	Info *ResponseFrameInfo
	Len  int
}

// RequestStreamEvent is one event emitted by RequestStream.Push.
type RequestStreamEvent struct {
	Kind EventKind
	Info *RequestFrameInfo
	Len  int
}

// ResponseStream is the response-side streaming/event parser: it
// emits Headers/BodyBytes/EndOfMessage events as bytes arrive instead
// of materializing the whole message.
type ResponseStream struct {
	buf        bytes.Buffer
	limits     limits.Limits
	state      messageState
	mode       bodyMode
	remaining  int64 // ContentLength countdown
	chunk      chunkState
	chunkLeft  int64
	closeDelim bool
	bodyTotal  int64
}

func NewResponseStream(l limits.Limits) *ResponseStream {
	return &ResponseStream{limits: l, chunk: chunkNone}
}

// Push feeds newly arrived bytes and returns the events they produce.
func (s *ResponseStream) Push(b []byte) ([]ResponseStreamEvent, *httperr.Error) {
	s.buf.Write(b)
	var events []ResponseStreamEvent

	if s.state == stateHeaders {
		data := s.buf.Bytes()
		headerEnd, found := findHeaderEnd(data)
		if !found {
			if len(data) > s.limits.MaxHeaderBytes {
				return events, httperr.New(Type, httperr.KindHeaderTooLarge, len(data), "response header block exceeds limit")
			}
			return events, nil
		}
		if headerEnd > s.limits.MaxHeaderBytes {
			return events, httperr.New(Type, httperr.KindHeaderTooLarge, headerEnd, "response header block exceeds limit")
		}
		lineEnd := bytes.Index(data, []byte("\r\n"))
		if lineEnd < 0 {
			return events, httperr.New(Type, httperr.KindInvalidStatusLine, 0, "missing CRLF after status line")
		}
		line, _, err := parseStatusLine(string(data[:lineEnd]))
		if err != nil {
			return events, err
		}
		headers, _ := parseHeaderLines(string(data[min(lineEnd+2, headerEnd):headerEnd]))
		info := buildResponseFrameInfo(line, headers)
		s.buf.Next(headerEnd + 4)

		s.mode, s.remaining, s.closeDelim = responseBodyMode(info)
		if s.mode == modeChunked {
			s.chunk = chunkSize
		}
		s.state = stateBody
		events = append(events, ResponseStreamEvent{Kind: EventHeaders, Info: info})

		if s.mode == modeNoBody {
			s.state = stateDone
			events = append(events, ResponseStreamEvent{Kind: EventEndOfMessage})
			return events, nil
		}
	}

	if s.state == stateBody {
		more, err := s.consumeBody(&events)
		if err != nil {
			return events, err
		}
		_ = more
	}

	return events, nil
}

// PushEOF signals the transport has closed. Only valid while in Body
// state with CloseDelimited framing (emits the final EndOfMessage);
// otherwise it is an error unless the message is already Done.
func (s *ResponseStream) PushEOF() ([]ResponseStreamEvent, *httperr.Error) {
	if s.state == stateDone {
		return nil, nil
	}
	if s.state == stateBody && s.mode == modeCloseDelimited {
		s.state = stateDone
		return []ResponseStreamEvent{{Kind: EventEndOfMessage}}, nil
	}
	return nil, httperr.New(Type, httperr.KindUnexpectedEOF, 0, "connection closed mid-message")
}

func (s *ResponseStream) consumeBody(events *[]ResponseStreamEvent) (bool, *httperr.Error) {
	switch s.mode {
	case modeContentLength:
		data := s.buf.Bytes()
		n := int64(len(data))
		if n > s.remaining {
			n = s.remaining
		}
		if n > 0 {
			s.buf.Next(int(n))
			s.remaining -= n
			*events = append(*events, ResponseStreamEvent{Kind: EventBodyBytes, Len: int(n)})
		}
		if s.remaining == 0 {
			s.state = stateDone
			*events = append(*events, ResponseStreamEvent{Kind: EventEndOfMessage})
		}
	case modeChunked:
		return s.consumeChunked(events)
	case modeCloseDelimited:
		data := s.buf.Bytes()
		if len(data) > 0 {
			s.buf.Next(len(data))
			*events = append(*events, ResponseStreamEvent{Kind: EventBodyBytes, Len: len(data)})
		}
	}
	return true, nil
}

func (s *ResponseStream) consumeChunked(events *[]ResponseStreamEvent) (bool, *httperr.Error) {
	for {
		data := s.buf.Bytes()
		switch s.chunk {
		case chunkSize:
			idx := bytes.Index(data, []byte("\r\n"))
			if idx < 0 {
				return false, nil
			}
			line := string(data[:idx])
			s.buf.Next(idx + 2)
			tok := line
			if semi := strings.IndexByte(tok, ';'); semi >= 0 {
				tok = tok[:semi]
			}
			tok = strings.TrimSpace(tok)
			tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
			if tok == "" {
				continue
			}
			size, err := strconv.ParseInt(tok, 16, 64)
			if err != nil || size < 0 {
				return false, httperr.New(Type, httperr.KindInvalidChunkSize, 0, "malformed chunk size")
			}
			if size == 0 {
				s.chunk = chunkTrailer
				continue
			}
			s.chunkLeft = size
			s.chunk = chunkData
		case chunkData:
			if len(data) == 0 {
				return false, nil
			}
			n := int64(len(data))
			if n > s.chunkLeft {
				n = s.chunkLeft
			}
			s.buf.Next(int(n))
			s.chunkLeft -= n
			s.bodyTotal += n
			if s.bodyTotal > int64(s.limits.MaxBodyBytes) {
				return false, httperr.New(Type, httperr.KindBodyTooLarge, int(s.bodyTotal), "chunked body exceeds limit")
			}
			if n > 0 {
				*events = append(*events, ResponseStreamEvent{Kind: EventBodyBytes, Len: int(n)})
			}
			if s.chunkLeft == 0 {
				s.chunk = chunkDataCRLF
			} else {
				return false, nil
			}
		case chunkDataCRLF:
			if len(data) < 2 {
				return false, nil
			}
			if data[0] != '\r' || data[1] != '\n' {
				return false, httperr.New(Type, httperr.KindInvalidChunkTerminator, 0, "chunk data not terminated by CRLF")
			}
			s.buf.Next(2)
			s.chunk = chunkSize
		case chunkTrailer:
			idx := bytes.Index(data, []byte("\r\n"))
			if idx < 0 {
				return false, nil
			}
			line := data[:idx]
			s.buf.Next(idx + 2)
			if len(line) == 0 {
				s.chunk = chunkDone
				s.state = stateDone
				*events = append(*events, ResponseStreamEvent{Kind: EventEndOfMessage})
				return true, nil
			}
		case chunkDone:
			return true, nil
		}
	}
}

func buildResponseFrameInfo(line StatusLine, headers []Header) *ResponseFrameInfo {
	info := &ResponseFrameInfo{Version: line.Version, StatusCode: line.StatusCode, Reason: line.Reason, Headers: headers}
	if cl, ok := HeaderByName(headers, "Content-Length"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(cl.Value)); err == nil && n >= 0 {
			info.ContentLength = &n
		}
	}
	info.Chunked = HeaderHasToken(headers, "Transfer-Encoding", "chunked")
	info.CloseDelimited = !info.Chunked && info.ContentLength == nil && !StatusHasNoBody(line.StatusCode)
	info.ConnectionClose = ResponseShouldClose(line.Version, headers)
	return info
}

// responseBodyMode computes the body sub-machine: NoBody takes
// priority over Chunked, which takes priority over ContentLength,
// which takes priority over CloseDelimited.
func responseBodyMode(info *ResponseFrameInfo) (bodyMode, int64, bool) {
	if StatusHasNoBody(info.StatusCode) || (info.ContentLength != nil && *info.ContentLength == 0) {
		return modeNoBody, 0, false
	}
	if info.Chunked {
		return modeChunked, 0, false
	}
	if info.ContentLength != nil {
		return modeContentLength, int64(*info.ContentLength), false
	}
	if info.CloseDelimited {
		return modeCloseDelimited, 0, true
	}
	return modeNoBody, 0, false
}

// RequestStream is the request-side streaming/event parser.
type RequestStream struct {
	buf       bytes.Buffer
	limits    limits.Limits
	state     messageState
	mode      bodyMode
	remaining int64
	chunk     chunkState
	chunkLeft int64
	bodyTotal int64
}

func NewRequestStream(l limits.Limits) *RequestStream {
	return &RequestStream{limits: l, chunk: chunkNone}
}

func (s *RequestStream) Push(b []byte) ([]RequestStreamEvent, *httperr.Error) {
	s.buf.Write(b)
	var events []RequestStreamEvent

	if s.state == stateHeaders {
		data := s.buf.Bytes()
		headerEnd, found := findHeaderEnd(data)
		if !found {
			if len(data) > s.limits.MaxHeaderBytes {
				return events, httperr.New(Type, httperr.KindHeaderTooLarge, len(data), "request header block exceeds limit")
			}
			return events, nil
		}
		if headerEnd > s.limits.MaxHeaderBytes {
			return events, httperr.New(Type, httperr.KindHeaderTooLarge, headerEnd, "request header block exceeds limit")
		}
		lineEnd := bytes.Index(data, []byte("\r\n"))
		if lineEnd < 0 {
			return events, httperr.New(Type, httperr.KindInvalidStartLine, 0, "missing CRLF after start line")
		}
		line, _, err := parseRequestLine(string(data[:lineEnd]))
		if err != nil {
			return events, err
		}
		headers, _ := parseHeaderLines(string(data[min(lineEnd+2, headerEnd):headerEnd]))
		info := buildRequestFrameInfo(line, headers)
		s.buf.Next(headerEnd + 4)

		s.mode, s.remaining = requestBodyMode(info)
		if s.mode == modeChunked {
			s.chunk = chunkSize
		}
		s.state = stateBody
		events = append(events, RequestStreamEvent{Kind: EventHeaders, Info: info})
		if info.ExpectContinue {
			events = append(events, RequestStreamEvent{Kind: EventExpectContinue})
		}

		if s.mode == modeNoBody {
			s.state = stateDone
			events = append(events, RequestStreamEvent{Kind: EventEndOfMessage})
			return events, nil
		}
	}

	if s.state == stateBody {
		if err := s.consumeBody(&events); err != nil {
			return events, err
		}
	}

	return events, nil
}

// PushEOF on the request side is always an error while still in Body
// state: requests never use close-delimited framing.
func (s *RequestStream) PushEOF() *httperr.Error {
	if s.state == stateBody {
		return httperr.New(Type, httperr.KindUnexpectedEOF, 0, "connection closed mid-request-body")
	}
	return nil
}

func (s *RequestStream) consumeBody(events *[]RequestStreamEvent) *httperr.Error {
	switch s.mode {
	case modeContentLength:
		data := s.buf.Bytes()
		n := int64(len(data))
		if n > s.remaining {
			n = s.remaining
		}
		if n > 0 {
			s.buf.Next(int(n))
			s.remaining -= n
			*events = append(*events, RequestStreamEvent{Kind: EventBodyBytes, Len: int(n)})
		}
		if s.remaining == 0 {
			s.state = stateDone
			*events = append(*events, RequestStreamEvent{Kind: EventEndOfMessage})
		}
	case modeChunked:
		for {
			data := s.buf.Bytes()
			switch s.chunk {
			case chunkSize:
				idx := bytes.Index(data, []byte("\r\n"))
				if idx < 0 {
					return nil
				}
				line := string(data[:idx])
				s.buf.Next(idx + 2)
				tok := line
				if semi := strings.IndexByte(tok, ';'); semi >= 0 {
					tok = tok[:semi]
				}
				tok = strings.TrimSpace(tok)
				tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
				if tok == "" {
					continue
				}
				size, err := strconv.ParseInt(tok, 16, 64)
				if err != nil || size < 0 {
					return httperr.New(Type, httperr.KindInvalidChunkSize, 0, "malformed chunk size")
				}
				if size == 0 {
					s.chunk = chunkTrailer
					continue
				}
				s.chunkLeft = size
				s.chunk = chunkData
			case chunkData:
				if len(data) == 0 {
					return nil
				}
				n := int64(len(data))
				if n > s.chunkLeft {
					n = s.chunkLeft
				}
				s.buf.Next(int(n))
				s.chunkLeft -= n
				s.bodyTotal += n
				if s.bodyTotal > int64(s.limits.MaxBodyBytes) {
					return httperr.New(Type, httperr.KindBodyTooLarge, int(s.bodyTotal), "chunked body exceeds limit")
				}
				if n > 0 {
					*events = append(*events, RequestStreamEvent{Kind: EventBodyBytes, Len: int(n)})
				}
				if s.chunkLeft == 0 {
					s.chunk = chunkDataCRLF
				} else {
					return nil
				}
			case chunkDataCRLF:
				if len(data) < 2 {
					return nil
				}
				if data[0] != '\r' || data[1] != '\n' {
					return httperr.New(Type, httperr.KindInvalidChunkTerminator, 0, "chunk data not terminated by CRLF")
				}
				s.buf.Next(2)
				s.chunk = chunkSize
			case chunkTrailer:
				idx := bytes.Index(data, []byte("\r\n"))
				if idx < 0 {
					return nil
				}
				line := data[:idx]
				s.buf.Next(idx + 2)
				if len(line) == 0 {
					s.chunk = chunkDone
					s.state = stateDone
					*events = append(*events, RequestStreamEvent{Kind: EventEndOfMessage})
					return nil
				}
			case chunkDone:
				return nil
			}
		}
	}
	return nil
}

func buildRequestFrameInfo(line RequestLine, headers []Header) *RequestFrameInfo {
	info := &RequestFrameInfo{Version: line.Version, Method: line.Method, Target: line.Target, Headers: headers}
	if cl, ok := HeaderByName(headers, "Content-Length"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(cl.Value)); err == nil && n >= 0 {
			info.ContentLength = &n
		}
	}
	info.Chunked = HeaderHasToken(headers, "Transfer-Encoding", "chunked")
	info.ConnectionClose = RequestShouldClose(line.Version, headers)
	info.ExpectContinue = HeaderHasToken(headers, "Expect", "100-continue")
	return info
}

// requestBodyMode: NoBody (Content-Length: 0) takes priority over
// Chunked, which takes priority over ContentLength. Requests never
// use CloseDelimited framing.
func requestBodyMode(info *RequestFrameInfo) (bodyMode, int64) {
	if info.ContentLength != nil && *info.ContentLength == 0 {
		return modeNoBody, 0
	}
	if info.Chunked {
		return modeChunked, 0
	}
	if info.ContentLength != nil {
		return modeContentLength, int64(*info.ContentLength)
	}
	return modeNoBody, 0
}

// RequestShouldClose: HTTP/1.0 closes unless Connection: keep-alive;
// otherwise stays open unless Connection: close. The orchestrator
// consults this to decide whether to keep a client connection open
// after an exchange.
func RequestShouldClose(v Version, headers []Header) bool {
	if v.Raw == "HTTP/1.0" {
		return !HeaderHasToken(headers, "Connection", "keep-alive")
	}
	return HeaderHasToken(headers, "Connection", "close")
}

// ResponseShouldClose mirrors RequestShouldClose for the response
// side (same rule for HTTP/1.0 vs 1.1/Other).
func ResponseShouldClose(v Version, headers []Header) bool {
	if v.Raw == "HTTP/1.0" {
		return !HeaderHasToken(headers, "Connection", "keep-alive")
	}
	return HeaderHasToken(headers, "Connection", "close")
}
