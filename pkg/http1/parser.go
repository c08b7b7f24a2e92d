package http1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/limits"
)

// Status is the terminal/non-terminal outcome of a push call.
type Status int

const (
	NeedMore Status = iota
	Complete
	Error
)

// RequestResult is returned by RequestParser.Push.
type RequestResult struct {
	Status   Status
	Request  *Request
	Warnings []httperr.Warning
	Err      *httperr.Error
}

// ResponseResult is returned by ResponseParser.Push.
type ResponseResult struct {
	Status   Status
	Response *Response
	Warnings []httperr.Warning
	Err      *httperr.Error
}

// RequestParser accumulates bytes pushed by the transport and yields
// a fully materialized Request once a complete message has arrived.
// Residual bytes (a pipelined next request) remain buffered for the
// next Push call.
type RequestParser struct {
	buf    bytes.Buffer
	limits limits.Limits
}

// NewRequestParser constructs a parser bounded by the given limits.
func NewRequestParser(l limits.Limits) *RequestParser {
	return &RequestParser{limits: l}
}

// Push feeds newly received bytes into the parser.
func (p *RequestParser) Push(b []byte) RequestResult {
	p.buf.Write(b)
	data := p.buf.Bytes()

	headerEnd, found := findHeaderEnd(data)
	if !found {
		if len(data) > p.limits.MaxHeaderBytes {
			return RequestResult{Status: Error, Err: httperr.New(Type, httperr.KindHeaderTooLarge, len(data), "request header block exceeds limit")}
		}
		return RequestResult{Status: NeedMore}
	}
	if headerEnd > p.limits.MaxHeaderBytes {
		return RequestResult{Status: Error, Err: httperr.New(Type, httperr.KindHeaderTooLarge, headerEnd, "request header block exceeds limit")}
	}

	lineEnd := bytes.Index(data, []byte("\r\n"))
	if lineEnd < 0 {
		return RequestResult{Status: Error, Err: httperr.New(Type, httperr.KindInvalidStartLine, 0, "missing CRLF after start line")}
	}
	line, warnings, err := parseRequestLine(string(data[:lineEnd]))
	if err != nil {
		return RequestResult{Status: Error, Err: err}
	}

	headerBlock := string(data[min(lineEnd+2, headerEnd):headerEnd])
	headers, hw := parseHeaderLines(headerBlock)
	warnings = append(warnings, hw...)

	bodyStart := headerEnd + 4
	body, consumed, berr := readBody(data[bodyStart:], headers, p.limits, false)
	if berr != nil {
		return RequestResult{Status: Error, Err: berr}
	}
	if consumed < 0 {
		return RequestResult{Status: NeedMore}
	}

	total := bodyStart + consumed
	p.buf.Next(total)

	return RequestResult{
		Status:   Complete,
		Request:  &Request{Line: line, Headers: headers, Body: body},
		Warnings: warnings,
	}
}

// ResponseParser is the response-side complete-message parser.
type ResponseParser struct {
	buf    bytes.Buffer
	limits limits.Limits
}

func NewResponseParser(l limits.Limits) *ResponseParser {
	return &ResponseParser{limits: l}
}

func (p *ResponseParser) Push(b []byte) ResponseResult {
	p.buf.Write(b)
	data := p.buf.Bytes()

	headerEnd, found := findHeaderEnd(data)
	if !found {
		if len(data) > p.limits.MaxHeaderBytes {
			return ResponseResult{Status: Error, Err: httperr.New(Type, httperr.KindHeaderTooLarge, len(data), "response header block exceeds limit")}
		}
		return ResponseResult{Status: NeedMore}
	}
	if headerEnd > p.limits.MaxHeaderBytes {
		return ResponseResult{Status: Error, Err: httperr.New(Type, httperr.KindHeaderTooLarge, headerEnd, "response header block exceeds limit")}
	}

	lineEnd := bytes.Index(data, []byte("\r\n"))
	if lineEnd < 0 {
		return ResponseResult{Status: Error, Err: httperr.New(Type, httperr.KindInvalidStatusLine, 0, "missing CRLF after status line")}
	}
	line, warnings, err := parseStatusLine(string(data[:lineEnd]))
	if err != nil {
		return ResponseResult{Status: Error, Err: err}
	}

	headerBlock := string(data[min(lineEnd+2, headerEnd):headerEnd])
	headers, hw := parseHeaderLines(headerBlock)
	warnings = append(warnings, hw...)

	bodyStart := headerEnd + 4
	body, consumed, berr := readBody(data[bodyStart:], headers, p.limits, StatusHasNoBody(line.StatusCode))
	if berr != nil {
		return ResponseResult{Status: Error, Err: berr}
	}
	if consumed < 0 {
		return ResponseResult{Status: NeedMore}
	}

	total := bodyStart + consumed
	p.buf.Next(total)

	return ResponseResult{
		Status:   Complete,
		Response: &Response{Line: line, Headers: headers, Body: body},
		Warnings: warnings,
	}
}

// findHeaderEnd locates the offset at which the "\r\n\r\n" terminator
// begins (the body starts 4 bytes later), or false if not yet
// present.
func findHeaderEnd(data []byte) (int, bool) {
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

func parseRequestLine(line string) (RequestLine, []httperr.Warning, *httperr.Error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return RequestLine{}, nil, httperr.New(Type, httperr.KindInvalidStartLine, 0, "request line must have 2 or 3 tokens")
	}
	method, target := fields[0], fields[1]
	versionTok := "HTTP/1.1"
	if len(fields) == 3 {
		versionTok = fields[2]
	}
	version, ok := parseVersion(versionTok)
	var warnings []httperr.Warning
	if !ok {
		warnings = append(warnings, httperr.Warning{Kind: httperr.WarningUnknownVersion, Message: versionTok})
	}
	return RequestLine{Method: method, Target: target, Version: version}, warnings, nil
}

func parseStatusLine(line string) (StatusLine, []httperr.Warning, *httperr.Error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, nil, httperr.New(Type, httperr.KindInvalidStatusLine, 0, "status line must have at least version and status code")
	}
	version, ok := parseVersion(parts[0])
	var warnings []httperr.Warning
	if !ok {
		warnings = append(warnings, httperr.Warning{Kind: httperr.WarningUnknownVersion, Message: parts[0]})
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, nil, httperr.New(Type, httperr.KindInvalidStatusLine, 0, "non-numeric status code")
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return StatusLine{Version: version, StatusCode: code, Reason: reason}, warnings, nil
}

// parseHeaderLines parses the header block (between the start line
// and the terminating blank line), handling obsolete line-folding.
func parseHeaderLines(block string) ([]Header, []httperr.Warning) {
	var headers []Header
	var warnings []httperr.Warning
	if block == "" {
		return headers, warnings
	}
	lines := strings.Split(block, "\r\n")
	for _, raw := range lines {
		if raw == "" {
			continue
		}
		if (raw[0] == ' ' || raw[0] == '\t') && len(headers) > 0 {
			headers[len(headers)-1].Value += " " + strings.TrimSpace(raw)
			warnings = append(warnings, httperr.Warning{Kind: httperr.WarningObsFoldDetected})
			continue
		}
		colon := strings.IndexByte(raw, ':')
		if colon < 0 {
			warnings = append(warnings, httperr.Warning{Kind: httperr.WarningInvalidHeaderName, Message: raw})
			continue
		}
		rawName := raw[:colon]
		name := strings.TrimSpace(rawName)
		value := strings.TrimSpace(raw[colon+1:])
		if name == "" {
			warnings = append(warnings, httperr.Warning{Kind: httperr.WarningInvalidHeaderName})
		}
		if strings.ContainsAny(value, "\r\n") {
			warnings = append(warnings, httperr.Warning{Kind: httperr.WarningInvalidHeaderValue})
		}
		headers = append(headers, Header{Name: name, RawName: rawName, Value: value})
	}
	return headers, warnings
}

// readBody determines body framing from the parsed headers and
// attempts to consume it from data. Returns (body, bytesConsumed,
// err); bytesConsumed is -1 if more data is needed.
func readBody(data []byte, headers []Header, l limits.Limits, noBody bool) ([]byte, int, *httperr.Error) {
	if noBody {
		return nil, 0, nil
	}

	if HeaderHasToken(headers, "Transfer-Encoding", "chunked") {
		return readChunkedBody(data, l)
	}

	if cl, ok := HeaderByName(headers, "Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl.Value))
		if err != nil || n < 0 {
			return nil, 0, nil
		}
		if n > l.MaxBodyBytes {
			return nil, 0, httperr.New(Type, httperr.KindBodyTooLarge, n, "content-length exceeds limit")
		}
		if len(data) < n {
			return nil, -1, nil
		}
		return append([]byte(nil), data[:n]...), n, nil
	}

	return nil, 0, nil
}

// readChunkedBody fully reassembles a chunked body: hex size line
// (tolerating ";ext" extensions and a stray "0x" prefix), data,
// trailing CRLF, terminated by a zero-size chunk and an empty
// trailer line.
func readChunkedBody(data []byte, l limits.Limits) ([]byte, int, *httperr.Error) {
	var body []byte
	pos := 0
	for {
		lineEnd := bytes.Index(data[pos:], []byte("\r\n"))
		if lineEnd < 0 {
			return nil, -1, nil
		}
		sizeLine := string(data[pos : pos+lineEnd])
		pos += lineEnd + 2

		sizeTok := sizeLine
		if idx := strings.IndexByte(sizeTok, ';'); idx >= 0 {
			sizeTok = sizeTok[:idx]
		}
		sizeTok = strings.TrimSpace(sizeTok)
		sizeTok = strings.TrimPrefix(strings.TrimPrefix(sizeTok, "0x"), "0X")
		if sizeTok == "" {
			// Keep-alive noise between chunks; skip the line.
			continue
		}
		size, err := strconv.ParseInt(sizeTok, 16, 64)
		if err != nil || size < 0 {
			return nil, 0, httperr.New(Type, httperr.KindInvalidChunkSize, pos, "malformed chunk size")
		}

		if size == 0 {
			// Consume trailer lines until an empty one.
			for {
				trailerEnd := bytes.Index(data[pos:], []byte("\r\n"))
				if trailerEnd < 0 {
					return nil, -1, nil
				}
				trailerLine := data[pos : pos+trailerEnd]
				pos += trailerEnd + 2
				if len(trailerLine) == 0 {
					break
				}
			}
			if len(body) > l.MaxBodyBytes {
				return nil, 0, httperr.New(Type, httperr.KindBodyTooLarge, len(body), "chunked body exceeds limit")
			}
			return body, pos, nil
		}

		if int64(len(data)-pos) < size+2 {
			return nil, -1, nil
		}
		body = append(body, data[pos:pos+int(size)]...)
		if len(body) > l.MaxBodyBytes {
			return nil, 0, httperr.New(Type, httperr.KindBodyTooLarge, len(body), "chunked body exceeds limit")
		}
		pos += int(size)
		if data[pos] != '\r' || data[pos+1] != '\n' {
			return nil, 0, httperr.New(Type, httperr.KindInvalidChunkTerminator, pos, "chunk data not terminated by CRLF")
		}
		pos += 2
	}
}
