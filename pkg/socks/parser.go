package socks

import "github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"

type Status int

const (
	NeedMore Status = iota
	Complete
	Error
)

type ParseResult struct {
	Status   Status
	Response *Response
	Err      *httperr.Error
}

// ResponseParser incrementally accumulates bytes and re-attempts a
// full SOCKS response parse on each push; a truncation-shaped error is
// treated as NeedMore rather than a hard failure, mirroring the
// one-shot parse_socks_response re-run strategy.
type ResponseParser struct {
	buf []byte
}

func NewResponseParser() *ResponseParser { return &ResponseParser{} }

func (p *ResponseParser) Push(b []byte) ParseResult {
	p.buf = append(p.buf, b...)
	resp, err := ParseSocksResponse(p.buf)
	if err == nil {
		return ParseResult{Status: Complete, Response: resp}
	}
	if err.Kind == httperr.KindUnexpectedEOF {
		return ParseResult{Status: NeedMore}
	}
	return ParseResult{Status: Error, Err: err}
}
