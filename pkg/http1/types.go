// Package http1 implements the HTTP/1.1 message parsers: a
// complete-message parser that materializes a full Request or
// Response, and a streaming parser that emits events as bytes arrive
// so bodies can be forwarded without full buffering.
package http1

import (
	"strings"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

// Version preserves any unrecognized protocol token verbatim so it
// can be forwarded rather than rejected.
type Version struct {
	Major int
	Minor int
	Other string // set when the token didn't parse as HTTP/1.x
	Raw   string // the exact token as seen on the wire
}

// Http10 and Http11 are the two recognized versions; anything else is
// carried in Version.Other/Raw.
func Http10() Version { return Version{Major: 1, Minor: 0, Raw: "HTTP/1.0"} }
func Http11() Version { return Version{Major: 1, Minor: 1, Raw: "HTTP/1.1"} }

// IsOther reports whether this version fell outside HTTP/1.0/1.1.
func (v Version) IsOther() bool { return v.Other != "" }

func (v Version) String() string {
	if v.IsOther() {
		return v.Other
	}
	return v.Raw
}

func parseVersion(tok string) (Version, bool) {
	switch tok {
	case "HTTP/1.0":
		return Http10(), true
	case "HTTP/1.1":
		return Http11(), true
	default:
		return Version{Other: tok, Raw: tok}, false
	}
}

// Header preserves both the canonical (trimmed, used for
// case-insensitive comparison) and raw (original casing, used for
// on-the-wire re-emission) name.
type Header struct {
	Name    string // canonical/trimmed
	RawName string // original casing
	Value   string
}

// RequestLine is the parsed "METHOD target VERSION" start line.
type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

// StatusLine is the parsed "VERSION status reason" start line.
type StatusLine struct {
	Version    Version
	StatusCode int
	Reason     string
}

// Request is a fully materialized HTTP/1 request.
type Request struct {
	Line    RequestLine
	Headers []Header
	Body    []byte
}

// Response is a fully materialized HTTP/1 response.
type Response struct {
	Line    StatusLine
	Headers []Header
	Body    []byte
}

// HeaderByName returns the first header matching name
// case-insensitively, and whether it was found.
func HeaderByName(headers []Header, name string) (Header, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h, true
		}
	}
	return Header{}, false
}

// HeaderHasToken reports whether header `name`'s comma-separated
// value list contains `token`, case-insensitively on both sides.
func HeaderHasToken(headers []Header, name, token string) bool {
	for _, h := range headers {
		if !strings.EqualFold(h.Name, name) {
			continue
		}
		for _, part := range strings.Split(h.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// StatusHasNoBody reports whether a response status code never
// carries a body: 1xx, 204, 304.
func StatusHasNoBody(status int) bool {
	return status/100 == 1 || status == 204 || status == 304
}

// Type is the error category shared by the complete-message and
// streaming parsers.
const (
	Type = httperr.TypeParseHTTP1
)
