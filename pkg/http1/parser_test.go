package http1

import (
	"testing"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/limits"
)

func TestRequestParser_Http10Request(t *testing.T) {
	p := NewRequestParser(limits.Default())
	result := p.Push([]byte("GET / HTTP/1.0\r\nHost: example.com\r\n\r\n"))

	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v (err=%v)", result.Status, result.Err)
	}
	if result.Request.Line.Method != "GET" {
		t.Errorf("method = %q", result.Request.Line.Method)
	}
	if result.Request.Line.Target != "/" {
		t.Errorf("target = %q", result.Request.Line.Target)
	}
	if result.Request.Line.Version.Raw != "HTTP/1.0" {
		t.Errorf("version = %q", result.Request.Line.Version.Raw)
	}
	if len(result.Request.Headers) != 1 {
		t.Fatalf("headers len = %d, want 1", len(result.Request.Headers))
	}
}

func TestResponseParser_ChunkedBody(t *testing.T) {
	p := NewResponseParser(limits.Default())
	input := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	result := p.Push([]byte(input))

	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v (err=%v)", result.Status, result.Err)
	}
	if string(result.Response.Body) != "hello" {
		t.Errorf("body = %q, want %q", result.Response.Body, "hello")
	}
}

func TestRequestParser_SplitResilience(t *testing.T) {
	full := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	for split := 1; split < len(full); split++ {
		p := NewRequestParser(limits.Default())
		r1 := p.Push([]byte(full[:split]))
		var final RequestResult
		if r1.Status == Complete {
			final = r1
		} else {
			final = p.Push([]byte(full[split:]))
		}
		if final.Status != Complete {
			t.Fatalf("split at %d: expected eventual Complete, got %v", split, final.Status)
		}
		if string(final.Request.Body) != "hello" {
			t.Errorf("split at %d: body = %q", split, final.Request.Body)
		}
	}
}

func TestRequestParser_HeaderTooLarge(t *testing.T) {
	l := limits.Limits{MaxHeaderBytes: 16, MaxBodyBytes: 1024}
	p := NewRequestParser(l)
	result := p.Push([]byte("GET /a-very-long-target-path-indeed HTTP/1.1\r\n"))
	if result.Status != Error {
		t.Fatalf("expected Error, got %v", result.Status)
	}
}

func TestRequestParser_UnknownVersionWarning(t *testing.T) {
	p := NewRequestParser(limits.Default())
	result := p.Push([]byte("GET / HTTP/9.9\r\nHost: x\r\n\r\n"))
	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v", result.Status)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Kind == httperr.WarningUnknownVersion {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unknown_version warning, got %v", result.Warnings)
	}
}

func TestRequestParser_ObsFold(t *testing.T) {
	p := NewRequestParser(limits.Default())
	result := p.Push([]byte("GET / HTTP/1.1\r\nX-Long: first\r\n second\r\n\r\n"))
	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v", result.Status)
	}
	if result.Request.Headers[0].Value != "first second" {
		t.Errorf("value = %q", result.Request.Headers[0].Value)
	}
}

func TestRequestParser_AbsoluteFormTargetPreserved(t *testing.T) {
	p := NewRequestParser(limits.Default())
	result := p.Push([]byte("GET http://example.com/path?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v", result.Status)
	}
	if result.Request.Line.Target != "http://example.com/path?x=1" {
		t.Errorf("target = %q", result.Request.Line.Target)
	}
}
