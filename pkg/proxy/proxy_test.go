package proxy

import (
	"strings"
	"testing"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/http1"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/limits"
)

func TestResolveTargetAbsoluteForm(t *testing.T) {
	host, port, path, query := resolveTarget("http://example.com:8000/foo/bar?x=1", nil)
	if host != "example.com" || port != 8000 || path != "/foo/bar" || query != "x=1" {
		t.Fatalf("got host=%q port=%d path=%q query=%q", host, port, path, query)
	}
}

func TestResolveTargetAbsoluteFormDefaultPort(t *testing.T) {
	host, port, path, _ := resolveTarget("https://example.com/", nil)
	if host != "example.com" || port != 443 || path != "/" {
		t.Fatalf("got host=%q port=%d path=%q", host, port, path)
	}
}

func TestResolveTargetOriginFormUsesHostHeader(t *testing.T) {
	headers := []http1.Header{{Name: "host", RawName: "Host", Value: "example.com:8080"}}
	host, port, path, query := resolveTarget("/a/b?q=2", headers)
	if host != "example.com" || port != 8080 || path != "/a/b" || query != "q=2" {
		t.Fatalf("got host=%q port=%d path=%q query=%q", host, port, path, query)
	}
}

func TestResolveTargetOriginFormMissingHostFails(t *testing.T) {
	host, _, _, _ := resolveTarget("/a/b", nil)
	if host != "" {
		t.Fatalf("expected empty host when Host header absent, got %q", host)
	}
}

func TestSplitHostPortExplicit(t *testing.T) {
	host, port := splitHostPort("example.com:9000")
	if host != "example.com" || port != 9000 {
		t.Fatalf("got host=%q port=%d", host, port)
	}
}

func TestSplitHostPortDefaultsTo443(t *testing.T) {
	host, port := splitHostPort("example.com")
	if host != "example.com" || port != 443 {
		t.Fatalf("got host=%q port=%d", host, port)
	}
}

func TestSerializeRequestPreservesRawHeaderCasingAndSynthesizesHost(t *testing.T) {
	req := &http1.Request{
		Line: http1.RequestLine{Method: "GET", Target: "/x", Version: http1.Http11()},
		Headers: []http1.Header{
			{Name: "user-agent", RawName: "User-Agent", Value: "test-client"},
		},
		Body: nil,
	}

	out := string(serializeRequest(req, "/x", "example.com"))
	if !strings.Contains(out, "GET /x HTTP/1.1\r\n") {
		t.Fatalf("missing request line, got %q", out)
	}
	if !strings.Contains(out, "User-Agent: test-client\r\n") {
		t.Fatalf("expected raw header casing preserved, got %q", out)
	}
	if !strings.Contains(out, "Host: example.com\r\n") {
		t.Fatalf("expected synthesized Host header, got %q", out)
	}
}

func TestSerializeRequestDoesNotDuplicateExistingHost(t *testing.T) {
	req := &http1.Request{
		Line: http1.RequestLine{Method: "GET", Target: "/x", Version: http1.Http11()},
		Headers: []http1.Header{
			{Name: "host", RawName: "Host", Value: "already-there.example"},
		},
	}

	out := string(serializeRequest(req, "/x", "example.com"))
	if strings.Count(out, "Host:") != 1 {
		t.Fatalf("expected exactly one Host header, got %q", out)
	}
}

func TestSerializeThenReparseRoundTrip(t *testing.T) {
	req := &http1.Request{
		Line: http1.RequestLine{Method: "POST", Target: "/submit", Version: http1.Http11()},
		Headers: []http1.Header{
			{Name: "host", RawName: "Host", Value: "example.com"},
			{Name: "content-length", RawName: "Content-Length", Value: "5"},
			{Name: "x-custom", RawName: "X-Custom", Value: "abc"},
		},
		Body: []byte("hello"),
	}

	wire := serializeRequest(req, "/submit", "example.com")

	parser := http1.NewRequestParser(limits.Default())
	result := parser.Push(wire)
	if result.Status != http1.Complete {
		t.Fatalf("expected Complete, got %v (err=%v)", result.Status, result.Err)
	}
	got := result.Request
	if got.Line.Method != "POST" || got.Line.Target != "/submit" {
		t.Errorf("start line = %+v", got.Line)
	}
	if len(got.Headers) != len(req.Headers) {
		t.Fatalf("headers len = %d, want %d", len(got.Headers), len(req.Headers))
	}
	for i, h := range req.Headers {
		if got.Headers[i].RawName != h.RawName || got.Headers[i].Value != h.Value {
			t.Errorf("header %d = %+v, want %+v", i, got.Headers[i], h)
		}
	}
	if string(got.Body) != "hello" {
		t.Errorf("body = %q", got.Body)
	}
}
