package http1

import (
	"testing"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/limits"
)

func TestResponseStream_ChunkReassembly(t *testing.T) {
	s := NewResponseStream(limits.Default())
	input := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"

	var total int
	var sawEnd bool
	for i := 0; i < len(input); i++ {
		events, err := s.Push([]byte{input[i]})
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		for _, e := range events {
			if e.Kind == EventBodyBytes {
				total += e.Len
			}
			if e.Kind == EventEndOfMessage {
				sawEnd = true
			}
		}
	}
	if total != len("hello world") {
		t.Errorf("total body bytes = %d, want %d", total, len("hello world"))
	}
	if !sawEnd {
		t.Errorf("expected a terminal EndOfMessage event")
	}
}

func TestResponseStream_CloseDelimited(t *testing.T) {
	s := NewResponseStream(limits.Default())
	events, err := s.Push([]byte("HTTP/1.1 200 OK\r\n\r\nsome body bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	foundHeaders := false
	for _, e := range events {
		if e.Kind == EventHeaders {
			foundHeaders = true
			if !e.Info.CloseDelimited {
				t.Errorf("expected CloseDelimited framing")
			}
		}
		if e.Kind == EventEndOfMessage {
			t.Errorf("EndOfMessage should not fire before PushEOF for close-delimited bodies")
		}
	}
	if !foundHeaders {
		t.Fatalf("expected a Headers event")
	}
	final, err := s.PushEOF()
	if err != nil {
		t.Fatalf("unexpected error on PushEOF: %v", err)
	}
	if len(final) != 1 || final[0].Kind != EventEndOfMessage {
		t.Errorf("expected a single EndOfMessage from PushEOF, got %v", final)
	}
}

func TestRequestStream_ExpectContinue(t *testing.T) {
	s := NewRequestStream(limits.Default())
	events, err := s.Push([]byte("POST /x HTTP/1.1\r\nHost: h\r\nExpect: 100-continue\r\nContent-Length: 0\r\n\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sawExpect bool
	for _, e := range events {
		if e.Kind == EventExpectContinue {
			sawExpect = true
		}
	}
	if !sawExpect {
		t.Errorf("expected ExpectContinue event, got %v", events)
	}
}

func TestRequestStream_PushEOFMidBodyErrors(t *testing.T) {
	s := NewRequestStream(limits.Default())
	if _, err := s.Push([]byte("POST /x HTTP/1.1\r\nHost: h\r\nContent-Length: 10\r\n\r\nabc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.PushEOF(); err == nil {
		t.Errorf("expected an error calling PushEOF mid-body")
	}
}

func TestKeepAliveDecision(t *testing.T) {
	cases := []struct {
		name    string
		version string
		conn    string
		close   bool
	}{
		{"http10 default closes", "HTTP/1.0", "", true},
		{"http10 keep-alive stays open", "HTTP/1.0", "keep-alive", false},
		{"http11 default stays open", "HTTP/1.1", "", false},
		{"http11 close header closes", "HTTP/1.1", "close", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var headers []Header
			if c.conn != "" {
				headers = append(headers, Header{Name: "Connection", RawName: "Connection", Value: c.conn})
			}
			v, _ := parseVersion(c.version)
			got := RequestShouldClose(v, headers)
			if got != c.close {
				t.Errorf("RequestShouldClose() = %v, want %v", got, c.close)
			}
		})
	}
}
