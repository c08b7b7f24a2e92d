package proxy

import (
	"bytes"
	"testing"
)

func TestChannelSinkDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(4)
	for seq := uint64(1); seq <= 3; seq++ {
		sink.Emit(Observation{Seq: seq})
	}
	for want := uint64(1); want <= 3; want++ {
		got := <-sink.Observations()
		if got.Seq != want {
			t.Fatalf("seq = %d, want %d", got.Seq, want)
		}
	}
}

func TestHeaderSection(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	got := headerSection(raw)
	want := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n")
	if !bytes.Equal(got, want) {
		t.Errorf("header section = %q", got)
	}

	partial := []byte("HTTP/1.1 200 OK\r\n")
	if !bytes.Equal(headerSection(partial), partial) {
		t.Errorf("expected raw bytes back when no terminator is present")
	}
}

func TestCaptureObservationBytesUnderLimit(t *testing.T) {
	raw := []byte("small payload")
	got, truncated := captureObservationBytes(raw, 1024)
	if truncated {
		t.Fatalf("expected no truncation under the limit")
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("captured = %q", got)
	}
}

func TestCaptureObservationBytesTruncatesOverLimit(t *testing.T) {
	raw := bytes.Repeat([]byte("x"), 100)
	got, truncated := captureObservationBytes(raw, 10)
	if !truncated {
		t.Fatalf("expected truncation over the limit")
	}
	if len(got) != 10 {
		t.Errorf("captured len = %d, want 10", len(got))
	}
}
