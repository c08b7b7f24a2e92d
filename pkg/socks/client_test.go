package socks

import (
	"bytes"
	"testing"
)

func TestBuildHandshakeRequest_NoAuth(t *testing.T) {
	got := BuildHandshakeRequest(V5, NoAuth())
	want := []byte{0x05, 0x01, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildHandshakeRequest_UserPass(t *testing.T) {
	got := BuildHandshakeRequest(V5, Auth{UserPass: true, Username: "user", Password: "pass"})
	want := []byte{0x05, 0x02, 0x00, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseHandshakeResponse(t *testing.T) {
	method, err := ParseHandshakeResponse([]byte{0x05, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != 0x00 {
		t.Errorf("method = %d, want 0", method)
	}
}

func TestBuildSocks5Connect_IPv4(t *testing.T) {
	got := BuildSocks5Connect(IPv4Address(127, 0, 0, 1), 8080)
	want := []byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1, 0x1f, 0x90}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildSocks4Connect_DomainSocks4a(t *testing.T) {
	got := BuildSocks4Connect(DomainAddress("example.com"), 80, "")
	want := []byte{
		0x04, 0x01, 0x00, 0x50, 0x00, 0x00, 0x00, 0x01, 0x00,
		'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm', 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseSocksResponse_SOCKS5IPv4(t *testing.T) {
	b := []byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0x1f, 0x90}
	resp, err := ParseSocksResponse(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Reply != ReplySucceeded {
		t.Errorf("reply = %v, want Succeeded", resp.Reply)
	}
}

func TestParseSocksResponse_SOCKS4VersionByteZeroOrFour(t *testing.T) {
	for _, versionByte := range []byte{0x00, 0x04} {
		b := []byte{versionByte, 0x5a, 0x00, 0x50, 127, 0, 0, 1}
		resp, err := ParseSocksResponse(b)
		if err != nil {
			t.Fatalf("version byte %#x: unexpected error: %v", versionByte, err)
		}
		if resp.Reply != ReplySucceeded {
			t.Errorf("version byte %#x: reply = %v, want Succeeded", versionByte, resp.Reply)
		}
	}
}

func TestResponseParser_AcrossBuffers(t *testing.T) {
	p := NewResponseParser()
	part1 := []byte{0x05, 0x00, 0x00, 0x01}
	part2 := []byte{127, 0, 0, 1, 0x00, 0x50}

	r1 := p.Push(part1)
	if r1.Status != NeedMore {
		t.Fatalf("expected NeedMore after part1, got %v", r1.Status)
	}
	r2 := p.Push(part2)
	if r2.Status != Complete {
		t.Fatalf("expected Complete after part2, got %v (err=%v)", r2.Status, r2.Err)
	}
	if r2.Response.Port != 80 {
		t.Errorf("port = %d, want 80", r2.Response.Port)
	}
}

func TestReplyCodeRoundTrip(t *testing.T) {
	codes := []struct {
		wire  byte
		reply Reply
	}{
		{0x00, ReplySucceeded}, {0x01, ReplyGeneralFailure}, {0x02, ReplyConnectionNotAllowed},
		{0x03, ReplyNetworkUnreachable}, {0x04, ReplyHostUnreachable}, {0x05, ReplyConnectionRefused},
		{0x06, ReplyTTLExpired}, {0x07, ReplyCommandNotSupported}, {0x08, ReplyAddressTypeNotSupported},
	}
	for _, c := range codes {
		b := []byte{0x05, c.wire, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
		resp, err := ParseSocksResponse(b)
		if err != nil {
			t.Fatalf("wire=%#x: unexpected error: %v", c.wire, err)
		}
		if resp.Reply != c.reply {
			t.Errorf("wire=%#x: reply = %v, want %v", c.wire, resp.Reply, c.reply)
		}
	}
}
