package http2

import (
	"testing"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

func TestParser_RequiresPreface(t *testing.T) {
	p := NewParser()
	result := p.Push([]byte("not preface"))
	if result.Status != NeedMore {
		t.Fatalf("expected NeedMore, got %v", result.Status)
	}
	result = p.Push([]byte("more data that completes the preface but is still wrong"))
	if result.Status != Error {
		t.Fatalf("expected Error once 24 bytes are buffered and mismatched, got %v", result.Status)
	}
}

func TestParser_SettingsFrame(t *testing.T) {
	p := NewParser()
	input := append([]byte(Preface), []byte{
		0x00, 0x00, 0x06, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, // header: len=6 type=SETTINGS
		0x00, 0x01, 0x00, 0x00, 0x10, 0x00, // one setting
	}...)
	result := p.Push(input)
	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v (err=%v)", result.Status, result.Err)
	}
	if result.Frame.Header.Length != 6 {
		t.Errorf("length = %d, want 6", result.Frame.Header.Length)
	}
	if result.Frame.Header.Type != FrameSettings {
		t.Errorf("type = %v, want FrameSettings", result.Frame.Header.Type)
	}
}

func TestParser_DataFrame(t *testing.T) {
	p := NewParser()
	input := append([]byte(Preface), []byte{
		0x00, 0x00, 0x05, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, // header: len=5 type=DATA stream=1
		'h', 'e', 'l', 'l', 'o',
	}...)
	result := p.Push(input)
	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v (err=%v)", result.Status, result.Err)
	}
	if string(result.Frame.Payload.Data.Payload) != "hello" {
		t.Errorf("payload = %q", result.Frame.Payload.Data.Payload)
	}
}

func TestParser_SettingsAckSkipsLengthCheck(t *testing.T) {
	p := NewParser()
	input := append([]byte(Preface), []byte{
		0x00, 0x00, 0x00, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, // SETTINGS ACK, len=0
	}...)
	result := p.Push(input)
	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v (err=%v)", result.Status, result.Err)
	}
	if !result.Frame.Payload.Settings.Ack {
		t.Errorf("expected Ack=true")
	}
}

func TestParser_PushPromiseIsKnownTypeNoWarning(t *testing.T) {
	p := NewParser()
	input := append([]byte(Preface), []byte{
		0x00, 0x00, 0x03, 0x05, 0x00, 0x00, 0x00, 0x00, 0x01, // PUSH_PROMISE, len=3
		0x01, 0x02, 0x03,
	}...)
	result := p.Push(input)
	if result.Status != Complete {
		t.Fatalf("expected Complete, got %v (err=%v)", result.Status, result.Err)
	}
	for _, w := range result.Warnings {
		if w.Kind == httperr.WarningUnknownFrameType {
			t.Errorf("PUSH_PROMISE should not warn as an unknown frame type")
		}
	}
	if result.Frame.Payload.Raw == nil {
		t.Errorf("expected PUSH_PROMISE to decode as Raw")
	}
}

func TestParser_HeadersContinuationCoalescing(t *testing.T) {
	enc := NewHpackEncoder()
	block := enc.Encode([]HeaderField{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/"}})

	split := len(block) / 2
	if split == 0 {
		split = 1
	}

	p := NewParser()
	var input []byte
	input = append(input, []byte(Preface)...)
	input = append(input, EncodeRawFrame(FrameHeaders, 0, 0x0, 1, block[:split])...) // no END_HEADERS
	input = append(input, EncodeRawFrame(FrameContinuation, 0, 0x4, 1, block[split:])...)

	var result ParseResult
	result = p.Push(input)
	if result.Status != Complete {
		t.Fatalf("expected Complete after CONTINUATION, got %v (err=%v)", result.Status, result.Err)
	}
	if result.Frame.Header.Type != FrameHeaders {
		t.Errorf("coalesced frame type = %v, want FrameHeaders", result.Frame.Header.Type)
	}
	if len(result.Frame.Payload.Headers.Headers) != 2 {
		t.Fatalf("expected 2 decoded headers, got %d", len(result.Frame.Payload.Headers.Headers))
	}
}

func TestEncodeDataFrames_SplitsAtMaxFrameSize(t *testing.T) {
	payload := make([]byte, 30)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := EncodeDataFrames(1, true, payload, 10)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	last := frames[len(frames)-1]
	if last[4]&0x1 == 0 {
		t.Errorf("expected END_STREAM flag on the final DATA frame")
	}
	for _, f := range frames[:len(frames)-1] {
		if f[4]&0x1 != 0 {
			t.Errorf("non-final DATA frame should not carry END_STREAM")
		}
	}
}

func TestEncodeDataFrames_EmptyPayloadStillEmitsOneFrame(t *testing.T) {
	frames := EncodeDataFrames(1, true, nil, 16*1024)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame for an empty DATA payload, got %d", len(frames))
	}
}

func TestEncodeHeadersFromBlock_EndStreamNeverOnContinuation(t *testing.T) {
	block := make([]byte, 25)
	frames := EncodeHeadersFromBlock(1, true, block, 10)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	// first frame: HEADERS, no END_HEADERS yet, but END_STREAM set
	if frames[0][3] != 0x1 {
		t.Errorf("first frame type = %d, want 0x1 (HEADERS)", frames[0][3])
	}
	if frames[0][4]&0x1 == 0 {
		t.Errorf("expected END_STREAM on first HEADERS frame")
	}
	if frames[0][4]&0x4 != 0 {
		t.Errorf("first frame should not have END_HEADERS yet")
	}
	for _, f := range frames[1:] {
		if f[3] != 0x9 {
			t.Errorf("continuation frame type = %d, want 0x9", f[3])
		}
		if f[4]&0x1 != 0 {
			t.Errorf("END_STREAM must never appear on a CONTINUATION frame")
		}
	}
	last := frames[len(frames)-1]
	if last[4]&0x4 == 0 {
		t.Errorf("expected END_HEADERS on the final fragment")
	}
}
