package http2

import (
	"bytes"

	"golang.org/x/net/http2/hpack"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

// HpackDecoder wraps x/net/http2/hpack's stateful Decoder, translating
// its HeaderField into this package's HeaderField and its errors into
// the engine's structured taxonomy.
type HpackDecoder struct {
	inner        *hpack.Decoder
	maxTableSize uint32
	emitted      []HeaderField
}

func NewHpackDecoder() *HpackDecoder {
	d := &HpackDecoder{}
	d.inner = hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		d.emitted = append(d.emitted, HeaderField{Name: f.Name, Value: f.Value})
	})
	return d
}

func (d *HpackDecoder) SetMaxTableSize(size uint32) {
	d.inner.SetMaxDynamicTableSize(size)
	d.maxTableSize = size
}

func (d *HpackDecoder) MaxTableSize() uint32 { return d.maxTableSize }

// Decode parses a complete header block (already reassembled across
// any HEADERS+CONTINUATION fragments) into its header fields.
func (d *HpackDecoder) Decode(block []byte) ([]HeaderField, *httperr.Error) {
	d.emitted = d.emitted[:0]
	if _, err := d.inner.Write(block); err != nil {
		return nil, httperr.Wrap(Type, httperr.KindHpackDecode, 0, "hpack decode failed", err)
	}
	out := make([]HeaderField, len(d.emitted))
	copy(out, d.emitted)
	return out, nil
}

// HpackEncoder wraps x/net/http2/hpack's Encoder for producing a
// header block to split across HEADERS+CONTINUATION frames.
type HpackEncoder struct {
	buf   bytes.Buffer
	inner *hpack.Encoder
}

func NewHpackEncoder() *HpackEncoder {
	e := &HpackEncoder{}
	e.inner = hpack.NewEncoder(&e.buf)
	return e
}

func (e *HpackEncoder) Encode(headers []HeaderField) []byte {
	e.buf.Reset()
	for _, h := range headers {
		_ = e.inner.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value})
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out
}
