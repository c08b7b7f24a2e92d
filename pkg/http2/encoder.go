package http2

const DefaultMaxFrameSize = 16 * 1024

// EncodeFrames serializes a Frame into one or more on-wire frames,
// splitting DATA and HEADERS+CONTINUATION payloads that exceed
// maxFrameSize.
func EncodeFrames(frame *Frame, encoder *HpackEncoder, maxFrameSize int) [][]byte {
	streamID := frame.Header.StreamID
	p := frame.Payload
	switch frame.Header.Type {
	case FrameData:
		return EncodeDataFrames(streamID, p.Data.EndStream, p.Data.Payload, maxFrameSize)
	case FrameHeaders:
		return EncodeHeadersFromFields(streamID, p.Headers.EndStream, p.Headers.Headers, encoder, maxFrameSize)
	case FramePriority:
		return [][]byte{EncodePriorityFrame(streamID, p.Priority)}
	case FrameRstStream:
		return [][]byte{EncodeRstStreamFrame(streamID, p.RstStream)}
	case FrameSettings:
		return [][]byte{EncodeSettingsFrame(p.Settings)}
	case FramePing:
		return [][]byte{EncodePingFrame(p.Ping)}
	case FrameGoAway:
		return [][]byte{EncodeGoAwayFrame(p.GoAway)}
	case FrameWindowUpdate:
		return [][]byte{EncodeWindowUpdateFrame(p.WindowUpdate)}
	case FrameContinuation:
		return [][]byte{EncodeRawFrame(FrameContinuation, 0, frame.Header.Flags, streamID, p.Continuation)}
	default:
		return [][]byte{EncodeRawFrame(frame.Header.Type, frame.Header.RawType, frame.Header.Flags, streamID, p.Raw)}
	}
}

// EncodeHeadersFromFields HPACK-encodes headers then splits the
// resulting block across HEADERS+CONTINUATION frames.
func EncodeHeadersFromFields(streamID uint32, endStream bool, headers []HeaderField, encoder *HpackEncoder, maxFrameSize int) [][]byte {
	block := encoder.Encode(headers)
	return EncodeHeadersFromBlock(streamID, endStream, block, maxFrameSize)
}

// EncodeHeadersFromBlock splits an already-HPACK-encoded header block
// across HEADERS+CONTINUATION frames. END_HEADERS is set only on the
// final fragment; END_STREAM is set only on the HEADERS frame itself,
// never on a CONTINUATION, even when the block is zero-length.
func EncodeHeadersFromBlock(streamID uint32, endStream bool, headerBlock []byte, maxFrameSize int) [][]byte {
	var frames [][]byte
	offset := 0
	total := len(headerBlock)
	first := true

	for offset < total || (total == 0 && first) {
		remaining := total - offset
		if remaining < 0 {
			remaining = 0
		}
		chunkLen := remaining
		if chunkLen > maxFrameSize {
			chunkLen = maxFrameSize
		}
		endHeaders := offset+chunkLen >= total
		payload := headerBlock[offset : offset+chunkLen]

		var frameType FrameType
		var flags uint8
		if first {
			frameType = FrameHeaders
			if endHeaders {
				flags |= 0x4
			}
			if endStream {
				flags |= 0x1
			}
		} else {
			frameType = FrameContinuation
			if endHeaders {
				flags |= 0x4
			}
		}
		frames = append(frames, EncodeRawFrame(frameType, 0, flags, streamID, payload))
		offset += chunkLen
		first = false
		if total == 0 {
			break
		}
	}

	return frames
}

// EncodeDataFrames splits payload across DATA frames no larger than
// maxFrameSize; a zero-length payload still emits one empty frame.
func EncodeDataFrames(streamID uint32, endStream bool, payload []byte, maxFrameSize int) [][]byte {
	total := len(payload)
	if total == 0 {
		var flags uint8
		if endStream {
			flags = 0x1
		}
		return [][]byte{EncodeRawFrame(FrameData, 0, flags, streamID, nil)}
	}

	var frames [][]byte
	offset := 0
	for offset < total {
		remaining := total - offset
		chunkLen := remaining
		if chunkLen > maxFrameSize {
			chunkLen = maxFrameSize
		}
		end := offset + chunkLen
		isLast := end >= total
		var flags uint8
		if endStream && isLast {
			flags = 0x1
		}
		frames = append(frames, EncodeRawFrame(FrameData, 0, flags, streamID, payload[offset:end]))
		offset = end
	}
	return frames
}

func EncodeSettingsFrame(f *SettingsFrame) []byte {
	if f.Ack {
		return EncodeRawFrame(FrameSettings, 0, 0x1, 0, nil)
	}
	payload := make([]byte, 0, len(f.Settings)*6)
	for _, s := range f.Settings {
		payload = append(payload, byte(s.ID>>8), byte(s.ID))
		payload = append(payload, byte(s.Value>>24), byte(s.Value>>16), byte(s.Value>>8), byte(s.Value))
	}
	return EncodeRawFrame(FrameSettings, 0, 0, 0, payload)
}

func EncodePingFrame(f *PingFrame) []byte {
	var flags uint8
	if f.Ack {
		flags = 0x1
	}
	return EncodeRawFrame(FramePing, 0, flags, 0, f.OpaqueData[:])
}

func EncodeGoAwayFrame(f *GoAwayFrame) []byte {
	payload := make([]byte, 0, 8+len(f.DebugData))
	last := f.LastStreamID & 0x7FFFFFFF
	payload = append(payload, byte(last>>24), byte(last>>16), byte(last>>8), byte(last))
	payload = append(payload, byte(f.ErrorCode>>24), byte(f.ErrorCode>>16), byte(f.ErrorCode>>8), byte(f.ErrorCode))
	payload = append(payload, f.DebugData...)
	return EncodeRawFrame(FrameGoAway, 0, 0, 0, payload)
}

func EncodeWindowUpdateFrame(f *WindowUpdateFrame) []byte {
	inc := f.Increment & 0x7FFFFFFF
	payload := []byte{byte(inc >> 24), byte(inc >> 16), byte(inc >> 8), byte(inc)}
	return EncodeRawFrame(FrameWindowUpdate, 0, 0, f.StreamID, payload)
}

func EncodePriorityFrame(streamID uint32, f *PriorityFrame) []byte {
	dep := f.StreamDependency & 0x7FFFFFFF
	if f.Exclusive {
		dep |= 0x80000000
	}
	payload := []byte{byte(dep >> 24), byte(dep >> 16), byte(dep >> 8), byte(dep), f.Weight}
	return EncodeRawFrame(FramePriority, 0, 0, streamID, payload)
}

func EncodeRstStreamFrame(streamID uint32, f *RstStreamFrame) []byte {
	c := f.ErrorCode
	payload := []byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)}
	return EncodeRawFrame(FrameRstStream, 0, 0, streamID, payload)
}

// EncodeRawFrame packs the 9-byte frame header followed by payload.
// rawType is only consulted for FrameUnknown (it carries the original
// wire type byte); every known FrameType maps to its fixed type id.
func EncodeRawFrame(frameType FrameType, rawType uint8, flags uint8, streamID uint32, payload []byte) []byte {
	frame := make([]byte, 0, 9+len(payload))
	frame = append(frame, encodeFrameHeader(len(payload), frameTypeID(frameType, rawType), flags, streamID)...)
	frame = append(frame, payload...)
	return frame
}

func encodeFrameHeader(length int, frameType uint8, flags uint8, streamID uint32) []byte {
	if length > 0x00FFFFFF {
		length = 0x00FFFFFF
	}
	streamID &= 0x7FFFFFFF
	return []byte{
		byte(length >> 16), byte(length >> 8), byte(length),
		frameType,
		flags,
		byte(streamID >> 24), byte(streamID >> 16), byte(streamID >> 8), byte(streamID),
	}
}

func frameTypeID(frameType FrameType, rawType uint8) uint8 {
	switch frameType {
	case FrameData:
		return 0x0
	case FrameHeaders:
		return 0x1
	case FramePriority:
		return 0x2
	case FrameRstStream:
		return 0x3
	case FrameSettings:
		return 0x4
	case FramePushPromise:
		return 0x5
	case FramePing:
		return 0x6
	case FrameGoAway:
		return 0x7
	case FrameWindowUpdate:
		return 0x8
	case FrameContinuation:
		return 0x9
	default:
		return rawType
	}
}
