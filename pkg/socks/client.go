package socks

import "github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"

// BuildHandshakeRequest builds the SOCKS5 method-negotiation request
// (SOCKS4 has no handshake phase, so it returns an empty slice).
func BuildHandshakeRequest(version Version, auth Auth) []byte {
	if version == V4 {
		return nil
	}
	methods := []byte{0x00}
	if auth.UserPass {
		methods = []byte{0x00, 0x02}
	}
	buf := make([]byte, 0, 2+len(methods))
	buf = append(buf, 0x05, byte(len(methods)))
	buf = append(buf, methods...)
	return buf
}

// ParseHandshakeResponse returns the server-selected auth method byte.
func ParseHandshakeResponse(b []byte) (uint8, *httperr.Error) {
	if len(b) < 2 {
		return 0, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "handshake response truncated")
	}
	if b[0] != 0x05 {
		return 0, httperr.New(Type, httperr.KindInvalidVersion, 0, "unexpected handshake version byte")
	}
	return b[1], nil
}

// BuildSocks5Connect builds a SOCKS5 CONNECT request.
func BuildSocks5Connect(address Address, port uint16) []byte {
	buf := []byte{0x05, 0x01, 0x00}
	buf = append(buf, encodeAddress(address)...)
	buf = append(buf, byte(port>>8), byte(port))
	return buf
}

// BuildSocks4Connect builds a SOCKS4/4a CONNECT request. A Domain
// address triggers the SOCKS4a extension: the IPv4 field is the
// reserved placeholder 0.0.0.0 with a non-zero last octet, followed by
// the NUL-terminated user_id then the NUL-terminated domain name.
func BuildSocks4Connect(address Address, port uint16, userID string) []byte {
	buf := []byte{0x04, 0x01, byte(port >> 8), byte(port)}
	switch address.Kind {
	case AddressIPv4:
		buf = append(buf, address.IPv4[:]...)
		buf = append(buf, []byte(userID)...)
		buf = append(buf, 0x00)
	case AddressDomain:
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, []byte(userID)...)
		buf = append(buf, 0x00)
		buf = append(buf, []byte(address.Domain)...)
		buf = append(buf, 0x00)
	case AddressIPv6:
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, []byte(userID)...)
		buf = append(buf, 0x00)
		buf = append(buf, []byte("::")...)
		buf = append(buf, 0x00)
	}
	return buf
}

// ParseSocksResponse dispatches on the leading version byte: SOCKS4
// replies use 0x00 or 0x04 (both observed in the wild), SOCKS5 uses
// 0x05.
func ParseSocksResponse(b []byte) (*Response, *httperr.Error) {
	if len(b) == 0 {
		return nil, httperr.New(Type, httperr.KindUnexpectedEOF, 0, "empty response")
	}
	switch b[0] {
	case 0x00, 0x04:
		return parseSocks4Response(b)
	case 0x05:
		return parseSocks5Response(b)
	default:
		return nil, httperr.New(Type, httperr.KindInvalidVersion, 0, "unrecognized response version byte")
	}
}

func parseSocks4Response(b []byte) (*Response, *httperr.Error) {
	if len(b) < 8 {
		return nil, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "socks4 response truncated")
	}
	var reply Reply
	switch b[1] {
	case 0x5a:
		reply = ReplySucceeded
	case 0x5b:
		reply = ReplyGeneralFailure
	case 0x5c:
		reply = ReplyConnectionNotAllowed
	case 0x5d:
		reply = ReplyNetworkUnreachable
	default:
		reply = ReplyOther
	}
	port := uint16(b[2])<<8 | uint16(b[3])
	return &Response{
		Version:  V4,
		Reply:    reply,
		RawReply: b[1],
		Address:  IPv4Address(b[4], b[5], b[6], b[7]),
		Port:     port,
	}, nil
}

func parseSocks5Response(b []byte) (*Response, *httperr.Error) {
	if len(b) < 5 {
		return nil, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "socks5 response truncated")
	}
	if b[1] == 0xFF {
		return nil, httperr.New(Type, httperr.KindInvalidResponse, 1, "socks5 general failure")
	}
	reply := mapSocks5Reply(b[1])
	addrType := b[3]
	cursor := 4
	var addr Address
	switch addrType {
	case 0x01:
		if len(b) < cursor+4 {
			return nil, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "socks5 ipv4 address truncated")
		}
		addr = IPv4Address(b[cursor], b[cursor+1], b[cursor+2], b[cursor+3])
		cursor += 4
	case 0x03:
		if len(b) < cursor+1 {
			return nil, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "socks5 domain length truncated")
		}
		domLen := int(b[cursor])
		cursor++
		if len(b) < cursor+domLen {
			return nil, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "socks5 domain truncated")
		}
		addr = DomainAddress(string(b[cursor : cursor+domLen]))
		cursor += domLen
	case 0x04:
		if len(b) < cursor+16 {
			return nil, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "socks5 ipv6 address truncated")
		}
		var ip [16]byte
		copy(ip[:], b[cursor:cursor+16])
		addr = Address{Kind: AddressIPv6, IPv6: ip}
		cursor += 16
	default:
		return nil, httperr.New(Type, httperr.KindUnsupportedAddressType, cursor, "unsupported socks5 address type")
	}

	if len(b) < cursor+2 {
		return nil, httperr.New(Type, httperr.KindUnexpectedEOF, len(b), "socks5 port truncated")
	}
	port := uint16(b[cursor])<<8 | uint16(b[cursor+1])

	return &Response{Version: V5, Reply: reply, RawReply: b[1], Address: addr, Port: port}, nil
}

func mapSocks5Reply(code uint8) Reply {
	switch code {
	case 0x00:
		return ReplySucceeded
	case 0x01:
		return ReplyGeneralFailure
	case 0x02:
		return ReplyConnectionNotAllowed
	case 0x03:
		return ReplyNetworkUnreachable
	case 0x04:
		return ReplyHostUnreachable
	case 0x05:
		return ReplyConnectionRefused
	case 0x06:
		return ReplyTTLExpired
	case 0x07:
		return ReplyCommandNotSupported
	case 0x08:
		return ReplyAddressTypeNotSupported
	default:
		return ReplyOther
	}
}

func encodeAddress(address Address) []byte {
	switch address.Kind {
	case AddressIPv4:
		return append([]byte{0x01}, address.IPv4[:]...)
	case AddressDomain:
		buf := []byte{0x03, byte(len(address.Domain))}
		return append(buf, []byte(address.Domain)...)
	case AddressIPv6:
		return append([]byte{0x04}, address.IPv6[:]...)
	default:
		return nil
	}
}
