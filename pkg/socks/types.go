// Package socks implements SOCKS4, SOCKS4a, and SOCKS5 request/
// response codecs, hand-rolled rather than built on
// golang.org/x/net/proxy so each byte-level step stays independently
// testable against upstream handshakes the proxy orchestrator drives
// itself.
package socks

import "github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"

const Type = httperr.TypeSocks

type Version int

const (
	V4 Version = iota
	V5
)

type Command int

const (
	CommandConnect Command = iota
)

// AddressKind discriminates the three ways a target can be addressed.
type AddressKind int

const (
	AddressIPv4 AddressKind = iota
	AddressIPv6
	AddressDomain
)

// Address carries exactly the fields relevant to its Kind.
type Address struct {
	Kind   AddressKind
	IPv4   [4]byte
	IPv6   [16]byte
	Domain string
}

func IPv4Address(a, b, c, d byte) Address {
	return Address{Kind: AddressIPv4, IPv4: [4]byte{a, b, c, d}}
}

func DomainAddress(domain string) Address {
	return Address{Kind: AddressDomain, Domain: domain}
}

type Request struct {
	Version Version
	Command Command
	Address Address
	Port    uint16
}

// Reply is the normalized, tagged reply-code enum shared by SOCKS4 and
// SOCKS5 responses.
type Reply int

const (
	ReplySucceeded Reply = iota
	ReplyGeneralFailure
	ReplyConnectionNotAllowed
	ReplyNetworkUnreachable
	ReplyHostUnreachable
	ReplyConnectionRefused
	ReplyTTLExpired
	ReplyCommandNotSupported
	ReplyAddressTypeNotSupported
	ReplyOther
)

type Response struct {
	Version  Version
	Reply    Reply
	RawReply uint8
	Address  Address
	Port     uint16
}

// Auth selects the SOCKS5 handshake method list.
type Auth struct {
	UserPass bool
	Username string
	Password string
}

func NoAuth() Auth { return Auth{} }
