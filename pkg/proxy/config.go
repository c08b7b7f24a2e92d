// Package proxy implements the per-connection proxy orchestrator:
// the state machine that sniffs HTTP/1 vs HTTP/2, handles CONNECT
// tunnels (plain or MITM), forwards direct or via SOCKS, and emits a
// structured Observation per completed exchange.
package proxy

import (
	"time"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/scope"
)

// ProxyConfig is deserialized from TOML elsewhere; this
// module only defines the plain struct shape and its defaults.
type ProxyConfig struct {
	Listen     ListenConfig
	TLS        TLSMitmConfig
	Upstream   UpstreamConfig
	Scope      ScopeConfig
	BodyLimits BodyLimits
	Timeouts   Timeouts
}

type ListenConfig struct {
	Host string
	Port uint16
}

type TLSMitmConfig struct {
	Enabled       bool
	AllowLegacy   bool
	CACommonName  string
	CACertDir     string
	LeafCertDir   string
	CacheCapacity int
}

type UpstreamMode int

const (
	UpstreamDirect UpstreamMode = iota
	UpstreamSocks
)

type SocksVersion int

const (
	SocksV4 SocksVersion = iota
	SocksV4a
	SocksV5
)

type SocksAuthMode int

const (
	SocksAuthNone SocksAuthMode = iota
	SocksAuthUserPass
)

type SocksConfig struct {
	Host     string
	Port     uint16
	Version  SocksVersion
	Auth     SocksAuthMode
	Username string
	Password string
}

type UpstreamConfig struct {
	Mode  UpstreamMode
	Socks *SocksConfig
}

type ScopeConfig struct {
	Rules []scope.Rule
}

type BodyLimits struct {
	RequestMaxBytes  int
	ResponseMaxBytes int
	// CaptureMaxBytes bounds how much of a raw request/response the
	// orchestrator retains on the Observation it emits; exchanges
	// larger than this are captured up to the limit and flagged
	// truncated rather than held in full a second time.
	CaptureMaxBytes int
}

// Timeouts bounds every suspension point the orchestrator drives:
// upstream connect, TLS handshake, and idle client reads.
type Timeouts struct {
	Connect   time.Duration
	Handshake time.Duration
	IdleRead  time.Duration
}

// DefaultProxyConfig mirrors the reference implementation's defaults
// (127.0.0.1:8080, TLS MITM enabled, direct upstream, no scope rules).
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Listen: ListenConfig{Host: "127.0.0.1", Port: 8080},
		TLS: TLSMitmConfig{
			Enabled:       true,
			AllowLegacy:   false,
			CACommonName:  "Crossfeed Proxy CA",
			CACertDir:     "certs",
			LeafCertDir:   "certs/leaf",
			CacheCapacity: 1024,
		},
		Upstream: UpstreamConfig{Mode: UpstreamDirect},
		Scope:    ScopeConfig{},
		BodyLimits: BodyLimits{
			RequestMaxBytes:  10 * 1024 * 1024,
			ResponseMaxBytes: 10 * 1024 * 1024,
			CaptureMaxBytes:  1 * 1024 * 1024,
		},
		Timeouts: Timeouts{
			Connect:   10 * time.Second,
			Handshake: 10 * time.Second,
			IdleRead:  90 * time.Second,
		},
	}
}
