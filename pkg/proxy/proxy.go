package proxy

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/buffer"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/constants"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/http1"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/http2"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/limits"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/mitmtls"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/scope"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/socks"
)

// Proxy is the per-connection orchestrator: it owns the CA, cert
// cache, and configuration shared by every accepted connection, and
// spawns one goroutine per connection to drive the protocol-sniff /
// tunnel / forward state machine.
type Proxy struct {
	config         ProxyConfig
	requestLimits  limits.Limits
	responseLimits limits.Limits

	ca    *mitmtls.CaCertificate
	cache *mitmtls.CertCache

	rules      *RuleSource
	sink       Sink
	metrics    *Metrics
	intercepts *InterceptManager[[]byte, []byte]

	logger   zerolog.Logger
	listener net.Listener
}

// NewProxy loads (or mints) the CA and constructs the orchestrator.
// Returns a ProxyRuntimeConfig error if the CA cannot be established —
// a permanent, startup-time failure.
func NewProxy(cfg ProxyConfig, sink Sink) (*Proxy, *httperr.Error) {
	ca, err := mitmtls.LoadOrGenerateCA(cfg.TLS.CACertDir, cfg.TLS.CACommonName)
	if err != nil {
		return nil, httperr.Wrap(httperr.TypeProxyRuntimeConfig, httperr.KindConfig, 0, "initializing MITM CA", err)
	}

	capacity := cfg.TLS.CacheCapacity
	if capacity <= 0 {
		capacity = constants.DefaultCertCacheCapacity
	}
	var cache *mitmtls.CertCache
	if cfg.TLS.LeafCertDir != "" {
		cache = mitmtls.NewCertCacheWithDisk(capacity, cfg.TLS.LeafCertDir)
	} else {
		cache = mitmtls.NewCertCache(capacity)
	}

	if sink == nil {
		sink = NewChannelSink(constants.DefaultObservationChannelSize)
	}

	return &Proxy{
		config:         cfg,
		requestLimits:  limits.Limits{MaxHeaderBytes: 64 * 1024, MaxBodyBytes: cfg.BodyLimits.RequestMaxBytes},
		responseLimits: limits.Limits{MaxHeaderBytes: 64 * 1024, MaxBodyBytes: cfg.BodyLimits.ResponseMaxBytes},
		ca:             ca,
		cache:          cache,
		rules:          NewRuleSource(cfg.Scope.Rules),
		sink:           sink,
		metrics:        NewMetrics(nil),
		intercepts:     NewInterceptManager[[]byte, []byte](),
		logger:         log.Logger,
	}, nil
}

// Rules exposes the scope-rule source so an external collaborator can
// republish the rule set; the orchestrator re-reads the snapshot at
// each observation boundary.
func (p *Proxy) Rules() *RuleSource { return p.rules }

// Intercepts exposes the pause-for-edit hook an external editor
// attaches to. Intercepted values are the raw serialized request and
// response bytes about to cross the proxy.
func (p *Proxy) Intercepts() *InterceptManager[[]byte, []byte] { return p.intercepts }

// Run binds the listen address and accepts connections until the
// listener is closed or ctx-equivalent shutdown is triggered by the
// caller closing the listener.
func (p *Proxy) Run() *httperr.Error {
	addr := net.JoinHostPort(p.config.Listen.Host, strconv.Itoa(int(p.config.Listen.Port)))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return httperr.Wrap(httperr.TypeProxyRuntimeConfig, httperr.KindConfig, 0, "binding listener", err)
	}
	p.listener = listener
	defer listener.Close()

	p.logger.Info().Str("addr", addr).Msg("crossfeed proxy listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return httperr.Wrap(httperr.TypeProxyRuntimeTrans, httperr.KindRuntime, 0, "accepting connection", err)
		}
		p.metrics.ConnectionsAccepted.Inc()
		connID := uuid.New()
		go p.handleConnection(conn, connID)
	}
}

// Close stops accepting new connections by closing the listener;
// in-flight connections are left to finish on their own, mirroring a
// TCP listener's lack of a built-in drain phase.
func (p *Proxy) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

// connState is per-connection sequencing state passed down the call
// chain; observations within one connection carry a monotonically
// increasing Seq so a sink can order them within the connection.
type connState struct {
	id  uuid.UUID
	seq uint64
}

func (c *connState) nextSeq() uint64 {
	c.seq++
	return c.seq
}

func (p *Proxy) handleConnection(conn net.Conn, connID uuid.UUID) {
	defer conn.Close()
	logger := p.logger.With().Str("conn_id", connID.String()).Logger()

	buf := make([]byte, constants.GreetingReadLimit)
	conn.SetReadDeadline(time.Now().Add(p.idleReadTimeout()))
	n, err := conn.Read(buf)
	if err != nil {
		if err != io.EOF {
			logger.Debug().Err(err).Msg("greeting read failed")
		}
		return
	}
	conn.SetReadDeadline(time.Time{})
	greeting := append([]byte(nil), buf[:n]...)

	state := &connState{id: connID}

	if bytes.HasPrefix(greeting, []byte(http2.Preface)) {
		p.handleHTTP2(conn, greeting, state, logger)
		return
	}

	p.handleHTTP1(conn, greeting, state, logger)
}

// handleHTTP1 drives the complete-message parser on the client side;
// a CONNECT request hands off to the tunnel state, everything else is
// forwarded upstream and read back verbatim. Keep-alive connections
// loop for pipelined/subsequent requests until a close is signalled.
func (p *Proxy) handleHTTP1(conn net.Conn, buffered []byte, state *connState, logger zerolog.Logger) {
	parser := http1.NewRequestParser(p.requestLimits)
	readBuf := make([]byte, 32*1024)

	for {
		result := parser.Push(buffered)
		buffered = nil

		switch result.Status {
		case http1.NeedMore:
			// Residual bytes from the last push were not a complete
			// message; read more from the client.
			conn.SetReadDeadline(time.Now().Add(p.idleReadTimeout()))
			n, err := conn.Read(readBuf)
			if err != nil {
				return
			}
			buffered = readBuf[:n]
		case http1.Error:
			logger.Debug().Err(result.Err).Msg("http1 request parse error")
			return
		case http1.Complete:
			req := result.Request
			if strings.EqualFold(req.Line.Method, "CONNECT") {
				p.handleConnect(conn, req.Line.Target, state, logger)
				return
			}
			if !p.forwardHTTP1(conn, req, result.Warnings, state, logger) {
				return
			}
			if http1.RequestShouldClose(req.Line.Version, req.Headers) {
				return
			}
		}
	}
}

// forwardHTTP1 drives one exchange upstream and back; it reports
// whether the client connection may be reused for a next request.
func (p *Proxy) forwardHTTP1(conn net.Conn, req *http1.Request, warnings []httperr.Warning, state *connState, logger zerolog.Logger) bool {
	started := time.Now()

	host, port, path, query := resolveTarget(req.Line.Target, req.Headers)
	if host == "" {
		logger.Debug().Msg("unable to resolve request target")
		return false
	}

	rules, rulesVersion := p.rules.Snapshot()
	inScope := scope.IsInScope(rules, host, path)
	if inScope {
		p.metrics.ScopeInDecisions.Inc()
	} else {
		p.metrics.ScopeOutDecisions.Inc()
	}

	outbound := serializeRequest(req, path, host)
	outbound, dropped := p.applyRequestIntercept(outbound)
	if dropped {
		logger.Debug().Str("host", host).Msg("request dropped by intercept")
		return false
	}

	upstream, err := p.connectUpstream(host, port)
	if err != nil {
		logger.Debug().Err(err).Str("host", host).Msg("upstream connect failed")
		p.metrics.UpstreamDialErrors.Inc()
		return false
	}
	defer upstream.Close()

	if _, err := upstream.Write(outbound); err != nil {
		logger.Debug().Err(err).Msg("writing request upstream")
		return false
	}

	respBytes, resp, respWarnings, rerr := readResponse(upstream, p.responseLimits, p.idleReadTimeout())
	if rerr != nil {
		logger.Debug().Err(rerr).Msg("upstream response parse error")
		return false
	}
	warnings = append(warnings, respWarnings...)

	respBytes, dropped = p.applyResponseIntercept(respBytes)
	if dropped {
		logger.Debug().Str("host", host).Msg("response dropped by intercept")
		return false
	}

	if _, err := conn.Write(respBytes); err != nil {
		logger.Debug().Err(err).Msg("writing response to client")
		return false
	}

	capturedReq, reqTruncated := captureObservationBytes(outbound, p.config.BodyLimits.CaptureMaxBytes)
	capturedResp, respTruncated := captureObservationBytes(respBytes, p.config.BodyLimits.CaptureMaxBytes)

	completed := time.Now()
	obs := Observation{
		ID:                    uuid.New(),
		ConnID:                state.id,
		Seq:                   state.nextSeq(),
		RequestBytes:          capturedReq,
		ResponseBytes:         capturedResp,
		Method:                req.Line.Method,
		Scheme:                "http",
		Host:                  host,
		Port:                  port,
		Path:                  path,
		Query:                 query,
		URL:                   fmt.Sprintf("http://%s%s", host, req.Line.Target),
		HTTPVersion:           req.Line.Version.String(),
		StatusCode:            resp.Line.StatusCode,
		Reason:                resp.Line.Reason,
		RequestHeaders:        headerSection(outbound),
		ResponseHeaders:       headerSection(respBytes),
		Body:                  resp.Body,
		StartedAt:             started,
		CompletedAt:           completed,
		DurationMS:            completed.Sub(started).Milliseconds(),
		Warnings:              warnings,
		RequestBodyTruncated:  reqTruncated,
		ResponseBodyTruncated: respTruncated,
		ScopeEvaluation: ScopeEvaluation{
			InScope:      inScope,
			RulesVersion: rulesVersion,
		},
	}
	p.sink.Emit(obs)
	p.metrics.ObservationsEmitted.Inc()

	return !http1.ResponseShouldClose(resp.Line.Version, resp.Headers)
}

// applyRequestIntercept routes outbound through the pause-for-edit
// hook; the returned bool reports the exchange was dropped by the
// editor.
func (p *Proxy) applyRequestIntercept(outbound []byte) ([]byte, bool) {
	result := p.intercepts.InterceptRequest(uuid.New(), outbound)
	if result.Forwarded {
		return result.Value, false
	}
	decision := <-result.Channel
	if !decision.Allow {
		return nil, true
	}
	return decision.Value, false
}

func (p *Proxy) applyResponseIntercept(respBytes []byte) ([]byte, bool) {
	result := p.intercepts.InterceptResponse(uuid.New(), uuid.New(), respBytes)
	if result.Forwarded {
		return result.Value, false
	}
	decision := <-result.Channel
	if !decision.Allow {
		return nil, true
	}
	return decision.Value, false
}

func (p *Proxy) idleReadTimeout() time.Duration {
	if p.config.Timeouts.IdleRead > 0 {
		return p.config.Timeouts.IdleRead
	}
	return constants.DefaultIdleReadTimeout
}

func (p *Proxy) handshakeTimeout() time.Duration {
	if p.config.Timeouts.Handshake > 0 {
		return p.config.Timeouts.Handshake
	}
	return constants.DefaultHandshakeTimeout
}

// handleConnect replies 200 Connection Established, then either
// splices the raw tunnel (MITM disabled) or terminates/re-originates
// TLS and recurses into the HTTP/1 state machine over the decrypted
// bytes (MITM enabled).
func (p *Proxy) handleConnect(conn net.Conn, target string, state *connState, logger zerolog.Logger) {
	host, port := splitHostPort(target)

	upstream, err := p.connectUpstream(host, port)
	if err != nil {
		logger.Debug().Err(err).Str("host", host).Msg("connect upstream failed")
		p.metrics.UpstreamDialErrors.Inc()
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		upstream.Close()
		return
	}

	if !p.config.TLS.Enabled {
		defer upstream.Close()
		conn.SetReadDeadline(time.Time{})
		splice(conn, upstream)
		return
	}

	p.handleMitmTunnel(conn, upstream, host, state, logger)
}

func (p *Proxy) handleMitmTunnel(client net.Conn, upstream net.Conn, host string, state *connState, logger zerolog.Logger) {
	defer upstream.Close()

	leaf, hit := p.cache.Get(host)
	if hit {
		p.metrics.CertCacheHits.Inc()
	} else {
		p.metrics.CertCacheMisses.Inc()
		issued, ierr := mitmtls.IssueLeaf(p.ca, host)
		if ierr != nil {
			logger.Debug().Err(ierr).Str("host", host).Msg("leaf issuance failed")
			return
		}
		leaf = *issued
		if perr := p.cache.Persist(host, leaf); perr != nil {
			logger.Debug().Err(perr).Str("host", host).Msg("leaf cache persist failed (in-memory only)")
		}
		p.cache.Insert(host, leaf)
	}

	acceptorCfg, aerr := mitmtls.BuildAcceptor(mitmtls.Policy{AllowLegacy: p.config.TLS.AllowLegacy}, leaf)
	if aerr != nil {
		logger.Debug().Err(aerr).Msg("building TLS acceptor")
		return
	}

	tlsClient := tls.Server(client, acceptorCfg)
	client.SetDeadline(time.Now().Add(p.handshakeTimeout()))
	if err := tlsClient.Handshake(); err != nil {
		logger.Debug().Err(err).Msg("client TLS handshake failed")
		return
	}
	client.SetDeadline(time.Time{})
	defer tlsClient.Close()

	connectorCfg := mitmtls.BuildConnector(host)
	tlsUpstream := tls.Client(upstream, connectorCfg)
	upstream.SetDeadline(time.Now().Add(p.handshakeTimeout()))
	if err := tlsUpstream.Handshake(); err != nil {
		logger.Debug().Err(err).Msg("upstream TLS handshake failed")
		return
	}
	upstream.SetDeadline(time.Time{})
	defer tlsUpstream.Close()

	// The decrypted session behaves as a fresh HTTP/1 or HTTP/2
	// session; recurse into the protocol sniff on the plaintext view.
	buf := make([]byte, constants.GreetingReadLimit)
	n, err := tlsClient.Read(buf)
	if err != nil {
		return
	}
	greeting := append([]byte(nil), buf[:n]...)

	if bytes.HasPrefix(greeting, []byte(http2.Preface)) {
		p.handleHTTP2Tunneled(tlsClient, tlsUpstream, greeting, state, logger)
		return
	}

	p.handleHTTP1Tunneled(tlsClient, tlsUpstream, greeting, host, state, logger)
}

// handleHTTP1Tunneled mirrors forwardHTTP1 but reuses an
// already-connected upstream TLS conn instead of dialing a fresh one,
// since the MITM tunnel owns exactly one upstream connection for its
// lifetime.
func (p *Proxy) handleHTTP1Tunneled(client, upstream net.Conn, buffered []byte, host string, state *connState, logger zerolog.Logger) {
	parser := http1.NewRequestParser(p.requestLimits)
	readBuf := make([]byte, 32*1024)

	for {
		result := parser.Push(buffered)
		buffered = nil

		switch result.Status {
		case http1.NeedMore:
			client.SetReadDeadline(time.Now().Add(p.idleReadTimeout()))
			n, err := client.Read(readBuf)
			if err != nil {
				return
			}
			buffered = readBuf[:n]
		case http1.Error:
			logger.Debug().Err(result.Err).Msg("mitm http1 request parse error")
			return
		case http1.Complete:
			started := time.Now()
			req := result.Request
			warnings := result.Warnings
			path := req.Line.Target
			var query string
			if q := strings.IndexByte(path, '?'); q >= 0 {
				query = path[q+1:]
				path = path[:q]
			}

			rules, rulesVersion := p.rules.Snapshot()
			inScope := scope.IsInScope(rules, host, path)
			if inScope {
				p.metrics.ScopeInDecisions.Inc()
			} else {
				p.metrics.ScopeOutDecisions.Inc()
			}

			outbound := serializeRequest(req, req.Line.Target, host)
			outbound, dropped := p.applyRequestIntercept(outbound)
			if dropped {
				logger.Debug().Str("host", host).Msg("request dropped by intercept")
				return
			}
			if _, err := upstream.Write(outbound); err != nil {
				return
			}

			respBytes, resp, respWarnings, rerr := readResponse(upstream, p.responseLimits, p.idleReadTimeout())
			if rerr != nil {
				return
			}
			warnings = append(warnings, respWarnings...)

			respBytes, dropped = p.applyResponseIntercept(respBytes)
			if dropped {
				logger.Debug().Str("host", host).Msg("response dropped by intercept")
				return
			}
			if _, err := client.Write(respBytes); err != nil {
				return
			}

			capturedReq, reqTruncated := captureObservationBytes(outbound, p.config.BodyLimits.CaptureMaxBytes)
			capturedResp, respTruncated := captureObservationBytes(respBytes, p.config.BodyLimits.CaptureMaxBytes)

			completed := time.Now()
			obs := Observation{
				ID:                    uuid.New(),
				ConnID:                state.id,
				Seq:                   state.nextSeq(),
				RequestBytes:          capturedReq,
				ResponseBytes:         capturedResp,
				Method:                req.Line.Method,
				Scheme:                "https",
				Host:                  host,
				Port:                  443,
				Path:                  path,
				Query:                 query,
				URL:                   fmt.Sprintf("https://%s%s", host, req.Line.Target),
				HTTPVersion:           req.Line.Version.String(),
				StatusCode:            resp.Line.StatusCode,
				Reason:                resp.Line.Reason,
				RequestHeaders:        headerSection(outbound),
				ResponseHeaders:       headerSection(respBytes),
				Body:                  resp.Body,
				StartedAt:             started,
				CompletedAt:           completed,
				DurationMS:            completed.Sub(started).Milliseconds(),
				Warnings:              warnings,
				RequestBodyTruncated:  reqTruncated,
				ResponseBodyTruncated: respTruncated,
				ScopeEvaluation: ScopeEvaluation{
					InScope:      inScope,
					RulesVersion: rulesVersion,
				},
			}
			p.sink.Emit(obs)
			p.metrics.ObservationsEmitted.Inc()

			if http1.RequestShouldClose(req.Line.Version, req.Headers) ||
				http1.ResponseShouldClose(resp.Line.Version, resp.Headers) {
				return
			}
		}
	}
}

// handleHTTP2 records the first HEADERS frame's :authority, dials the
// upstream, and opaquely splices thereafter. Full per-stream HTTP/2
// MITM (re-encoding each stream) is not implemented.
func (p *Proxy) handleHTTP2(conn net.Conn, buffered []byte, state *connState, logger zerolog.Logger) {
	parser := http2.NewParser()
	accumulated := append([]byte(nil), buffered...)
	readBuf := make([]byte, 32*1024)

	for {
		result := parser.Push(buffered)
		buffered = nil

		switch result.Status {
		case http2.NeedMore:
			n, err := conn.Read(readBuf)
			if err != nil {
				return
			}
			accumulated = append(accumulated, readBuf[:n]...)
			buffered = append([]byte(nil), readBuf[:n]...)
		case http2.Error:
			logger.Debug().Err(result.Err).Msg("http2 parse error")
			return
		case http2.Complete:
			if result.Frame.Payload.Headers == nil {
				continue
			}
			host, port := authorityFromHeaders(result.Frame.Payload.Headers.Headers)
			if host == "" {
				logger.Debug().Msg("http2 request missing :authority")
				return
			}

			upstream, err := p.connectUpstream(host, port)
			if err != nil {
				logger.Debug().Err(err).Msg("http2 upstream connect failed")
				p.metrics.UpstreamDialErrors.Inc()
				return
			}
			defer upstream.Close()

			if _, err := upstream.Write(accumulated); err != nil {
				return
			}

			splice(conn, upstream)
			return
		}
	}
}

// handleHTTP2Tunneled forwards an HTTP/2 stream inside a MITM tunnel:
// the already-read client bytes are written to the tunnel's TLS
// upstream and the two connections are then spliced. Frames are not
// parsed here.
func (p *Proxy) handleHTTP2Tunneled(client, upstream net.Conn, buffered []byte, state *connState, logger zerolog.Logger) {
	if _, err := upstream.Write(buffered); err != nil {
		return
	}
	splice(client, upstream)
}

func authorityFromHeaders(headers []http2.HeaderField) (string, uint16) {
	for _, h := range headers {
		if h.Name == ":authority" {
			host, port := splitHostPort(h.Value)
			return host, port
		}
	}
	return "", 0
}

// connectUpstream dials (host, port) either directly or through the
// configured SOCKS upstream.
func (p *Proxy) connectUpstream(host string, port uint16) (net.Conn, error) {
	timeout := p.config.Timeouts.Connect
	if timeout <= 0 {
		timeout = constants.DefaultConnectTimeout
	}
	switch p.config.Upstream.Mode {
	case UpstreamDirect:
		return net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))), timeout)
	case UpstreamSocks:
		return connectViaSocks(p.config.Upstream.Socks, host, port, timeout)
	default:
		return nil, fmt.Errorf("unknown upstream mode")
	}
}

func connectViaSocks(cfg *SocksConfig, host string, port uint16, timeout time.Duration) (net.Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("socks upstream mode selected with no socks config")
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))), timeout)
	if err != nil {
		return nil, err
	}

	switch cfg.Version {
	case SocksV5:
		if err := socks5Connect(conn, cfg, host, port); err != nil {
			conn.Close()
			return nil, err
		}
	case SocksV4, SocksV4a:
		if err := socks4Connect(conn, cfg, host, port); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

func socks5Connect(conn net.Conn, cfg *SocksConfig, host string, port uint16) error {
	auth := socks.NoAuth()
	if cfg.Auth == SocksAuthUserPass {
		auth = socks.Auth{UserPass: true, Username: cfg.Username, Password: cfg.Password}
	}

	handshake := socks.BuildHandshakeRequest(socks.V5, auth)
	if _, err := conn.Write(handshake); err != nil {
		return err
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return err
	}
	method, herr := socks.ParseHandshakeResponse(resp)
	if herr != nil {
		return herr
	}
	if method == 0x02 {
		return fmt.Errorf("socks auth not implemented")
	}

	address := socks.DomainAddress(host)
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			address = socks.IPv4Address(ip4[0], ip4[1], ip4[2], ip4[3])
		}
	}
	req := socks.BuildSocks5Connect(address, port)
	if _, err := conn.Write(req); err != nil {
		return err
	}

	parser := socks.NewResponseParser()
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		result := parser.Push(buf[:n])
		switch result.Status {
		case socks.NeedMore:
			continue
		case socks.Error:
			return result.Err
		case socks.Complete:
			if result.Response.Reply != socks.ReplySucceeded {
				return fmt.Errorf("socks connect failed: reply=%v", result.Response.Reply)
			}
			return nil
		}
	}
}

func socks4Connect(conn net.Conn, cfg *SocksConfig, host string, port uint16) error {
	address := socks.DomainAddress(host)
	if cfg.Version == SocksV4 {
		if ip := net.ParseIP(host); ip != nil {
			if ip4 := ip.To4(); ip4 != nil {
				address = socks.IPv4Address(ip4[0], ip4[1], ip4[2], ip4[3])
			}
		}
	}

	req := socks.BuildSocks4Connect(address, port, "")
	if _, err := conn.Write(req); err != nil {
		return err
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return err
	}
	reply, rerr := socks.ParseSocksResponse(resp)
	if rerr != nil {
		return rerr
	}
	if reply.Reply != socks.ReplySucceeded {
		return fmt.Errorf("socks connect failed: reply=%v", reply.Reply)
	}
	return nil
}

// readResponse drives the complete-message response parser to
// completion over conn, returning the raw bytes (for the observation
// and client re-emission), the parsed message, and any non-fatal
// parse warnings. Each read is bounded by idleTimeout.
func readResponse(conn net.Conn, l limits.Limits, idleTimeout time.Duration) ([]byte, *http1.Response, []httperr.Warning, *httperr.Error) {
	parser := http1.NewResponseParser(l)
	var raw bytes.Buffer
	buf := make([]byte, 32*1024)

	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			raw.Write(buf[:n])
			result := parser.Push(buf[:n])
			switch result.Status {
			case http1.NeedMore:
				// continue reading
			case http1.Error:
				return raw.Bytes(), nil, nil, result.Err
			case http1.Complete:
				return raw.Bytes(), result.Response, result.Warnings, nil
			}
		}
		if err != nil {
			return raw.Bytes(), nil, nil, httperr.Wrap(httperr.TypeProxyRuntimeTrans, httperr.KindRuntime, 0, "reading upstream response", err)
		}
	}
}

// headerSection returns raw's start line + header block, including the
// terminating blank line, or all of raw if no terminator is present.
func headerSection(raw []byte) []byte {
	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		return raw
	}
	return raw[:idx+4]
}

// resolveTarget determines (host, port, path, query):
// absolute-form targets are parsed as a
// URL; otherwise the Host header is split on the last ':' for an
// explicit port, defaulting to 443 when absent or unparseable.
func resolveTarget(target string, headers []http1.Header) (host string, port uint16, path string, query string) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		rest := target
		scheme := "http"
		if strings.HasPrefix(target, "https://") {
			scheme = "https"
			rest = strings.TrimPrefix(target, "https://")
		} else {
			rest = strings.TrimPrefix(target, "http://")
		}
		hostPort := rest
		p := "/"
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			hostPort = rest[:idx]
			p = rest[idx:]
		}
		h, prt := splitHostPortDefault(hostPort, defaultPortForScheme(scheme))
		if q := strings.IndexByte(p, '?'); q >= 0 {
			return h, prt, p[:q], p[q+1:]
		}
		return h, prt, p, ""
	}

	hostHeader, ok := http1.HeaderByName(headers, "Host")
	if !ok {
		return "", 0, "", ""
	}
	h, prt := splitHostPort(hostHeader.Value)
	path = target
	if q := strings.IndexByte(target, '?'); q >= 0 {
		path = target[:q]
		query = target[q+1:]
	}
	return h, prt, path, query
}

func defaultPortForScheme(scheme string) uint16 {
	if scheme == "https" {
		return 443
	}
	return 80
}

// splitHostPort splits "host:port" on the last colon, defaulting to
// 443 when the port is absent or unparseable.
func splitHostPort(hostport string) (string, uint16) {
	return splitHostPortDefault(hostport, 443)
}

func splitHostPortDefault(hostport string, fallback uint16) (string, uint16) {
	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		return hostport, fallback
	}
	portStr := hostport[idx+1:]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return hostport, fallback
	}
	return hostport[:idx], uint16(port)
}

// serializeRequest re-emits the request start line and headers using
// each header's raw name for on-the-wire casing; a Host header is
// synthesized only if none was present.
func serializeRequest(req *http1.Request, path, host string) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Line.Method, path, req.Line.Version.String())

	hasHost := false
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "host") {
			hasHost = true
		}
		buf.WriteString(h.RawName)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	if !hasHost {
		fmt.Fprintf(&buf, "Host: %s\r\n", host)
	}
	buf.WriteString("\r\n")
	buf.Write(req.Body)
	return buf.Bytes()
}

// captureObservationBytes caps raw at limit bytes for attachment to an
// Observation. Exchanges within the limit are kept as-is; larger ones
// are spilled through a disk-backed buffer.Buffer so the full payload
// is never held twice in memory, and only its first limit bytes are
// retained, with truncated reported true.
func captureObservationBytes(raw []byte, limit int) ([]byte, bool) {
	if limit <= 0 || len(raw) <= limit {
		return raw, false
	}

	buf := buffer.New(int64(limit))
	defer buf.Close()
	buf.Write(raw)

	r, err := buf.Reader()
	if err != nil {
		return append([]byte(nil), raw[:limit]...), true
	}
	defer r.Close()

	capped := make([]byte, limit)
	n, _ := io.ReadFull(r, capped)
	return capped[:n], true
}

// splice copies bytes bidirectionally between a and b until either
// side closes, one copy goroutine per direction.
func splice(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
}
