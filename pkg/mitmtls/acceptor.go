package mitmtls

import (
	"crypto/tls"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

// Policy controls the cipher/version posture of an accept context.
// AllowLegacy is explicitly unsafe and only for targets that require
// it: it re-enables long-retired negotiation paths and
// disables session tickets.
type Policy struct {
	AllowLegacy bool
}

// BuildAcceptor returns a *tls.Config pre-loaded with leaf's
// certificate and key, suitable for tls.Server on the client-facing
// side of a MITM tunnel. Client certificate verification is disabled:
// the proxy impersonates the target CN via the generated leaf, it
// does not authenticate the client.
func BuildAcceptor(policy Policy, leaf LeafCertificate) (*tls.Config, *httperr.Error) {
	cert, err := tls.X509KeyPair(leaf.CertPEM, leaf.KeyPEM)
	if err != nil {
		return nil, newTLSError(httperr.KindTLS, "loading leaf keypair", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}

	if policy.AllowLegacy {
		cfg.MinVersion = tls.VersionSSL30 //lint:ignore SA1019 explicitly unsafe legacy compatibility mode
		cfg.MaxVersion = tls.VersionTLS12
		cfg.SessionTicketsDisabled = true
		cfg.CipherSuites = legacyCipherSuites()
	} else {
		cfg.MinVersion = tls.VersionTLS12
		cfg.SessionTicketsDisabled = false
	}

	return cfg, nil
}

// BuildConnector returns a *tls.Config for the proxy's upstream leg:
// standard verification, SNI set to the target host.
func BuildConnector(host string) *tls.Config {
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}

// legacyCipherSuites widens the cipher list to whatever this Go
// runtime still exposes, mirroring the original's "@SECLEVEL=0"
// escape hatch: every suite crypto/tls ships, including those it
// lists as insecure (RC4/3DES-class suites among them).
func legacyCipherSuites() []uint16 {
	var suites []uint16
	for _, s := range tls.CipherSuites() {
		suites = append(suites, s.ID)
	}
	for _, s := range tls.InsecureCipherSuites() {
		suites = append(suites, s.ID)
	}
	return suites
}
