// Package mitmtls implements the man-in-the-middle TLS engine: a
// self-signed root CA minted once per process, on-demand per-host
// leaf certificate issuance, a bounded LRU cert cache with optional
// disk persistence, and the accept/connect context factory the
// orchestrator uses to terminate and re-originate TLS.
package mitmtls

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

const Type = httperr.TypeTLS

// CaCertificate is the process-wide signing identity. Once
// constructed it is immutable for the process lifetime and is shared
// across goroutines without locking.
type CaCertificate struct {
	CertPEM []byte
	KeyPEM  []byte
	CertDER []byte
	KeyDER  []byte

	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// LeafCertificate is a short-lived certificate signed by the CA,
// bound to a single SNI host.
type LeafCertificate struct {
	CertPEM []byte
	KeyPEM  []byte
}

func newTLSError(kind httperr.Kind, message string, cause error) *httperr.Error {
	if cause == nil {
		return httperr.New(Type, kind, 0, message)
	}
	return httperr.Wrap(Type, kind, 0, message, cause)
}
