package mitmtls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

const leafKeyBits = 2048
const leafValidity = 90 * 24 * time.Hour

// IssueLeaf mints a leaf certificate for host, signed by ca. The SAN
// list carries a single entry: an IPAddress if host parses as a
// literal IP, otherwise a DNSName. The factory is pure: it keeps no
// state between calls.
func IssueLeaf(ca *CaCertificate, host string) (*LeafCertificate, *httperr.Error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "generating leaf private key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "generating leaf serial number", err)
	}

	notBefore := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: host,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "signing leaf certificate", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return &LeafCertificate{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}
