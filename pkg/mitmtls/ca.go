package mitmtls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/constants"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

const caKeyBits = 2048

// LoadOrGenerateCA attempts to load a previously-minted CA from
// caDir/crossfeed-ca.pem + crossfeed-ca-key.pem; if either file is
// missing it mints a new self-signed CA and persists both PEMs.
func LoadOrGenerateCA(caDir, commonName string) (*CaCertificate, *httperr.Error) {
	certPath := filepath.Join(caDir, constants.CAFileName)
	keyPath := filepath.Join(caDir, constants.CAKeyFileName)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		ca, err := parseCA(certPEM, keyPEM)
		if err == nil {
			return ca, nil
		}
		// Fall through and mint a fresh CA if the on-disk material is
		// corrupt; do not fail startup over a stale file.
	}

	ca, err := GenerateCA(commonName)
	if err != nil {
		return nil, err
	}
	if werr := writeCA(caDir, ca); werr != nil {
		// Persistence failure degrades to in-memory-only for this
		// process; the CA itself remains usable.
		_ = werr
	}
	return ca, nil
}

// GenerateCA mints a new self-signed CA: CN=commonName,
// O=Crossfeed, isCA=true, NotBefore=now, NotAfter=now+180 days.
func GenerateCA(commonName string) (*CaCertificate, *httperr.Error) {
	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "generating CA private key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "generating CA serial number", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(constants.CAValidityDays * 24 * time.Hour)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Crossfeed"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "creating CA certificate", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "parsing generated CA certificate", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER})

	return &CaCertificate{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		CertDER: der,
		KeyDER:  keyDER,
		cert:    cert,
		key:     key,
	}, nil
}

func parseCA(certPEM, keyPEM []byte) (*CaCertificate, *httperr.Error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, newTLSError(httperr.KindCertGen, "decoding CA certificate PEM", nil)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, newTLSError(httperr.KindCertGen, "decoding CA key PEM", nil)
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "parsing CA certificate", err)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, newTLSError(httperr.KindCertGen, "parsing CA private key", err)
	}

	return &CaCertificate{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		CertDER: certBlock.Bytes,
		KeyDER:  keyBlock.Bytes,
		cert:    cert,
		key:     key,
	}, nil
}

func writeCA(caDir string, ca *CaCertificate) *httperr.Error {
	if err := os.MkdirAll(caDir, 0755); err != nil {
		return newTLSError(httperr.KindIO, "creating CA directory", err)
	}
	if err := os.WriteFile(filepath.Join(caDir, constants.CAFileName), ca.CertPEM, 0644); err != nil {
		return newTLSError(httperr.KindIO, "writing CA certificate", err)
	}
	if err := os.WriteFile(filepath.Join(caDir, constants.CAKeyFileName), ca.KeyPEM, 0600); err != nil {
		return newTLSError(httperr.KindIO, "writing CA private key", err)
	}
	return nil
}
