package mitmtls

import (
	"crypto/tls"
	"testing"
)

func TestBuildAcceptorDefaultPolicy(t *testing.T) {
	ca, err := GenerateCA("Crossfeed Test CA")
	if err != nil {
		t.Fatalf("generate ca: %v", err)
	}
	leaf, lerr := IssueLeaf(ca, "example.com")
	if lerr != nil {
		t.Fatalf("issue leaf: %v", lerr)
	}

	cfg, aerr := BuildAcceptor(Policy{}, *leaf)
	if aerr != nil {
		t.Fatalf("build acceptor: %v", aerr)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("expected modern MinVersion, got %x", cfg.MinVersion)
	}
	if cfg.SessionTicketsDisabled {
		t.Fatalf("expected tickets enabled by default")
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Fatalf("expected client verification disabled on the accept side")
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected the leaf keypair to be loaded")
	}
}

func TestBuildAcceptorLegacyPolicy(t *testing.T) {
	ca, err := GenerateCA("Crossfeed Test CA")
	if err != nil {
		t.Fatalf("generate ca: %v", err)
	}
	leaf, lerr := IssueLeaf(ca, "legacy.example.com")
	if lerr != nil {
		t.Fatalf("issue leaf: %v", lerr)
	}

	cfg, aerr := BuildAcceptor(Policy{AllowLegacy: true}, *leaf)
	if aerr != nil {
		t.Fatalf("build acceptor: %v", aerr)
	}
	if !cfg.SessionTicketsDisabled {
		t.Fatalf("expected tickets disabled under the legacy policy")
	}
	if len(cfg.CipherSuites) == 0 {
		t.Fatalf("expected a widened cipher suite list under the legacy policy")
	}
}

func TestBuildConnectorSetsSNI(t *testing.T) {
	cfg := BuildConnector("target.example.com")
	if cfg.ServerName != "target.example.com" {
		t.Fatalf("expected ServerName to be set to the target host")
	}
}
