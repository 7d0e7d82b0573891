// Package tlsutil implements the TLS upgrade policy used by the TCP
// framing engine: standard chain verification, plus the one documented
// non-fatal exception (a self-signed root whose subject equals its
// issuer), plus an optional caller override hook.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"netkit/internal/errors"
)

// Decision is the caller hook's verdict on a peer certificate chain.
type Decision int

const (
	// Defer means "no decision" — fall back to the default policy.
	Defer Decision = iota
	Accept
	Reject
)

// ValidationHook lets a caller override the default certificate policy.
// Returning Defer falls back to DefaultPolicy.
type ValidationHook func(rawCerts [][]byte, parsed []*x509.Certificate) Decision

// CertificateSupplier produces a server certificate lazily, so callers can
// reload it without rebuilding every connection's TLS config. The spec
// treats certificate authoring as an opaque external collaborator; this is
// the seam at which that collaborator plugs in.
type CertificateSupplier func() (tls.Certificate, error)

// FileCertificateSupplier loads a certificate/key pair from disk on every
// call, so a rotated file on disk takes effect on the next connection
// without restarting the server.
func FileCertificateSupplier(certFile, keyFile string) (CertificateSupplier, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.NewTlsError("load_certificate", fmt.Errorf("cert and key file are both required"))
	}
	return func() (tls.Certificate, error) {
		return tls.LoadX509KeyPair(certFile, keyFile)
	}, nil
}

// ServerConfig builds a tls.Config for the server-side handshake.
func ServerConfig(supplier CertificateSupplier) (*tls.Config, error) {
	cert, err := supplier()
	if err != nil {
		return nil, errors.NewTlsError("load_certificate", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// ClientConfig builds a tls.Config for the client-side handshake against
// targetHost, wiring the optional validation hook ahead of DefaultPolicy.
// Standard verification is disabled at the tls package level because the
// default policy must be able to accept a self-signed root that standard
// verification would reject outright; DefaultPolicy re-implements the
// standard chain check itself before considering the exception.
func ClientConfig(targetHost string, hook ValidationHook) *tls.Config {
	cfg := &tls.Config{
		ServerName:         targetHost,
		InsecureSkipVerify: true,
	}
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return verify(rawCerts, targetHost, hook)
	}
	return cfg
}

func verify(rawCerts [][]byte, targetHost string, hook ValidationHook) error {
	parsed := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return errors.NewTlsError("parse_certificate", err)
		}
		parsed = append(parsed, cert)
	}
	if len(parsed) == 0 {
		return errors.NewTlsError("verify", fmt.Errorf("no certificates presented"))
	}

	if hook != nil {
		switch hook(rawCerts, parsed) {
		case Accept:
			return nil
		case Reject:
			return errors.NewTlsError("verify", fmt.Errorf("rejected by validation hook"))
		}
	}

	if err := DefaultPolicy(parsed, targetHost); err != nil {
		return errors.NewTlsError("verify", err)
	}
	return nil
}

// DefaultPolicy accepts a fully trusted chain, accepts a self-signed root
// whose subject equals its issuer (the sole non-fatal chain issue the
// spec allows), and rejects everything else.
func DefaultPolicy(chain []*x509.Certificate, targetHost string) error {
	if len(chain) == 0 {
		return fmt.Errorf("empty certificate chain")
	}

	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		DNSName:       targetHost,
		Intermediates: intermediates,
	}

	if _, err := leaf.Verify(opts); err == nil {
		return nil
	}

	if isSelfSigned(leaf) {
		if err := leaf.CheckSignatureFrom(leaf); err == nil {
			return nil
		}
	}

	return fmt.Errorf("certificate chain for %s is not trusted", targetHost)
}

func isSelfSigned(cert *x509.Certificate) bool {
	return cert.Subject.String() == cert.Issuer.String()
}
