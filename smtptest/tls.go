package smtptest

import (
	"crypto/tls"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

// certHost is the only name the generated certificate is valid for, and
// the address the in-process server listens on.
const certHost = "127.0.0.1"

// GenerateCertificate writes a self-signed TLS key and certificate for
// 127.0.0.1 to a temporary test directory that is removed after the test
// runs, and returns them as a key pair. The certificate is a self-signed CA.
// Fails the test if the certificate can't be created or loaded.
func GenerateCertificate(t testing.TB) tls.Certificate {
	t.Helper()

	d := t.TempDir()
	err := testcert.GenerateCert(
		certHost,
		"",                         // defaults to now
		time.Duration(1)*time.Hour, // the test suite won't run for this long
		true,                       // is a CA cert
		2048,                       // RSA key size
		"",                         // no ecdsa curve, so the key is RSA
		d+string(filepath.Separator),
	)
	if err != nil {
		t.Fatalf("can't generate a TLS certificate: %v", err)
	}

	// These path names are hardcoded into testcert.GenerateCert
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(d, certHost+".cert.pem"),
		filepath.Join(d, certHost+".key.pem"),
	)
	if err != nil {
		t.Fatalf("can't load the TLS key pair: %v", err)
	}
	return cert
}
