package gateways

import (
	"fmt"
	"os"

	"github.com/ochairo/pkgaudit/internal/external-adapters/gpg"
)

// reportSigner wraps the external GPG adapter to implement the domain gateway interface
type reportSigner struct {
	signer *gpg.Signer
}

// NewReportSigner loads a private key for signing. The passphrase is read
// from passphraseEnv when set.
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewReportSigner(keyPath, passphraseEnv string) (*reportSigner, error) {
	var passphrase string
	if passphraseEnv != "" {
		passphrase = os.Getenv(passphraseEnv)
	}

	signer := gpg.NewSigner()
	if err := signer.LoadPrivateKey(keyPath, passphrase); err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	return &reportSigner{signer: signer}, nil
}

// NewReportVerifier imports a public key for verification only
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewReportVerifier(keyPath string) (*reportSigner, error) {
	signer := gpg.NewSigner()
	if err := signer.ImportKeyFromFile(keyPath); err != nil {
		return nil, fmt.Errorf("failed to import verification key: %w", err)
	}
	return &reportSigner{signer: signer}, nil
}

// Sign returns an armored detached signature over a rendered report
func (s *reportSigner) Sign(data []byte) ([]byte, error) {
	sig, err := s.signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("report signing failed: %w", err)
	}
	return sig, nil
}

// Verify checks a detached signature over a rendered report
func (s *reportSigner) Verify(data, signature []byte) error {
	if err := s.signer.Verify(data, signature); err != nil {
		return fmt.Errorf("report signature invalid: %w", err)
	}
	return nil
}
