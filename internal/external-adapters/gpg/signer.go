// Package gpg provides detached OpenPGP signatures for audit reports.
package gpg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

const armoredSignaturePrefix = "-----BEGIN PGP SIGNATURE-----"

// maxSignatureSize bounds signatures read for verification
const maxSignatureSize = 10 * 1024

// Signer signs and verifies report bytes using ProtonMail's go-crypto.
// This is in external-adapters to isolate the external dependency.
type Signer struct {
	keyring openpgp.EntityList
	signer  *openpgp.Entity
}

// NewSigner creates a signer with an empty keyring
func NewSigner() *Signer {
	return &Signer{keyring: make(openpgp.EntityList, 0)}
}

// NewSignerFromEntity creates a signer around an in-memory private key
func NewSignerFromEntity(entity *openpgp.Entity) *Signer {
	return &Signer{
		keyring: openpgp.EntityList{entity},
		signer:  entity,
	}
}

// LoadPrivateKey loads the signing key, decrypting it with passphrase when
// it is protected. The key also joins the verification keyring.
func (s *Signer) LoadPrivateKey(keyPath, passphrase string) error {
	entities, err := readKeyFile(keyPath)
	if err != nil {
		return err
	}

	for _, entity := range entities {
		if entity.PrivateKey == nil {
			continue
		}
		if entity.PrivateKey.Encrypted {
			if passphrase == "" {
				return fmt.Errorf("private key is encrypted and no passphrase was given")
			}
			if err := entity.DecryptPrivateKeys([]byte(passphrase)); err != nil {
				return fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}
		s.signer = entity
		s.keyring = append(s.keyring, entities...)
		return nil
	}

	return fmt.Errorf("no private key found in %s", keyPath)
}

// ImportKeyFromFile adds the public keys of a file to the keyring
func (s *Signer) ImportKeyFromFile(keyPath string) error {
	entities, err := readKeyFile(keyPath)
	if err != nil {
		return err
	}
	s.keyring = append(s.keyring, entities...)
	return nil
}

// Sign returns an armored detached signature over data
func (s *Signer) Sign(data []byte) ([]byte, error) {
	if s.signer == nil {
		return nil, fmt.Errorf("no private key loaded, call LoadPrivateKey first")
	}

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, s.signer, bytes.NewReader(data), nil); err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig.Bytes(), nil
}

// Verify checks an armored or binary detached signature over data
func (s *Signer) Verify(data, signature []byte) error {
	if len(s.keyring) == 0 {
		return fmt.Errorf("no keys imported, call ImportKeyFromFile first")
	}
	if len(signature) > maxSignatureSize {
		return fmt.Errorf("signature exceeds %d bytes", maxSignatureSize)
	}
	if len(signature) < 10 {
		return fmt.Errorf("signature too small to be a valid OpenPGP signature")
	}

	var err error
	if bytes.HasPrefix(bytes.TrimSpace(signature), []byte(armoredSignaturePrefix)) {
		_, err = openpgp.CheckArmoredDetachedSignature(s.keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(s.keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// ExportPublicKey writes the signing key's armored public key
func (s *Signer) ExportPublicKey(w io.Writer) error {
	if s.signer == nil {
		return fmt.Errorf("no private key loaded")
	}

	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return fmt.Errorf("failed to start armor: %w", err)
	}
	if err := s.signer.Serialize(aw); err != nil {
		_ = aw.Close()
		return fmt.Errorf("failed to serialize public key: %w", err)
	}
	return aw.Close()
}

// KeyringSize returns the number of keys in the keyring
func (s *Signer) KeyringSize() int {
	return len(s.keyring)
}

func readKeyFile(keyPath string) (openpgp.EntityList, error) {
	//nolint:gosec // G304: keyPath is user-provided
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		// Try reading as binary
		var binErr error
		entities, binErr = openpgp.ReadKeyRing(bytes.NewReader(data))
		if binErr != nil {
			return nil, fmt.Errorf("failed to read key: %w", errors.Join(err, binErr))
		}
	}

	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in file")
	}
	return entities, nil
}
