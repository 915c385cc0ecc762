package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// Sealer encrypts provider credentials for storage inside the config file
// using an X25519 age key pair. Sealed values are armored so they survive
// TOML round-trips. The private key is stored unencrypted with 0600
// permissions; auto-sync runs unattended and cannot prompt for a passphrase.
type Sealer struct {
	publicKeyPath  string
	privateKeyPath string
}

// NewSealer creates a Sealer from configuration.
func NewSealer(cfg SealConfig) *Sealer {
	return &Sealer{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new X25519 key pair and stores it at the configured
// paths. It refuses to overwrite an existing pair: losing the private key
// would orphan every sealed credential.
func (s *Sealer) Setup() error {
	if s.IsConfigured() {
		return fmt.Errorf("seal keys already exist at %s", filepath.Dir(s.privateKeyPath))
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	// Ensure key directories exist.
	if err := os.MkdirAll(filepath.Dir(s.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(s.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := os.WriteFile(s.privateKeyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured returns true if both key files exist.
func (s *Sealer) IsConfigured() bool {
	if _, err := os.Stat(s.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(s.privateKeyPath); err != nil {
		return false
	}
	return true
}

// Seal encrypts a credential value with the stored public key and returns
// it as an armored string.
func (s *Sealer) Seal(value string) (string, error) {
	recipient, err := s.loadRecipient()
	if err != nil {
		return "", fmt.Errorf("loading public key: %w", err)
	}

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	ew, err := age.Encrypt(aw, recipient)
	if err != nil {
		return "", fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(ew, value); err != nil {
		return "", fmt.Errorf("sealing value: %w", err)
	}
	if err := ew.Close(); err != nil {
		return "", fmt.Errorf("finalizing sealed value: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("finalizing armor: %w", err)
	}
	return buf.String(), nil
}

// Reveal returns the plaintext of a credential value. Unsealed values pass
// through unchanged, so configs written before sealing was set up keep
// working.
func (s *Sealer) Reveal(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	identities, err := s.loadIdentities()
	if err != nil {
		return "", fmt.Errorf("loading private key: %w", err)
	}

	dr, err := age.Decrypt(armor.NewReader(strings.NewReader(value)), identities...)
	if err != nil {
		return "", fmt.Errorf("opening sealed value: %w", err)
	}
	plain, err := io.ReadAll(dr)
	if err != nil {
		return "", fmt.Errorf("reading sealed value: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether a value is an armored age ciphertext.
func IsSealed(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), armor.Header)
}

// loadRecipient reads the public key from disk and parses it.
func (s *Sealer) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

func (s *Sealer) loadIdentities() ([]age.Identity, error) {
	privData, err := os.ReadFile(s.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(privData))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	return identities, nil
}
