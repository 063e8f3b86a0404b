// Package secrets keeps service and SMTP passwords out of the config file.
// A password is sealed to an age X25519 recipient and stored ASCII-armored;
// opening it needs the private key, which is itself sealed with a passphrase.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"detectedits-go/internal/config"
)

var ErrAlreadyConfigured = errors.New("key pair already exists")

// Keyring is an age key pair on disk.
type Keyring struct {
	publicKeyPath  string
	privateKeyPath string
}

func NewKeyring(cfg config.SecretsConfig) *Keyring {
	return &Keyring{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a key pair. The private key is written scrypt-encrypted
// under passphrase. Existing keys are never replaced.
func (k *Keyring) Setup(passphrase string) error {
	if k.IsConfigured() {
		return fmt.Errorf("%s: %w", k.privateKeyPath, ErrAlreadyConfigured)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	for _, p := range []string{k.publicKeyPath, k.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	if err := os.WriteFile(k.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	lock, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	var sealed bytes.Buffer
	if err := seal(&sealed, lock, identity.String()+"\n"); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := os.WriteFile(k.privateKeyPath, sealed.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured reports whether both key files exist.
func (k *Keyring) IsConfigured() bool {
	for _, p := range []string{k.publicKeyPath, k.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// SealToFile encrypts secret to the public key and writes it to path.
func (k *Keyring) SealToFile(secret, path string) error {
	recipient, err := k.recipient()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := seal(&buf, recipient, secret); err != nil {
		return fmt.Errorf("sealing secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secret directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing secret: %w", err)
	}
	return nil
}

// Unlock decrypts the private key with passphrase.
func (k *Keyring) Unlock(passphrase string) (*Unlocked, error) {
	data, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	lock, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	plain, err := open(bytes.NewReader(data), lock)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	identities, err := age.ParseIdentities(strings.NewReader(plain))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no identities found in private key")
	}
	return &Unlocked{identity: identities[0]}, nil
}

func (k *Keyring) recipient() (age.Recipient, error) {
	data, err := os.ReadFile(k.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, errors.New("no recipients found in public key file")
	}
	return recipients[0], nil
}

// Unlocked holds a decrypted identity.
type Unlocked struct {
	identity age.Identity
}

// OpenFile decrypts a file written by SealToFile. Surrounding whitespace is
// trimmed from the result.
func (u *Unlocked) OpenFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening secret: %w", err)
	}
	defer f.Close()

	plain, err := open(f, u.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", path, err)
	}
	return strings.TrimSpace(plain), nil
}

func seal(w io.Writer, to age.Recipient, plaintext string) error {
	aw := armor.NewWriter(w)
	ew, err := age.Encrypt(aw, to)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(ew, plaintext); err != nil {
		return err
	}
	if err := ew.Close(); err != nil {
		return err
	}
	return aw.Close()
}

func open(r io.Reader, with age.Identity) (string, error) {
	dr, err := age.Decrypt(armor.NewReader(r), with)
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(dr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
