package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"detectedits-go/internal/config"
)

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	dir := t.TempDir()
	return NewKeyring(config.SecretsConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "detectedits.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "detectedits.key"),
	})
}

func TestKeyring_Setup(t *testing.T) {
	t.Parallel()
	k := newTestKeyring(t)

	if k.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := k.Setup("passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !k.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}

	pub, err := os.ReadFile(k.publicKeyPath)
	if err != nil || !strings.HasPrefix(string(pub), "age1") {
		t.Errorf("public key = %q, %v", pub, err)
	}
	priv, err := os.ReadFile(k.privateKeyPath)
	if err != nil || strings.Contains(string(priv), "AGE-SECRET-KEY") {
		t.Error("private key stored in plaintext")
	}

	if err := k.Setup("other"); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("second Setup() = %v, want ErrAlreadyConfigured", err)
	}
}

func TestKeyring_SealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{name: "password", secret: "s3cret!", want: "s3cret!"},
		{name: "trailing newline trimmed", secret: "pw\n", want: "pw"},
		{name: "unicode", secret: "pässwörd", want: "pässwörd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			k := newTestKeyring(t)
			if err := k.Setup("passphrase"); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			path := filepath.Join(t.TempDir(), "secrets", "service.age")
			if err := k.SealToFile(tt.secret, path); err != nil {
				t.Fatalf("SealToFile() error = %v", err)
			}
			raw, _ := os.ReadFile(path)
			if !strings.HasPrefix(string(raw), "-----BEGIN AGE ENCRYPTED FILE-----") {
				t.Errorf("sealed file is not armored: %q", raw)
			}

			u, err := k.Unlock("passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			got, err := u.OpenFile(path)
			if err != nil {
				t.Fatalf("OpenFile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("OpenFile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyring_Failures(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		k := newTestKeyring(t)
		if err := k.Setup("right"); err != nil {
			t.Fatal(err)
		}
		if _, err := k.Unlock("wrong"); err == nil {
			t.Error("Unlock() with wrong passphrase succeeded")
		}
	})

	t.Run("seal before setup", func(t *testing.T) {
		k := newTestKeyring(t)
		if err := k.SealToFile("pw", filepath.Join(t.TempDir(), "pw.age")); err == nil {
			t.Error("SealToFile() before Setup succeeded")
		}
	})

	t.Run("file sealed to another key", func(t *testing.T) {
		a, b := newTestKeyring(t), newTestKeyring(t)
		for _, k := range []*Keyring{a, b} {
			if err := k.Setup("pp"); err != nil {
				t.Fatal(err)
			}
		}
		path := filepath.Join(t.TempDir(), "pw.age")
		if err := a.SealToFile("pw", path); err != nil {
			t.Fatal(err)
		}
		u, err := b.Unlock("pp")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := u.OpenFile(path); err == nil {
			t.Error("OpenFile() decrypted a file sealed to another key")
		}
	})
}
