package remote

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestKeyManagerEnsureKeyPair(t *testing.T) {
	privPath := filepath.Join(t.TempDir(), "ssh", "id_ed25519")
	manager := NewKeyManager(privPath)

	if manager.KeyPairExists() {
		t.Fatal("KeyPairExists() = true before generation")
	}

	created, err := manager.EnsureKeyPair()
	if err != nil {
		t.Fatalf("EnsureKeyPair() error = %v", err)
	}
	if !created {
		t.Error("EnsureKeyPair() created = false on first call")
	}

	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatalf("Private key file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Private key permissions = %o, want 0600", info.Mode().Perm())
	}
	if manager.PublicKeyPath() != privPath+".pub" {
		t.Errorf("PublicKeyPath() = %q", manager.PublicKeyPath())
	}

	data, err := os.ReadFile(privPath)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		t.Fatalf("private key does not parse: %v", err)
	}

	line, err := manager.AuthorizedKey()
	if err != nil {
		t.Fatalf("AuthorizedKey() error = %v", err)
	}
	if !strings.HasPrefix(line, "ssh-ed25519 ") || !strings.HasSuffix(line, " vmxfer") {
		t.Errorf("AuthorizedKey() = %q", line)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		t.Fatalf("public key does not parse: %v", err)
	}
	if string(pub.Marshal()) != string(signer.PublicKey().Marshal()) {
		t.Error("public key does not match private key")
	}

	fp, err := manager.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if fp != ssh.FingerprintSHA256(signer.PublicKey()) {
		t.Errorf("Fingerprint() = %q", fp)
	}
}

func TestKeyManagerIdempotent(t *testing.T) {
	manager := NewKeyManager(filepath.Join(t.TempDir(), "id_ed25519"))

	if _, err := manager.EnsureKeyPair(); err != nil {
		t.Fatalf("First EnsureKeyPair() error = %v", err)
	}
	orig, _ := os.ReadFile(manager.PrivateKeyPath())

	created, err := manager.EnsureKeyPair()
	if err != nil {
		t.Fatalf("Second EnsureKeyPair() error = %v", err)
	}
	if created {
		t.Error("EnsureKeyPair() regenerated an existing pair")
	}
	again, _ := os.ReadFile(manager.PrivateKeyPath())
	if string(orig) != string(again) {
		t.Error("private key content changed")
	}
}

func TestKeyManagerMissingKey(t *testing.T) {
	manager := NewKeyManager(filepath.Join(t.TempDir(), "id_ed25519"))

	if _, err := manager.AuthorizedKey(); !errors.Is(err, ErrNoKey) {
		t.Errorf("AuthorizedKey() error = %v, want ErrNoKey", err)
	}
	if _, err := manager.Fingerprint(); !errors.Is(err, ErrNoKey) {
		t.Errorf("Fingerprint() error = %v, want ErrNoKey", err)
	}
}
