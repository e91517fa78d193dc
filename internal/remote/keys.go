// Package remote manages the credentials vmxfer uses to reach a remote
// Hyper-V host over SSH.
package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrNoKey is returned when the key pair has not been generated yet.
var ErrNoKey = errors.New("SSH key not generated; run 'vmxfer ssh keygen' first")

const keyComment = "vmxfer"

// KeyManager handles the ed25519 key pair at a fixed private key path. The
// public key lives next to it with a .pub suffix.
type KeyManager struct {
	privPath string
}

// NewKeyManager creates a key manager for the given private key path.
func NewKeyManager(privateKeyPath string) *KeyManager {
	return &KeyManager{privPath: privateKeyPath}
}

// PrivateKeyPath returns the private key location, whether or not it exists.
func (m *KeyManager) PrivateKeyPath() string {
	return m.privPath
}

// PublicKeyPath returns the public key location.
func (m *KeyManager) PublicKeyPath() string {
	return m.privPath + ".pub"
}

// KeyPairExists returns true if both private and public keys exist.
func (m *KeyManager) KeyPairExists() bool {
	_, privErr := os.Stat(m.PrivateKeyPath())
	_, pubErr := os.Stat(m.PublicKeyPath())
	return privErr == nil && pubErr == nil
}

// EnsureKeyPair generates an ed25519 key pair if it doesn't exist and reports
// whether a new pair was written.
func (m *KeyManager) EnsureKeyPair() (bool, error) {
	if m.KeyPairExists() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(m.privPath), 0700); err != nil {
		return false, fmt.Errorf("create ssh directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("generate ed25519 key: %w", err)
	}

	if err := writePrivateKey(m.PrivateKeyPath(), privKey); err != nil {
		return false, fmt.Errorf("write private key: %w", err)
	}
	if err := writePublicKey(m.PublicKeyPath(), pubKey); err != nil {
		os.Remove(m.PrivateKeyPath())
		return false, fmt.Errorf("write public key: %w", err)
	}
	return true, nil
}

// AuthorizedKey returns the public key line to append to the host's
// authorized_keys (administrators_authorized_keys for admin accounts).
func (m *KeyManager) AuthorizedKey() (string, error) {
	content, err := os.ReadFile(m.PublicKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoKey
		}
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

// Fingerprint returns the SHA256 fingerprint of the public key.
func (m *KeyManager) Fingerprint() (string, error) {
	line, err := m.AuthorizedKey()
	if err != nil {
		return "", err
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

func writePrivateKey(path string, privKey ed25519.PrivateKey) error {
	block, err := ssh.MarshalPrivateKey(privKey, keyComment)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	return writeFileAtomic(path, pem.EncodeToMemory(block), 0600)
}

func writePublicKey(path string, pubKey ed25519.PublicKey) error {
	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("convert public key: %w", err)
	}

	// ssh-ed25519 <base64> <comment>
	authorized := strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(sshPubKey)), "\n")
	return writeFileAtomic(path, []byte(authorized+" "+keyComment+"\n"), 0644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
