package bootstrap

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyPair is the deployment SSH key pair installed into every container.
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	// AuthorizedKey is the public key in authorized_keys format.
	AuthorizedKey string
}

// EnsureKeyPair generates an ed25519 key pair under dir if one does not
// already exist, and returns it either way.
func EnsureKeyPair(dir string) (KeyPair, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return KeyPair{}, fmt.Errorf("create key dir: %w", err)
	}

	pair := KeyPair{
		PrivateKeyPath: filepath.Join(dir, "id_ed25519"),
		PublicKeyPath:  filepath.Join(dir, "id_ed25519.pub"),
	}

	if data, err := os.ReadFile(pair.PublicKeyPath); err == nil {
		pair.AuthorizedKey = strings.TrimSpace(string(data))
		return pair, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "provisioner deployment key")
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(pair.PrivateKeyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		return KeyPair{}, fmt.Errorf("write private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return KeyPair{}, fmt.Errorf("convert public key: %w", err)
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if err := os.WriteFile(pair.PublicKeyPath, []byte(authorized+"\n"), 0o644); err != nil {
		return KeyPair{}, fmt.Errorf("write public key: %w", err)
	}

	pair.AuthorizedKey = authorized
	return pair, nil
}
