// Package keys manages the Ed25519 token signing key pair on disk.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair represents a token signing key pair
type KeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	// KeyID is the SHA256 fingerprint of the public key, used as the JWT kid
	KeyID string
}

// LoadOrGenerate loads an existing key pair or generates a new one.
// An existing public key file must match the private key.
func LoadOrGenerate(privatePath, publicPath string) (*KeyPair, error) {
	if _, err := os.Stat(privatePath); err == nil {
		kp, err := load(privatePath)
		if err != nil {
			return nil, err
		}
		if err := checkPublic(kp, publicPath); err != nil {
			return nil, err
		}
		return kp, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat private key: %w", err)
	}

	return generate(privatePath, publicPath)
}

func load(privatePath string) (*KeyPair, error) {
	privateBytes, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	raw, err := ssh.ParseRawPrivateKey(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch k := raw.(type) {
	case *ed25519.PrivateKey:
		priv = *k
	case ed25519.PrivateKey:
		priv = k
	default:
		return nil, fmt.Errorf("unsupported key type %T: only ed25519 keys can sign tokens", raw)
	}

	return newKeyPair(priv)
}

func generate(privatePath, publicPath string) (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	kp, err := newKeyPair(priv)
	if err != nil {
		return nil, err
	}

	if err := save(kp, privatePath, publicPath); err != nil {
		return nil, fmt.Errorf("failed to save key pair: %w", err)
	}

	return kp, nil
}

func newKeyPair(priv ed25519.PrivateKey) (*KeyPair, error) {
	pub := priv.Public().(ed25519.PublicKey)
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: priv,
		PublicKey:  pub,
		KeyID:      ssh.FingerprintSHA256(sshPub),
	}, nil
}

func save(kp *KeyPair, privatePath, publicPath string) error {
	if err := os.MkdirAll(filepath.Dir(privatePath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for private key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(publicPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for public key: %w", err)
	}

	// OpenSSH format
	block, err := ssh.MarshalPrivateKey(kp.PrivateKey, "ticketauth token signing key")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(privatePath, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	if err := os.WriteFile(publicPath, kp.AuthorizedKey(), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

func checkPublic(kp *KeyPair, publicPath string) error {
	data, err := os.ReadFile(publicPath)
	if errors.Is(err, os.ErrNotExist) {
		return os.WriteFile(publicPath, kp.AuthorizedKey(), 0o644)
	}
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	fp, err := Fingerprint(data)
	if err != nil {
		return err
	}
	if fp != kp.KeyID {
		return fmt.Errorf("public key %s does not match private key (%s != %s)", publicPath, fp, kp.KeyID)
	}
	return nil
}

// AuthorizedKey returns the public key in OpenSSH authorized_keys format
func (kp *KeyPair) AuthorizedKey() []byte {
	sshPub, err := ssh.NewPublicKey(kp.PublicKey)
	if err != nil {
		return nil
	}
	return ssh.MarshalAuthorizedKey(sshPub)
}

// Fingerprint calculates the SHA256 fingerprint of an authorized_keys line
func Fingerprint(authorizedKey []byte) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(authorizedKey)
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}
