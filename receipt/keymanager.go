package receipt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// KeyManager holds the ECDSA P-256 key that signs claim receipts.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey // Keep private - sensitive!
	PublicKey  *ecdsa.PublicKey
}

// NewKeyManager creates a new KeyManager with a fresh key pair.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return newKeyManager(privateKey), nil
}

// LoadOrCreateKeyManager loads the PEM encoded private key at path. If the file does
// not exist a new key is generated and written there with mode 0600.
func LoadOrCreateKeyManager(path string) (*KeyManager, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		km, err := NewKeyManager()
		if err != nil {
			return nil, err
		}
		keyPEM, err := km.PrivateKeyPEM()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(keyPEM), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write signing key to %s: %w", path, err)
		}
		return km, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key from %s: %w", path, err)
	}
	return ParsePrivateKeyPEM(string(data))
}

// ParsePrivateKeyPEM loads a KeyManager from a SEC 1 ("EC PRIVATE KEY") or
// PKCS #8 ("PRIVATE KEY") PEM block.
func ParsePrivateKeyPEM(keyPEM string) (*KeyManager, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in signing key")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		return newKeyManager(key), nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 private key: %w", err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key is %T, expected ECDSA", parsed)
		}
		return newKeyManager(key), nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

func newKeyManager(key *ecdsa.PrivateKey) *KeyManager {
	return &KeyManager{
		privateKey: key,
		PublicKey:  &key.PublicKey,
	}
}

// PrivateKeyPEM returns the private key in SEC 1 PEM format.
func (km *KeyManager) PrivateKeyPEM() (string, error) {
	der, err := x509.MarshalECPrivateKey(km.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// PublicKeyPEM returns the public key in PEM format.
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}

// KeyID returns a short identifier for the public key: the first 8 bytes of the
// SHA-256 of its PKIX encoding, hex encoded.
func (km *KeyManager) KeyID() (string, error) {
	return keyID(km.PublicKey)
}

func keyID(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}

// ParsePublicKeyPEM parses a PKIX ECDSA public key.
func ParsePublicKeyPEM(publicKeyPEM string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, expected ECDSA", parsed)
	}
	return pub, nil
}
