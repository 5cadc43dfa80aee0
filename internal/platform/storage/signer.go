package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs payloads for V4 signed URLs.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeyFileSigner signs with a service account private key loaded from a JSON key file.
type KeyFileSigner struct {
	email string
	key   *rsa.PrivateKey
}

// LoadKeyFileSigner reads a service account key from disk.
func LoadKeyFileSigner(path string) (*KeyFileSigner, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read signer key file: %w", err)
	}
	return ParseKeyFileSigner(contents)
}

// ParseKeyFileSigner decodes a service account JSON key.
func ParseKeyFileSigner(data []byte) (*KeyFileSigner, error) {
	var key struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("storage: decode signer key: %w", err)
	}
	email := strings.TrimSpace(key.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: signer key has no client_email")
	}

	block, _ := pem.Decode([]byte(strings.TrimSpace(key.PrivateKey)))
	if block == nil {
		return nil, errors.New("storage: signer key has no PEM private_key")
	}
	rsaKey, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &KeyFileSigner{email: email, key: rsaKey}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		pkcs1, pkcs1Err := x509.ParsePKCS1PrivateKey(der)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("storage: parse signer key: %w", err)
		}
		return pkcs1, nil
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("storage: signer key is not RSA")
	}
	return rsaKey, nil
}

// Email returns the service account used as GoogleAccessID.
func (s *KeyFileSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes produces an RSA PKCS#1 v1.5 SHA-256 signature.
func (s *KeyFileSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
}
