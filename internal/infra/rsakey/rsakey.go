// Package rsakey loads the server's RSA public key and encrypts passwords
// under it.
package rsakey

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source hands out the public key for the span of one operation. Callers must
// invoke release once they are done with the key.
type Source interface {
	Acquire() (key *rsa.PublicKey, release func(), err error)
}

// FileSource reads a PEM encoded key from disk on every acquisition.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

// Acquire loads and parses the key file.
func (s *FileSource) Acquire() (*rsa.PublicKey, func(), error) {
	if s.path == "" {
		return nil, nil, errors.New("no public key file configured")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read public key %s: %w", s.path, err)
	}
	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse public key %s: %w", s.path, err)
	}
	return key, func() { key = nil }, nil
}

// StaticSource always returns the same key.
type StaticSource struct {
	key *rsa.PublicKey
}

// NewStaticSource wraps an already parsed key.
func NewStaticSource(key *rsa.PublicKey) *StaticSource { return &StaticSource{key: key} }

// Acquire returns the wrapped key.
func (s *StaticSource) Acquire() (*rsa.PublicKey, func(), error) {
	if s.key == nil {
		return nil, nil, errors.New("no public key configured")
	}
	return s.key, func() {}, nil
}

// ParsePublicKey accepts PEM blocks of type "PUBLIC KEY" (PKIX) or
// "RSA PUBLIC KEY" (PKCS#1).
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", pub)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// EncryptPassword encrypts password with RSA PKCS#1 v1.5 and returns the
// ciphertext in standard base64.
func EncryptPassword(pub *rsa.PublicKey, password string, random io.Reader) (string, error) {
	if pub == nil {
		return "", errors.New("public key is nil")
	}
	ct, err := rsa.EncryptPKCS1v15(random, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
