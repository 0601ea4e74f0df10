// Package encrypt hides a user's wallet address from everyone but the
// auction enclave.
//
// Addresses are encrypted with RSA-OAEP (SHA-256) under the enclave's KMS
// public key and shipped as base64. The production key is embedded; a
// different SPKI PEM can be supplied for staging enclaves or tests.
package encrypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
)

//go:embed kms_public_key.pem
var kmsPublicKeyPEM []byte

// KMSPublicKeyPEM returns a copy of the embedded enclave public key.
func KMSPublicKeyPEM() []byte {
	return append([]byte(nil), kmsPublicKeyPEM...)
}

// Encryptor turns a plaintext wallet address into enclave ciphertext.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

// Error is returned when the key cannot be loaded or the cipher rejects the
// input. It is not retried here; callers see it like any other failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "encryption failed: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// RSA encrypts with RSA-OAEP/SHA-256. The key is parsed on first use and
// the result (key or error) is kept for the lifetime of the value.
type RSA struct {
	pemData []byte

	once sync.Once
	key  *rsa.PublicKey
	err  error
}

// NewRSA returns an encryptor for the given SPKI PEM. A nil or empty PEM
// selects the embedded KMS key.
func NewRSA(pemData []byte) *RSA {
	if len(pemData) == 0 {
		pemData = kmsPublicKeyPEM
	}
	return &RSA{pemData: pemData}
}

// NewRSAFromFile reads a PEM file; an empty path selects the embedded key.
func NewRSAFromFile(path string) (*RSA, error) {
	if path == "" {
		return NewRSA(nil), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "read public key", Err: err}
	}
	return NewRSA(b), nil
}

func (r *RSA) publicKey() (*rsa.PublicKey, error) {
	r.once.Do(func() {
		r.key, r.err = ParsePublicKey(r.pemData)
	})
	return r.key, r.err
}

// Encrypt returns base64(RSA-OAEP-SHA256(plaintext)).
func (r *RSA) Encrypt(plaintext string) (string, error) {
	key, err := r.publicKey()
	if err != nil {
		return "", err
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, []byte(plaintext), nil)
	if err != nil {
		return "", &Error{Op: "encrypt", Err: err}
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// ParsePublicKey decodes an SPKI ("BEGIN PUBLIC KEY") PEM holding an RSA key.
func ParsePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, &Error{Op: "parse public key", Err: errors.New("no PEM block found")}
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &Error{Op: "parse public key", Err: err}
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, &Error{Op: "parse public key", Err: fmt.Errorf("unexpected key type %T", parsed)}
	}
	return key, nil
}

// Decrypt reverses Encrypt with the matching private key. Only the enclave
// (or a local emulator of it) holds that key.
func Decrypt(ciphertextB64 string, key *rsa.PrivateKey) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt ciphertext: %w", err)
	}
	return string(pt), nil
}

// ParsePrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") or PKCS#8 ("PRIVATE KEY").
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}
	return key, nil
}

// EncodePublicKey renders an RSA public key as SPKI PEM.
func EncodePublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
