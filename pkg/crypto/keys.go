// Package crypto derives the at-rest encryption key of a graph from a
// passphrase.
//
// The key is PBKDF2-HMAC-SHA256 over the passphrase and a random 32-byte
// salt stored next to the data as graphlite.salt. The salt is not secret,
// but losing it makes the data unreadable, so it is written once and never
// replaced.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltFile is the name of the salt file inside a data directory.
	SaltFile = "graphlite.salt"
	// SaltSize is the length of a generated salt.
	SaltSize = 32
	// KeySize is the length of a derived key (AES-256).
	KeySize = 32
	// DefaultIterations is the PBKDF2 work factor used when none is given.
	DefaultIterations = 600000
)

// DeriveKey stretches password into a KeySize-byte key. iterations <= 0
// selects DefaultIterations.
func DeriveKey(password, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)
}

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// LoadOrCreateSalt reads the salt of dataDir, creating the directory and a
// fresh salt when none exists yet. A salt file of the wrong size is an error.
func LoadOrCreateSalt(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, SaltFile)
	salt, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("salt file %s has %d bytes, expected %d", path, len(salt), SaltSize)
		}
		return salt, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	if salt, err = GenerateSalt(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to save salt: %w", err)
	}
	return salt, nil
}

// KeyForDir derives the encryption key for the graph stored in dataDir.
func KeyForDir(dataDir, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption password is empty")
	}
	salt, err := LoadOrCreateSalt(dataDir)
	if err != nil {
		return nil, err
	}
	return DeriveKey([]byte(password), salt, iterations), nil
}
