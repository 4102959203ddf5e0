// Package keyshare persists the engine's local key-share state on disk,
// encrypted with a password-derived AES-256-GCM key.
package keyshare

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrShareNotFound    = errors.New("key share not found")
	ErrInvalidPubKey    = errors.New("invalid public key")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	sharesDirName = "keyshares"
	shareExt      = ".share"
	filePerms     = 0o600
	dirPerms      = 0o700

	saltLength       = 32
	nonceLength      = 12
	keyLength        = 32
	pbkdf2Iterations = 100000
)

// Store keeps one encrypted file per public key. It implements the engine's
// StateAccessor so engines never see the password or the file layout.
type Store struct {
	dir      string
	password string
}

// NewStore creates <homeDir>/keyshares if needed.
func NewStore(homeDir, password string) (*Store, error) {
	if homeDir == "" {
		return nil, errors.New("home directory cannot be empty")
	}
	dir := filepath.Join(homeDir, sharesDirName)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create keyshares directory: %w", err)
	}
	return &Store{dir: dir, password: password}, nil
}

// SaveLocalState encrypts and writes the share for pubKey, replacing any previous one.
func (s *Store) SaveLocalState(pubKey string, state []byte) error {
	path, err := s.pathFor(pubKey)
	if err != nil {
		return err
	}
	sealed, err := s.seal(state)
	if err != nil {
		return fmt.Errorf("failed to encrypt key share: %w", err)
	}

	// write-then-rename so a crash never leaves a truncated share behind
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, filePerms); err != nil {
		return fmt.Errorf("failed to write key share: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit key share: %w", err)
	}
	return nil
}

// GetLocalState returns the decrypted share for pubKey.
func (s *Store) GetLocalState(pubKey string) ([]byte, error) {
	path, err := s.pathFor(pubKey)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to read key share: %w", err)
	}
	state, err := s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key share: %w", err)
	}
	return state, nil
}

// Has reports whether a share exists for pubKey.
func (s *Store) Has(pubKey string) (bool, error) {
	path, err := s.pathFor(pubKey)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat key share: %w", err)
	}
	return true, nil
}

// PubKeys lists every public key with a stored share, sorted.
func (s *Store) PubKeys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyshares directory: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), shareExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), shareExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) pathFor(pubKey string) (string, error) {
	if pubKey == "" {
		return "", ErrInvalidPubKey
	}
	if strings.ContainsAny(pubKey, `/\`) || strings.Contains(pubKey, "..") {
		return "", fmt.Errorf("%w: contains path characters", ErrInvalidPubKey)
	}
	return filepath.Join(s.dir, pubKey+shareExt), nil
}

// seal output layout: salt(32) || nonce(12) || ciphertext || tag(16)
func (s *Store) seal(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, errors.New("key share cannot be empty")
	}
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltLength+nonceLength+len(plain)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plain, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltLength+nonceLength {
		return nil, ErrDecryptionFailed
	}
	gcm, err := s.aead(sealed[:saltLength])
	if err != nil {
		return nil, err
	}
	nonce := sealed[saltLength : saltLength+nonceLength]
	plain, err := gcm.Open(nil, nonce, sealed[saltLength+nonceLength:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func (s *Store) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(s.password), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
