package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	stateKeyName = "state.key"
	stateKeySize = 32 // SQLCipher raw key, no passphrase derivation
)

var errStateKeyCorrupt = errors.New("state key file is corrupt")

// StateKey is the raw SQLCipher key for the state database. It is kept
// hex encoded next to the database, readable by root only, so the file
// holds exactly what goes into the key pragma.
type StateKey [stateKeySize]byte

// NewStateKey returns a random key.
func NewStateKey() (StateKey, error) {
	var k StateKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("failed to generate state key: %w", err)
	}
	return k, nil
}

// Pragma is the key in SQLCipher's raw key literal form, x'<hex>'.
func (k StateKey) Pragma() string {
	return "x'" + hex.EncodeToString(k[:]) + "'"
}

func parseStateKey(text string) (StateKey, error) {
	var k StateKey
	raw, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil || len(raw) != stateKeySize {
		return k, errStateKeyCorrupt
	}
	copy(k[:], raw)
	return k, nil
}

func stateKeyPath(dataDir string) string {
	return filepath.Join(dataDir, stateKeyName)
}

// loadStateKey reads the key for dataDir, creating one on first use.
// created reports a fresh key: any existing database was written with a
// different key and cannot be opened.
func loadStateKey(dataDir string) (key StateKey, created bool, err error) {
	path := stateKeyPath(dataDir)

	data, err := os.ReadFile(path)
	if err == nil {
		key, err = parseStateKey(string(data))
		if err != nil {
			return key, false, fmt.Errorf("%s: %w", path, err)
		}
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return key, false, fmt.Errorf("failed to read state key: %w", err)
	}

	if key, err = NewStateKey(); err != nil {
		return key, false, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return key, false, fmt.Errorf("failed to create data directory: %w", err)
	}
	// O_EXCL: two processes starting together must not end up with
	// different keys.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		return loadStateKey(dataDir)
	}
	if err != nil {
		return key, false, fmt.Errorf("failed to create state key: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key[:])); err != nil {
		f.Close()
		os.Remove(path)
		return key, false, fmt.Errorf("failed to write state key: %w", err)
	}
	if err := f.Close(); err != nil {
		return key, false, fmt.Errorf("failed to write state key: %w", err)
	}
	return key, true, nil
}
