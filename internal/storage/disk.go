// Package storage keeps attachment bytes on the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/huddle-chat/huddle/pkg/crypto"
)

var (
	// ErrNotFound is returned when no object exists for a key
	ErrNotFound = errors.New("object not found")
	// ErrTooLarge is returned when an upload exceeds the size limit
	ErrTooLarge = errors.New("object too large")
	// ErrInvalidKey is returned for keys that were not issued by Save
	ErrInvalidKey = errors.New("invalid storage key")
)

const keyBytes = 16

// Disk stores objects as files named by random keys under a root directory
type Disk struct {
	root string
}

// NewDisk creates the root directory if needed
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{root: root}, nil
}

// Save copies at most maxBytes from r into a new object and returns its key
// and size. maxBytes <= 0 disables the limit.
func (d *Disk) Save(r io.Reader, maxBytes int64) (string, int64, error) {
	key, err := crypto.GenerateSecureID(keyBytes)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		return "", 0, ErrTooLarge
	}

	if err := os.Rename(tmpPath, d.path(key)); err != nil {
		return "", 0, fmt.Errorf("store upload: %w", err)
	}
	return key, n, nil
}

// Open returns a reader for the object stored under key
func (d *Disk) Open(key string) (*os.File, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	f, err := os.Open(d.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes the object stored under key
func (d *Disk) Delete(key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.root, key)
}

// validKey accepts only the lowercase hex keys Save issues
func validKey(key string) bool {
	if len(key) != keyBytes*2 {
		return false
	}
	for _, c := range key {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
