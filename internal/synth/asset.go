package synth

import (
	"fmt"
	"os"
	"sync"
)

// Asset is an opaque handle to generated audio for one line, plus the backend
// that produced it. Assets are transient: Release deletes the underlying file
// once the asset has been played or superseded.
type Asset struct {
	Path    string // audio file on disk (MP3)
	Backend string // name of the producing backend
	Size    int64

	mu       sync.Mutex
	released bool
}

// Valid reports whether the asset still points at a usable payload. A
// released asset or a zero-byte file is invalid.
func (a *Asset) Valid() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released || a.Size == 0 {
		return false
	}
	info, err := os.Stat(a.Path)
	return err == nil && info.Size() > 0
}

// Release deletes the asset's file. Safe to call more than once.
func (a *Asset) Release() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	os.Remove(a.Path)
}

// NewAsset stats path and wraps it as an asset, enforcing the size contract:
// a missing or zero-byte file yields ErrEmptyAsset.
func NewAsset(path, backend string) (*Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyAsset, err)
	}
	if info.Size() == 0 {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %s", ErrEmptyAsset, path)
	}
	return &Asset{Path: path, Backend: backend, Size: info.Size()}, nil
}
