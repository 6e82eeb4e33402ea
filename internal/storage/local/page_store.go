// Package local stores encoded pages on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/storage"
)

// Config captures the parameters for the local page store.
type Config struct {
	// BaseDir is the data root; pages land under <BaseDir>/<model>/neuroscope.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// PageStore writes pages through the codec to the local filesystem.
type PageStore struct {
	baseDir string
	codec   *codec.Codec
}

// New creates a local page store, creating BaseDir when it does not exist.
func New(cfg Config, c *codec.Codec) (*PageStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	if c == nil {
		c = codec.Default
	}
	return &PageStore{baseDir: cfg.BaseDir, codec: c}, nil
}

// Path returns the file backing addr.
func (s *PageStore) Path(addr neuron.Address) string {
	return storage.PagePath(s.baseDir, addr.Model, addr.Layer, addr.Neuron)
}

// Exists reports whether the page file is present.
func (s *PageStore) Exists(_ context.Context, addr neuron.Address) (bool, error) {
	path := s.Path(addr)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &neuron.PathError{Kind: neuron.ErrIO, Path: path, Err: err}
	}
}

// Put writes the page file, overwriting any existing copy.
func (s *PageStore) Put(_ context.Context, addr neuron.Address, page neuron.Page) error {
	return s.codec.Write(page, s.Path(addr))
}

// Get reads the page file.
func (s *PageStore) Get(_ context.Context, addr neuron.Address) (neuron.Page, error) {
	return codec.Read(s.Path(addr))
}
