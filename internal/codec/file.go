package codec

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

// Write encodes page and writes it to path, creating parent directories and
// overwriting any existing file. A crash mid-write can leave a partial file.
func (c *Codec) Write(page neuron.Page, path string) error {
	data, err := c.Encode(page)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return &neuron.PathError{Kind: neuron.ErrIO, Path: path, Err: fmt.Errorf("create parent directory: %w", err)}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &neuron.PathError{Kind: neuron.ErrIO, Path: path, Err: err}
	}
	return nil
}

// Read opens path and stream-decodes the page stored there.
func Read(path string) (neuron.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrNotFound, Path: path}
		}
		return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrIO, Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	src := &trackingReader{r: f}
	page, err := DecodeFrom(src)
	if err != nil {
		if src.err != nil {
			return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrIO, Path: path, Err: src.err}
		}
		return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrCorruptData, Path: path, Err: err}
	}
	return page, nil
}

// trackingReader remembers the first non-EOF error from the file so read
// failures are not mistaken for corrupt content.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
