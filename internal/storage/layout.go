package storage

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/JakeFAU/neuronav/internal/codec"
)

// PageDir is the per-model subdirectory holding encoded pages.
const PageDir = "neuroscope"

// FileName returns the page file name for a layer and neuron.
func FileName(layer, neuron uint32) string {
	return fmt.Sprintf("l%dn%d%s", layer, neuron, codec.Extension)
}

// PagePath returns <root>/<model>/neuroscope/l<layer>n<neuron>.nrnp.
func PagePath(root, model string, layer, neuron uint32) string {
	return filepath.Join(root, model, PageDir, FileName(layer, neuron))
}

// ObjectKey returns the object-store key for a page, rooted at prefix.
func ObjectKey(prefix, model string, layer, neuron uint32) string {
	return path.Join(prefix, model, PageDir, FileName(layer, neuron))
}
