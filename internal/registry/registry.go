// Package registry owns the data directory: config.json with the registered
// services, and one directory per model. Reads may run concurrently; writes
// are exclusive. Callers only ever receive copies.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

// ConfigFile is the service list inside the data root.
const ConfigFile = "config.json"

// ErrDuplicateService reports an AddService name collision.
var ErrDuplicateService = errors.New("service already registered")

// Registry is the repository over one data root.
type Registry struct {
	root string

	mu       sync.RWMutex
	services map[string]Service
}

func configPath(root string) string {
	return filepath.Join(root, ConfigFile)
}

// Initialize creates root, which must be missing or empty, and writes an
// empty service list.
func Initialize(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory %q: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read data directory %q: %w", root, err)
	}
	if len(entries) > 0 {
		return nil, fmt.Errorf("data directory %q is not empty", root)
	}
	r := &Registry{root: root, services: make(map[string]Service)}
	if err := r.Save(); err != nil {
		return nil, fmt.Errorf("save new registry: %w", err)
	}
	return r, nil
}

// Open loads an initialized root.
func Open(root string) (*Registry, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, &neuron.PathError{Kind: neuron.ErrNotFound, Path: root, Err: fmt.Errorf("data directory %q is not a directory", root)}
	}
	path := configPath(root)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &neuron.PathError{Kind: neuron.ErrNotFound, Path: path, Err: fmt.Errorf("registry config not found; should be at %q", path)}
	}
	if err != nil {
		return nil, &neuron.PathError{Kind: neuron.ErrIO, Path: path, Err: err}
	}
	var list []Service
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse registry config %q: %w", path, err)
	}
	services := make(map[string]Service, len(list))
	for _, svc := range list {
		if _, dup := services[svc.Name]; dup {
			return nil, fmt.Errorf("parse registry config %q: %w: %q", path, ErrDuplicateService, svc.Name)
		}
		services[svc.Name] = svc
	}
	return &Registry{root: root, services: services}, nil
}

// Root returns the data root.
func (r *Registry) Root() string {
	return r.root
}

// Save writes config.json, services sorted by name.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r.sortedLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry config: %w", err)
	}
	path := configPath(r.root)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return &neuron.PathError{Kind: neuron.ErrIO, Path: path, Err: err}
	}
	return nil
}

func (r *Registry) sortedLocked() []Service {
	list := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		list = append(list, svc)
	}
	slices.SortFunc(list, func(a, b Service) int { return strings.Compare(a.Name, b.Name) })
	return list
}

// AddService registers svc and persists the registry. A failed save leaves
// the in-memory registry unchanged.
func (r *Registry) AddService(svc Service) error {
	if strings.TrimSpace(svc.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	switch p := svc.Provider.(type) {
	case Neuroscope:
	case JSONFiles:
		if err := validateSubpath(p.Path); err != nil {
			return err
		}
	default:
		return fmt.Errorf("service %q: unsupported provider %T", svc.Name, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[svc.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateService, svc.Name)
	}
	r.services[svc.Name] = svc
	if err := r.saveLocked(); err != nil {
		delete(r.services, svc.Name)
		return err
	}
	return nil
}

// Service looks name up; a missing name wraps neuron.ErrKeyNotFound.
func (r *Registry) Service(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	if !ok {
		return Service{}, fmt.Errorf("service %q not found: %w", name, neuron.ErrKeyNotFound)
	}
	return svc, nil
}

// Services lists registered services sorted by name.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// ModelDir is the directory holding every service's pages for model.
func (r *Registry) ModelDir(model string) string {
	return filepath.Join(r.root, model)
}

// Models lists the model directories under the root.
func (r *Registry) Models() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, &neuron.PathError{Kind: neuron.ErrIO, Path: r.root, Err: err}
	}
	var models []string
	for _, e := range entries {
		if e.IsDir() {
			models = append(models, e.Name())
		}
	}
	return models, nil
}

// ValidateModel rejects model names that would not name a single directory
// directly under the data root. The error wraps neuron.ErrNotFound.
func ValidateModel(model string) error {
	if model == "." || !filepath.IsLocal(model) || strings.ContainsAny(model, `/\`) {
		return &neuron.PathError{
			Kind: neuron.ErrNotFound,
			Path: model,
			Err:  fmt.Errorf("invalid model name %q: must be a single directory name inside the data root", model),
		}
	}
	return nil
}

// validateSubpath keeps JSON service directories inside the model directory.
func validateSubpath(p string) error {
	if p == "" {
		return fmt.Errorf("json provider path is required")
	}
	if !filepath.IsLocal(p) {
		return fmt.Errorf("json provider path %q must be relative and stay inside the model directory", p)
	}
	return nil
}
