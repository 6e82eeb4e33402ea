// Package dispatch turns (model, service, layer, neuron) into the JSON
// document served to clients, branching on the service's storage provider.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/metrics"
	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/registry"
	"github.com/JakeFAU/neuronav/internal/storage"
	"github.com/JakeFAU/neuronav/internal/telemetry"
)

// Registry is the read side of registry.Registry used by the resolver.
type Registry interface {
	Service(name string) (registry.Service, error)
	ModelDir(model string) string
}

// Resolver reads stored pages. It keeps no cache, so files written by a
// concurrent scrape are visible on the next call.
type Resolver struct {
	Registry Registry
	Logger   *zap.Logger
}

// New builds a Resolver.
func New(reg Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Registry: reg, Logger: logger}
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Resolve returns the interchange JSON for one neuron of model as provided by
// service. Errors classify with neuron.Kind: ErrNotFound for a missing
// directory or file, ErrKeyNotFound for an unknown service, ErrCorruptData
// for undecodable pages and ErrIO for other filesystem failures.
func (r *Resolver) Resolve(ctx context.Context, model, service string, layer, n uint32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, span := telemetry.StartSpan(ctx, "dispatch.resolve",
		append(telemetry.PageAttributes(model, layer, n), attribute.String("neuron.service", service))...)
	start := time.Now()
	provider := "none"
	payload, err := r.resolve(model, service, layer, n, &provider)
	span.SetAttributes(attribute.String("dispatch.provider", provider))
	telemetry.EndSpan(span, err)
	result := resultLabel(err)
	metrics.ObserveDispatch(provider, result)

	fields := []zap.Field{
		zap.String("model", model),
		zap.String("service", service),
		zap.Uint32("layer", layer),
		zap.Uint32("neuron", n),
		zap.String("provider", provider),
		zap.Duration("dur", time.Since(start)),
	}
	if err != nil {
		r.logger().Debug("dispatch failed", append(fields, zap.Error(err))...)
		return "", err
	}
	r.logger().Debug("dispatch served", fields...)
	return payload, nil
}

func (r *Resolver) resolve(model, service string, layer, n uint32, provider *string) (string, error) {
	if err := registry.ValidateModel(model); err != nil {
		return "", err
	}
	modelDir := r.Registry.ModelDir(model)
	if !isDir(modelDir) {
		return "", &neuron.PathError{
			Kind: neuron.ErrNotFound,
			Path: modelDir,
			Err:  fmt.Errorf("model directory not found for model %q; should be at %q", model, modelDir),
		}
	}
	svc, err := r.Registry.Service(service)
	if err != nil {
		return "", err
	}

	switch p := svc.Provider.(type) {
	case registry.Neuroscope:
		*provider = "neuroscope"
		return neuroscopePage(modelDir, model, layer, n)
	case registry.JSONFiles:
		*provider = "json"
		return jsonFile(modelDir, p.Path, model, svc.Name, layer, n)
	default:
		return "", fmt.Errorf("service %q: unsupported provider %T", svc.Name, p)
	}
}

func neuroscopePage(modelDir, model string, layer, n uint32) (string, error) {
	dir := filepath.Join(modelDir, storage.PageDir)
	if !isDir(dir) {
		return "", &neuron.PathError{
			Kind: neuron.ErrNotFound,
			Path: dir,
			Err:  fmt.Errorf("neuroscope directory not found for model %q; should be at %q", model, dir),
		}
	}
	page, err := codec.Read(filepath.Join(dir, storage.FileName(layer, n)))
	if err != nil {
		return "", fmt.Errorf("read neuroscope page for model %q at layer %d neuron %d: %w", model, layer, n, err)
	}
	data, err := json.Marshal(page)
	if err != nil {
		return "", fmt.Errorf("encode neuroscope page: %w", err)
	}
	return string(data), nil
}

func jsonFile(modelDir, sub, model, service string, layer, n uint32) (string, error) {
	dir := filepath.Join(modelDir, sub)
	if !isDir(dir) {
		return "", &neuron.PathError{
			Kind: neuron.ErrNotFound,
			Path: dir,
			Err:  fmt.Errorf("service directory not found for service %q and model %q; should be at %q", service, model, dir),
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("l%dn%d.json", layer, n))
	data, err := os.ReadFile(path)
	if err != nil {
		kind := neuron.ErrIO
		if errors.Is(err, fs.ErrNotExist) {
			kind = neuron.ErrNotFound
		}
		return "", &neuron.PathError{
			Kind: kind,
			Path: path,
			Err: fmt.Errorf("read JSON file for service %q and model %q at layer %d neuron %d: %w",
				service, model, layer, n, err),
		}
	}
	return string(data), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func resultLabel(err error) string {
	switch neuron.Kind(err) {
	case nil:
		if err != nil {
			return metrics.ResultError
		}
		return metrics.ResultOK
	case neuron.ErrNotFound:
		return metrics.ResultNotFound
	case neuron.ErrKeyNotFound:
		return metrics.ResultUnknown
	case neuron.ErrCorruptData:
		return metrics.ResultCorrupt
	default:
		return metrics.ResultError
	}
}
