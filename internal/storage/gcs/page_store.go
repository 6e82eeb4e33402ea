// Package gcs stores encoded pages in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/neuron"
	pagestorage "github.com/JakeFAU/neuronav/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// PageStore writes pages to a configured GCS bucket.
type PageStore struct {
	client *storage.Client
	bucket string
	prefix string
	codec  *codec.Codec
}

// New creates a GCS-backed page store.
func New(client *storage.Client, cfg Config, c *codec.Codec) (*PageStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if c == nil {
		c = codec.Default
	}
	return &PageStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		codec:  c,
	}, nil
}

// URI returns the gs:// location of addr.
func (s *PageStore) URI(addr neuron.Address) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.key(addr))
}

func (s *PageStore) key(addr neuron.Address) string {
	return pagestorage.ObjectKey(s.prefix, addr.Model, addr.Layer, addr.Neuron)
}

// Exists checks the object's attributes.
func (s *PageStore) Exists(ctx context.Context, addr neuron.Address) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.key(addr)).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, &neuron.PathError{Kind: neuron.ErrIO, Path: s.URI(addr), Err: err}
	}
}

// Put uploads the encoded page.
func (s *PageStore) Put(ctx context.Context, addr neuron.Address, page neuron.Page) error {
	data, err := s.codec.Encode(page)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.key(addr)).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			err = fmt.Errorf("%w (close writer: %v)", err, closeErr)
		}
		return &neuron.PathError{Kind: neuron.ErrIO, Path: s.URI(addr), Err: fmt.Errorf("write object: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &neuron.PathError{Kind: neuron.ErrIO, Path: s.URI(addr), Err: fmt.Errorf("close writer: %w", err)}
	}
	return nil
}

// Get downloads and decodes the page.
func (s *PageStore) Get(ctx context.Context, addr neuron.Address) (neuron.Page, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.key(addr)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrNotFound, Path: s.URI(addr)}
		}
		return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrIO, Path: s.URI(addr), Err: err}
	}
	defer func() { _ = reader.Close() }()

	page, err := codec.DecodeFrom(reader)
	if err != nil {
		return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrCorruptData, Path: s.URI(addr), Err: err}
	}
	return page, nil
}
