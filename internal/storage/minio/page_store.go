// Package minio stores encoded pages in MinIO or any S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/storage"
)

// Config describes the S3-compatible endpoint and bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
	Bucket    string
	Prefix    string
}

// NewClient builds a minio client with static credentials.
func NewClient(cfg Config) (*minio.Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// PageStore writes pages as objects under prefix.
type PageStore struct {
	client *minio.Client
	bucket string
	prefix string
	codec  *codec.Codec
}

// New creates a page store over an existing client.
func New(client *minio.Client, cfg Config, c *codec.Codec) (*PageStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if c == nil {
		c = codec.Default
	}
	return &PageStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, codec: c}, nil
}

func (s *PageStore) key(addr neuron.Address) string {
	return storage.ObjectKey(s.prefix, addr.Model, addr.Layer, addr.Neuron)
}

func (s *PageStore) uri(addr neuron.Address) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(addr))
}

// Exists stats the object.
func (s *PageStore) Exists(ctx context.Context, addr neuron.Address) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(addr), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, &neuron.PathError{Kind: neuron.ErrIO, Path: s.uri(addr), Err: err}
}

// Put uploads the encoded page in a single request.
func (s *PageStore) Put(ctx context.Context, addr neuron.Address, page neuron.Page) error {
	data, err := s.codec.Encode(page)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(addr), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return &neuron.PathError{Kind: neuron.ErrIO, Path: s.uri(addr), Err: err}
	}
	return nil
}

// Get downloads and decodes the page.
func (s *PageStore) Get(ctx context.Context, addr neuron.Address) (neuron.Page, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(addr), minio.GetObjectOptions{})
	if err != nil {
		return neuron.Page{}, s.readErr(addr, err)
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; Stat surfaces a missing key before decoding.
	if _, err := obj.Stat(); err != nil {
		return neuron.Page{}, s.readErr(addr, err)
	}
	page, err := codec.DecodeFrom(obj)
	if err != nil {
		return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrCorruptData, Path: s.uri(addr), Err: err}
	}
	return page, nil
}

func (s *PageStore) readErr(addr neuron.Address, err error) error {
	if isNotFound(err) {
		return &neuron.PathError{Kind: neuron.ErrNotFound, Path: s.uri(addr)}
	}
	return &neuron.PathError{Kind: neuron.ErrIO, Path: s.uri(addr), Err: err}
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
