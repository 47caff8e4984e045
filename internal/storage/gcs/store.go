// Package gcs stores documents and resume cursors as JSON objects in Google
// Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/hash/sha256"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// Store writes one object per document and per host cursor.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

type progressRecord struct {
	Host      string    `json:"host"`
	LastURL   string    `json:"last_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a client using Application Default Credentials unless opts
// override them.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Store, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	store, err := NewWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

// DocumentObject is the object name holding the document for url.
func (s *Store) DocumentObject(url string) string {
	return s.objectName("documents", url)
}

// ProgressObject is the object name holding the cursor for host.
func (s *Store) ProgressObject(host string) string {
	return s.objectName("progress", host)
}

func (s *Store) objectName(kind, key string) string {
	return path.Join(s.prefix, kind, sha256.FileName(key))
}

// Ping verifies the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", s.bucket, err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// UpsertDocument overwrites the object for doc.URL.
func (s *Store) UpsertDocument(ctx context.Context, doc crawler.Document) error {
	if doc.URL == "" {
		return fmt.Errorf("document url is required")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.put(ctx, s.DocumentObject(doc.URL), data)
}

// LastURL returns the resume cursor for host.
func (s *Store) LastURL(ctx context.Context, host string) (string, bool, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.ProgressObject(host)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("open progress object: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", false, fmt.Errorf("read progress object: %w", err)
	}
	var rec progressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false, fmt.Errorf("decode progress object: %w", err)
	}
	return rec.LastURL, true, nil
}

// SetLastURL overwrites the cursor object for host.
func (s *Store) SetLastURL(ctx context.Context, host, url string) error {
	data, err := json.Marshal(progressRecord{Host: host, LastURL: url, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.put(ctx, s.ProgressObject(host), data)
}

func (s *Store) put(ctx context.Context, object string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", object, err)
	}
	return nil
}
