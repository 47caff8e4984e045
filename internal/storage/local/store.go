// Package local persists documents as JSON files on the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/hash/sha256"
)

const progressFile = "progress.json"

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the directory holding one file per document plus the
	// progress file.
	BaseDir string
}

// Store writes documents to <BaseDir>/<sha256(url)>.json.
type Store struct {
	baseDir string
	// progressMu serializes read-modify-write of the progress file.
	progressMu sync.Mutex
}

// New creates a new local filesystem-backed store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	s := &Store{baseDir: cfg.BaseDir}
	if err := s.Ping(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// documentPath returns the file a document for url is written to.
func (s *Store) documentPath(url string) string {
	return filepath.Join(s.baseDir, sha256.FileName(url))
}

// UpsertDocument writes doc, replacing any previous file for the same URL.
func (s *Store) UpsertDocument(_ context.Context, doc crawler.Document) error {
	if strings.TrimSpace(doc.URL) == "" {
		return fmt.Errorf("document url is required")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := writeFileAtomic(s.documentPath(doc.URL), data); err != nil {
		return fmt.Errorf("write document %s: %w", doc.URL, err)
	}
	return nil
}

// readDocument loads the stored document for url.
func (s *Store) readDocument(url string) (crawler.Document, error) {
	// #nosec G304 -- path is derived from a hash inside baseDir.
	data, err := os.ReadFile(s.documentPath(url))
	if err != nil {
		return crawler.Document{}, fmt.Errorf("read document: %w", err)
	}
	var doc crawler.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return crawler.Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// LastURL returns the resume cursor for host.
func (s *Store) LastURL(_ context.Context, host string) (string, bool, error) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	progress, err := s.readProgress()
	if err != nil {
		return "", false, err
	}
	u, ok := progress[host]
	return u, ok, nil
}

// SetLastURL overwrites the resume cursor for host.
func (s *Store) SetLastURL(_ context.Context, host, url string) error {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	progress, err := s.readProgress()
	if err != nil {
		return err
	}
	progress[host] = url
	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.baseDir, progressFile), data); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// Ping checks that the base directory is writable.
func (s *Store) Ping(context.Context) error {
	testFile := filepath.Join(s.baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("failed to clean up test file: %w", err)
	}
	return nil
}

func (s *Store) readProgress() (map[string]string, error) {
	progress := make(map[string]string)
	// #nosec G304 -- fixed file name inside baseDir.
	data, err := os.ReadFile(filepath.Join(s.baseDir, progressFile))
	if errors.Is(err, os.ErrNotExist) {
		return progress, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return progress, nil
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
