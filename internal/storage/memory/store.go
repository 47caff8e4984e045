// Package memory keeps documents and resume cursors in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kruyneg/information-retrieval/internal/crawler"
)

// Store implements crawler.DocumentStore and crawler.ProgressStore.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]crawler.Document
	progress map[string]string
	writes   int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		docs:     make(map[string]crawler.Document),
		progress: make(map[string]string),
	}
}

// UpsertDocument stores doc, replacing any previous record for its URL.
func (s *Store) UpsertDocument(_ context.Context, doc crawler.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.URL] = doc
	s.writes++
	return nil
}

// Document returns the record stored for url.
func (s *Store) Document(url string) (crawler.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[url]
	return doc, ok
}

// Documents returns all stored documents ordered by URL.
func (s *Store) Documents() []crawler.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Len reports the number of distinct documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// writeCount reports how many upserts were accepted, including overwrites.
func (s *Store) writeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// LastURL returns the resume cursor for host.
func (s *Store) LastURL(_ context.Context, host string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.progress[host]
	return u, ok, nil
}

// SetLastURL overwrites the resume cursor for host.
func (s *Store) SetLastURL(_ context.Context, host, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[host] = url
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}
