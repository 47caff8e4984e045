package mongostore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kruyneg/information-retrieval/internal/crawler"
)

// fakeCollection keys records by the single filter value, like a unique index.
type fakeCollection struct {
	mu      sync.Mutex
	records map[any]bson.M
	err     error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{records: make(map[any]bson.M)}
}

func key(filter bson.M) any {
	for _, v := range filter {
		return v
	}
	return nil
}

func (f *fakeCollection) upsert(_ context.Context, filter, set bson.M) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	rec, ok := f.records[key(filter)]
	if !ok {
		rec = bson.M{}
		f.records[key(filter)] = rec
	}
	for k, v := range set {
		rec[k] = v
	}
	return nil
}

func (f *fakeCollection) findOne(_ context.Context, filter bson.M, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	rec, ok := f.records[key(filter)]
	if !ok {
		return errNotFound
	}
	raw, err := bson.Marshal(rec)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func newTestStore() (*Store, *fakeCollection, *fakeCollection) {
	docs, progress := newFakeCollection(), newFakeCollection()
	return &Store{
		docs:     docs,
		progress: progress,
		ping:     func(context.Context) error { return nil },
		now:      func() time.Time { return time.Unix(1700000000, 0) },
	}, docs, progress
}

func TestUpsertDocumentIsKeyedByURL(t *testing.T) {
	t.Parallel()

	s, docs, _ := newTestStore()
	ctx := context.Background()
	doc := crawler.Document{URL: "https://habr.com/ru/articles/1/", Kind: crawler.KindHabr, Title: "v1", Text: "t"}
	require.NoError(t, s.UpsertDocument(ctx, doc))
	doc.Title = "v2"
	require.NoError(t, s.UpsertDocument(ctx, doc))

	require.Len(t, docs.records, 1)
	rec := docs.records[doc.URL]
	assert.Equal(t, "v2", rec["title"])
	assert.Equal(t, "habr", rec["kind"])
}

func TestUpsertDocumentErrors(t *testing.T) {
	t.Parallel()

	s, docs, _ := newTestStore()
	require.Error(t, s.UpsertDocument(context.Background(), crawler.Document{}))

	docs.err = errors.New("not primary")
	err := s.UpsertDocument(context.Background(), crawler.Document{URL: "https://habr.com/x"})
	require.ErrorContains(t, err, "upsert document")
}

func TestProgressRoundTrip(t *testing.T) {
	t.Parallel()

	s, _, progress := newTestStore()
	ctx := context.Background()

	_, ok, err := s.LastURL(ctx, "https://habr.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastURL(ctx, "https://habr.com", "https://habr.com/1"))
	require.NoError(t, s.SetLastURL(ctx, "https://habr.com", "https://habr.com/2"))
	got, ok, err := s.LastURL(ctx, "https://habr.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://habr.com/2", got)
	assert.Len(t, progress.records, 1)
}

func TestLastURLPropagatesErrors(t *testing.T) {
	t.Parallel()

	s, _, progress := newTestStore()
	progress.err = errors.New("timeout")
	_, _, err := s.LastURL(context.Background(), "https://habr.com")
	require.ErrorContains(t, err, "find progress")
}

func TestPing(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestStore()
	require.NoError(t, s.Ping(context.Background()))
	s.ping = func(context.Context) error { return errors.New("no reachable servers") }
	require.ErrorContains(t, s.Ping(context.Background()), "ping mongo")
	require.NoError(t, s.Close(context.Background()))
}

func TestNewRequiresURLAndDB(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
