// Package mongostore provides MongoDB-backed document and progress stores.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kruyneg/information-retrieval/internal/crawler"
)

// Config selects the deployment and collections.
type Config struct {
	URL                string
	DB                 string
	Collection         string
	ProgressCollection string
}

// collection is the subset of *mongo.Collection the store relies on.
type collection interface {
	upsert(ctx context.Context, filter, set bson.M) error
	findOne(ctx context.Context, filter bson.M, out any) error
}

// errNotFound is returned by collection.findOne when nothing matches.
var errNotFound = errors.New("document not found")

// Store persists documents and resume cursors in MongoDB.
type Store struct {
	docs     collection
	progress collection
	ping     func(context.Context) error
	close    func(context.Context) error
	now      func() time.Time
}

// New connects to MongoDB. The driver connects lazily; use Ping to verify.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.DB == "" {
		return nil, fmt.Errorf("mongo url and db are required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(cfg.DB)
	docsName := cfg.Collection
	if docsName == "" {
		docsName = "articles"
	}
	progressName := cfg.ProgressCollection
	if progressName == "" {
		progressName = "url_progress"
	}
	return &Store{
		docs:     driverCollection{db.Collection(docsName)},
		progress: driverCollection{db.Collection(progressName)},
		ping: func(ctx context.Context) error {
			return client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
		},
		close: client.Disconnect,
		now:   time.Now,
	}, nil
}

// Ping issues an admin ping command.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	if err := s.close(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// UpsertDocument replaces the fields of the document keyed by URL, inserting
// it when absent.
func (s *Store) UpsertDocument(ctx context.Context, doc crawler.Document) error {
	if doc.URL == "" {
		return fmt.Errorf("document url is required")
	}
	set := bson.M{
		"url":        doc.URL,
		"kind":       string(doc.Kind),
		"title":      doc.Title,
		"text":       doc.Text,
		"host":       doc.Host,
		"fetched_at": doc.FetchedAt,
	}
	if err := s.docs.upsert(ctx, bson.M{"url": doc.URL}, set); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

type progressDoc struct {
	LastURL string `bson:"last_url"`
}

// LastURL returns the resume cursor for host.
func (s *Store) LastURL(ctx context.Context, host string) (string, bool, error) {
	var p progressDoc
	err := s.progress.findOne(ctx, bson.M{"_id": host}, &p)
	if errors.Is(err, errNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find progress: %w", err)
	}
	return p.LastURL, true, nil
}

// SetLastURL overwrites the resume cursor for host.
func (s *Store) SetLastURL(ctx context.Context, host, url string) error {
	set := bson.M{"last_url": url, "updated_at": s.now().UTC()}
	if err := s.progress.upsert(ctx, bson.M{"_id": host}, set); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

type driverCollection struct {
	coll *mongo.Collection
}

func (c driverCollection) upsert(ctx context.Context, filter, set bson.M) error {
	_, err := c.coll.UpdateOne(ctx, filter, bson.M{"$set": set}, options.UpdateOne().SetUpsert(true))
	return err
}

func (c driverCollection) findOne(ctx context.Context, filter bson.M, out any) error {
	err := c.coll.FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errNotFound
	}
	return err
}
