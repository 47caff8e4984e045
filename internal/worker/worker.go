// Package worker implements the consumer side of the crawl pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/metrics"
	"github.com/kruyneg/information-retrieval/internal/progress"
)

// Outcome labels one processed item for metrics and tests.
type Outcome string

// Per-item outcomes.
const (
	OutcomeStored     Outcome = "stored"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeBadStatus  Outcome = "bad_status"
	OutcomeFetchError Outcome = "fetch_error"
	OutcomeParseError Outcome = "parse_error"
	OutcomeStoreError Outcome = "store_error"
	OutcomeLimit      Outcome = "limit_reached"
	OutcomeDropped    Outcome = "dropped"
	OutcomeCanceled   Outcome = "canceled"
	OutcomePanic      Outcome = "panic"
)

// Stopper reports whether the pipeline has been asked to stop.
type Stopper interface {
	Stopping() bool
}

// Config controls Worker behavior.
type Config struct {
	// DropOnStop discards items dequeued after a stop request (hard drain).
	DropOnStop bool
}

// Deps bundles the collaborators shared by every worker in a pool.
type Deps struct {
	Queue     crawler.Queue
	Limiter   crawler.Limiter
	Fetcher   crawler.Fetcher
	Parser    crawler.DocumentParser
	Documents crawler.DocumentStore
	Budget    *Budget
	Stop      Stopper
	Events    progress.Emitter
	RunID     uuid.UUID
	// Unstored, when set, receives every item skipped because the
	// completion limit was reached.
	Unstored func(crawler.CrawlItem)
}

// Worker consumes crawl items until it dequeues a sentinel.
type Worker struct {
	id     int
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Budget == nil {
		deps.Budget = NewBudget(0, 0, nil)
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks until a sentinel is dequeued or the queue fails. The context
// passed here should outlive stop requests so in-flight items can finish.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			w.logger.Warn("Dequeue failed, worker exiting", zap.Error(err))
			return
		}
		if item.IsSentinel() {
			w.logger.Debug("Sentinel received, worker exiting")
			return
		}
		outcome := w.Process(ctx, item)
		metrics.ObserveDocument(item.Host, string(outcome))
	}
}

// Process handles one item and never panics.
func (w *Worker) Process(ctx context.Context, item crawler.CrawlItem) (outcome Outcome) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Item processing panicked",
				zap.String("url", item.URL),
				zap.String("host", item.Host),
				zap.Any("panic", r),
			)
			outcome = OutcomePanic
		}
	}()

	if w.deps.Budget.Exhausted() {
		return w.skipOverLimit(item)
	}
	if w.cfg.DropOnStop && w.deps.Stop != nil && w.deps.Stop.Stopping() {
		w.logger.Debug("Dropping item after stop", zap.String("url", item.URL))
		return OutcomeDropped
	}

	if err := w.deps.Limiter.Acquire(ctx, item.Host); err != nil {
		w.logger.Error("Rate limiter wait failed",
			zap.String("url", item.URL),
			zap.String("host", item.Host),
			zap.Error(err),
		)
		return OutcomeCanceled
	}

	resp, err := w.deps.Fetcher.Fetch(ctx, item.URL)
	if err != nil {
		metrics.ObserveFetch(item.Host, "error", 0)
		w.emit(progress.Event{
			Stage: progress.StageFetchDone, Host: item.Host, URL: item.URL,
			StatusClass: progress.StatusError, Note: err.Error(),
		})
		w.logger.Error("Fetch failed", zap.String("url", item.URL), zap.String("host", item.Host), zap.Error(err))
		return OutcomeFetchError
	}
	metrics.ObserveFetch(item.Host, strconv.Itoa(resp.StatusCode), len(resp.Body))
	w.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Host:        item.Host,
		URL:         item.URL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
		Note:        strconv.Itoa(resp.StatusCode),
	})

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		w.logger.Debug("Page not found", zap.String("url", item.URL))
		return OutcomeNotFound
	default:
		w.logger.Error("Unexpected status",
			zap.String("url", item.URL),
			zap.String("host", item.Host),
			zap.Int("status", resp.StatusCode),
		)
		return OutcomeBadStatus
	}

	return w.persist(ctx, item, resp)
}

func (w *Worker) persist(ctx context.Context, item crawler.CrawlItem, resp crawler.FetchResponse) Outcome {
	doc, err := w.deps.Parser.Parse(item.URL, resp.Body)
	if err != nil {
		var parseErr *crawler.ParseError
		if !errors.As(err, &parseErr) {
			err = &crawler.ParseError{URL: item.URL, Err: err}
		}
		w.logger.Error("Parse failed", zap.String("url", item.URL), zap.String("host", item.Host), zap.Error(err))
		return OutcomeParseError
	}
	doc.Host = item.Host

	size := documentSize(doc)
	if !w.deps.Budget.Reserve(size) {
		return w.skipOverLimit(item)
	}
	if err := w.deps.Documents.UpsertDocument(ctx, doc); err != nil {
		w.deps.Budget.Release(size)
		w.logger.Error("Store document failed",
			zap.String("url", item.URL),
			zap.String("host", item.Host),
			zap.Error(fmt.Errorf("upsert document: %w", err)),
		)
		return OutcomeStoreError
	}
	w.deps.Budget.Commit(size)
	w.emit(progress.Event{Stage: progress.StageDocStored, Host: item.Host, URL: item.URL, Bytes: size})
	w.logger.Debug("Document stored", zap.String("url", item.URL), zap.String("kind", string(doc.Kind)))
	return OutcomeStored
}

func (w *Worker) skipOverLimit(item crawler.CrawlItem) Outcome {
	w.logger.Debug("Completion limit reached, skipping item", zap.String("url", item.URL))
	if w.deps.Unstored != nil {
		w.deps.Unstored(item)
	}
	return OutcomeLimit
}

// documentSize is the length of the document's JSON encoding, the unit the
// byte limit is counted in.
func documentSize(doc crawler.Document) int64 {
	raw, err := json.Marshal(doc)
	if err != nil {
		return int64(len(doc.URL) + len(doc.Title) + len(doc.Text))
	}
	return int64(len(raw))
}

func (w *Worker) emit(evt progress.Event) {
	evt.RunID = w.deps.RunID
	w.deps.Events.Emit(evt)
}

// Pool runs a fixed number of workers over a shared queue.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool builds size workers sharing deps.
func NewPool(size int, deps Deps, cfg Config, logger *zap.Logger) *Pool {
	if deps.Budget == nil {
		deps.Budget = NewBudget(0, 0, nil)
	}
	p := &Pool{workers: make([]*Worker, 0, size)}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, New(i, deps, cfg, logger))
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches every worker on its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
