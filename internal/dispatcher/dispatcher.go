// Package dispatcher wires producers, the crawl queue and the worker pool into
// one crawl run and owns its shutdown.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/config"
	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/metrics"
	"github.com/kruyneg/information-retrieval/internal/policy/ratelimit"
	"github.com/kruyneg/information-retrieval/internal/progress"
	memqueue "github.com/kruyneg/information-retrieval/internal/queue/memory"
	"github.com/kruyneg/information-retrieval/internal/robots"
	"github.com/kruyneg/information-retrieval/internal/sitemap"
	"github.com/kruyneg/information-retrieval/internal/storage"
	"github.com/kruyneg/information-retrieval/internal/worker"
)

// ErrAlreadyRan is returned by a second call to Run.
var ErrAlreadyRan = errors.New("dispatcher already ran")

// RobotsLoader resolves the robots policy for a host origin.
type RobotsLoader interface {
	Load(ctx context.Context, origin string) *robots.Policy
}

// Config controls a crawl run.
type Config struct {
	Sites           []config.SiteConfig
	UserAgent       string
	Workers         int
	QueueCapacity   int
	DrainPolicy     string
	MaxDocuments    int
	MaxBytes        int64
	GlobalRPS       float64
	MaxSitemapBytes int64
	PingTimeout     time.Duration
}

// ConfigFrom extracts the dispatcher settings from the loaded configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Sites:           cfg.Sites,
		UserAgent:       cfg.Crawler.UserAgent,
		Workers:         cfg.Crawler.Workers,
		QueueCapacity:   cfg.Crawler.QueueCapacity,
		DrainPolicy:     cfg.Crawler.DrainPolicy,
		MaxDocuments:    cfg.Crawler.MaxDocuments,
		MaxBytes:        cfg.Crawler.MaxStoredBytes(),
		GlobalRPS:       cfg.Crawler.GlobalRPS,
		MaxSitemapBytes: cfg.Crawler.MaxSitemapBytes,
		PingTimeout:     cfg.Storage.PingTimeout,
	}
}

// Deps are the collaborators a run needs.
type Deps struct {
	Documents crawler.DocumentStore
	Progress  crawler.ProgressStore
	Pinger    crawler.Pinger
	Fetcher   crawler.Fetcher
	Parser    crawler.DocumentParser
	Robots    RobotsLoader
	// HTTPClient fetches sitemaps. nil uses http.DefaultClient.
	HTTPClient *http.Client
	Events     progress.Emitter
}

// Summary reports how a run ended. Rewound lists hosts whose cursor was moved
// back over admitted items that the completion limit skipped.
type Summary struct {
	RunID       uuid.UUID
	Hosts       int
	Enqueued    int64
	Stored      int64
	StoredBytes int64
	Rewound     []string
	HostErrors  []*crawler.HostError
	StopReason  string
	Duration    time.Duration
}

// Status is a point-in-time view of a run for the ops surface.
type Status struct {
	RunID       string   `json:"run_id"`
	State       string   `json:"state"`
	StopReason  string   `json:"stop_reason,omitempty"`
	Hosts       []string `json:"hosts"`
	QueueDepth  int      `json:"queue_depth"`
	Enqueued    int64    `json:"enqueued"`
	Stored      int64    `json:"stored"`
	StoredBytes int64    `json:"stored_bytes"`
}

// Dispatcher runs one crawl over the configured hosts.
type Dispatcher struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	runID   uuid.UUID
	hosts   []crawler.Host
	queue   *memqueue.Queue
	limits  *ratelimit.Registry
	coord   *Coordinator
	budget  *worker.Budget
	started atomic.Bool

	seq        atomic.Int64
	enqueued   atomic.Int64
	mu         sync.Mutex
	hostErrors []*crawler.HostError
	// unstored holds, per host, the earliest admitted item skipped by the
	// completion limit.
	unstored map[string]crawler.CrawlItem
}

// New validates cfg and prepares a run.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	if cfg.QueueCapacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be > 0")
	}
	if len(cfg.Sites) == 0 {
		return nil, fmt.Errorf("at least one site is required")
	}
	if cfg.MaxDocuments > 0 && cfg.MaxBytes > 0 {
		return nil, fmt.Errorf("max documents and max bytes are mutually exclusive")
	}
	if deps.Documents == nil || deps.Progress == nil || deps.Fetcher == nil || deps.Parser == nil || deps.Robots == nil {
		return nil, fmt.Errorf("documents, progress, fetcher, parser and robots dependencies are required")
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	hosts := make([]crawler.Host, 0, len(cfg.Sites))
	seen := make(map[string]struct{}, len(cfg.Sites))
	for _, site := range cfg.Sites {
		host, err := crawler.NewHost(site.BaseURL, site.Ignore)
		if err != nil {
			return nil, fmt.Errorf("configure site: %w", err)
		}
		if _, dup := seen[host.Origin]; dup {
			return nil, fmt.Errorf("site %s configured twice", host.Origin)
		}
		seen[host.Origin] = struct{}{}
		hosts = append(hosts, host)
	}

	d := &Dispatcher{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("dispatcher"),
		runID:  uuid.New(),
		hosts:  hosts,
		queue:  memqueue.NewQueue(cfg.QueueCapacity),
		limits: ratelimit.NewRegistry(ratelimit.Config{GlobalRPS: cfg.GlobalRPS}),
		coord:  NewCoordinator(),

		unstored: make(map[string]crawler.CrawlItem),
	}
	d.budget = worker.NewBudget(cfg.MaxDocuments, cfg.MaxBytes, func() {
		d.requestStop(ReasonLimit)
	})
	return d, nil
}

// RunID identifies this run on events and logs.
func (d *Dispatcher) RunID() uuid.UUID {
	return d.runID
}

// Stop asks a running crawl to stop. Repeated calls are no-ops.
func (d *Dispatcher) Stop() {
	d.requestStop(ReasonOperator)
}

// State returns the shutdown state.
func (d *Dispatcher) State() State {
	return d.coord.State()
}

// Status snapshots the run.
func (d *Dispatcher) Status() Status {
	hosts := make([]string, 0, len(d.hosts))
	for _, h := range d.hosts {
		hosts = append(hosts, h.Origin)
	}
	return Status{
		RunID:       d.runID.String(),
		State:       d.coord.State().String(),
		StopReason:  d.coord.Reason(),
		Hosts:       hosts,
		QueueDepth:  d.queue.Len(),
		Enqueued:    d.enqueued.Load(),
		Stored:      d.budget.Stored(),
		StoredBytes: d.budget.StoredBytes(),
	}
}

func (d *Dispatcher) requestStop(reason string) {
	if d.coord.Stop(reason) {
		d.logger.Info("Stop requested", zap.String("reason", reason))
		d.deps.Events.Emit(progress.Event{RunID: d.runID, Stage: progress.StageShutdown, Note: reason})
	}
}

// Run executes the crawl and blocks until every worker has exited. Canceling
// ctx requests a stop; in-flight fetches still complete. The returned error
// is non-nil only when the run could not start.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	if !d.started.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRan
	}
	start := time.Now()
	summary := Summary{RunID: d.runID, Hosts: len(d.hosts)}

	if d.deps.Pinger != nil {
		if err := storage.CheckConnection(ctx, d.deps.Pinger, d.cfg.PingTimeout); err != nil {
			d.coord.Finish(ReasonStartupFailed)
			return summary, err
		}
	}

	d.deps.Events.Emit(progress.Event{RunID: d.runID, Stage: progress.StageRunStart})
	d.logger.Info("Crawl started",
		zap.String("run_id", d.runID.String()),
		zap.Int("hosts", len(d.hosts)),
		zap.Int("workers", d.cfg.Workers),
		zap.String("drain_policy", d.cfg.DrainPolicy),
	)

	// Producers observe stop through prodCtx; workers never see cancellation.
	prodCtx, cancelProducers := context.WithCancel(ctx)
	defer cancelProducers()
	go func() {
		select {
		case <-d.coord.Done():
			cancelProducers()
		case <-prodCtx.Done():
			if ctx.Err() != nil {
				d.requestStop(ReasonCanceled)
			}
		}
	}()

	workCtx := context.WithoutCancel(ctx)
	pool := worker.NewPool(d.cfg.Workers, worker.Deps{
		Queue:     d.queue,
		Limiter:   d.limits,
		Fetcher:   d.deps.Fetcher,
		Parser:    d.deps.Parser,
		Documents: d.deps.Documents,
		Budget:    d.budget,
		Stop:      d.coord,
		Events:    d.deps.Events,
		RunID:     d.runID,
		Unstored:  d.noteUnstored,
	}, worker.Config{DropOnStop: d.cfg.DrainPolicy == config.DrainHard}, d.logger)
	pool.Start(workCtx)

	var wg sync.WaitGroup
	for _, host := range d.hosts {
		wg.Add(1)
		go func(host crawler.Host) {
			defer wg.Done()
			d.runHost(prodCtx, host)
		}(host)
	}
	wg.Wait()
	if ctx.Err() != nil {
		d.requestStop(ReasonCanceled)
	}

	discard := d.coord.Stopping() && d.cfg.DrainPolicy == config.DrainHard
	d.drain(workCtx, pool.Size(), discard)
	pool.Wait()
	summary.Rewound = d.rewindCursors(workCtx)
	d.coord.Finish(ReasonSitemapsEnded)
	metrics.SetQueueDepth(0)

	summary.Enqueued = d.enqueued.Load()
	summary.Stored = d.budget.Stored()
	summary.StoredBytes = d.budget.StoredBytes()
	summary.StopReason = d.coord.Reason()
	summary.Duration = time.Since(start)
	d.mu.Lock()
	summary.HostErrors = append([]*crawler.HostError(nil), d.hostErrors...)
	d.mu.Unlock()

	d.deps.Events.Emit(progress.Event{
		RunID: d.runID,
		Stage: progress.StageRunDone,
		Dur:   summary.Duration,
		Note:  summary.StopReason,
	})
	d.logger.Info("Crawl finished",
		zap.String("run_id", d.runID.String()),
		zap.String("reason", summary.StopReason),
		zap.Int64("enqueued", summary.Enqueued),
		zap.Int64("stored", summary.Stored),
		zap.Int("host_errors", len(summary.HostErrors)),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// drain hands every worker exactly one sentinel. With discard set the queue
// is emptied first; otherwise the sentinels queue behind remaining items.
func (d *Dispatcher) drain(ctx context.Context, workers int, discard bool) {
	if discard {
		dropped := 0
		overLimit := d.budget.Exhausted()
		for {
			item, ok := d.queue.TryDequeue()
			if !ok {
				break
			}
			if overLimit && !item.IsSentinel() {
				d.noteUnstored(item)
			}
			dropped++
		}
		if dropped > 0 {
			d.logger.Info("Discarded queued items", zap.Int("count", dropped))
		}
	}
	for i := 0; i < workers; i++ {
		if err := d.queue.Enqueue(ctx, crawler.CrawlItem{}); err != nil {
			d.logger.Error("Enqueue sentinel failed", zap.Error(err))
		}
	}
}

func (d *Dispatcher) noteUnstored(item crawler.CrawlItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.unstored[item.Host]; !ok || item.Seq < cur.Seq {
		d.unstored[item.Host] = item
	}
}

// rewindCursors moves each host's cursor back to the URL admitted just before
// its earliest item skipped by the completion limit, so the next run fetches
// that item again. It runs after every worker has exited.
func (d *Dispatcher) rewindCursors(ctx context.Context) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var hosts []string
	for host, item := range d.unstored {
		if err := d.deps.Progress.SetLastURL(ctx, host, item.Prev); err != nil {
			d.logger.Error("Rewind resume cursor failed",
				zap.String("host", host),
				zap.String("cursor", item.Prev),
				zap.Error(err),
			)
			continue
		}
		d.logger.Info("Resume cursor rewound",
			zap.String("host", host),
			zap.String("cursor", item.Prev),
			zap.String("first_unstored", item.URL),
		)
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func (d *Dispatcher) runHost(ctx context.Context, host crawler.Host) {
	logger := d.logger.With(zap.String("host", host.Origin))
	d.deps.Events.Emit(progress.Event{RunID: d.runID, Stage: progress.StageHostStart, Host: host.Origin})

	err := d.produce(ctx, host, logger)
	switch {
	case err == nil:
		logger.Info("Host traversal finished")
		d.deps.Events.Emit(progress.Event{RunID: d.runID, Stage: progress.StageHostDone, Host: host.Origin})
	case errors.Is(err, crawler.ErrStopped) || d.coord.Stopping():
		logger.Info("Host traversal stopped", zap.String("reason", d.coord.Reason()))
		d.deps.Events.Emit(progress.Event{
			RunID: d.runID, Stage: progress.StageHostDone, Host: host.Origin, Note: "stopped",
		})
	default:
		var hostErr *crawler.HostError
		if !errors.As(err, &hostErr) {
			hostErr = &crawler.HostError{Host: host.Origin, Err: err}
		}
		d.mu.Lock()
		d.hostErrors = append(d.hostErrors, hostErr)
		d.mu.Unlock()
		logger.Error("Host traversal failed", zap.Error(hostErr))
		d.deps.Events.Emit(progress.Event{
			RunID: d.runID, Stage: progress.StageHostError, Host: host.Origin, Note: hostErr.Error(),
		})
	}
}

func (d *Dispatcher) produce(ctx context.Context, host crawler.Host, logger *zap.Logger) error {
	policy := d.deps.Robots.Load(ctx, host.Origin)
	d.limits.Register(host.Origin, policy.CrawlDelay())

	cursor, _, err := d.deps.Progress.LastURL(ctx, host.Origin)
	if err != nil {
		return &crawler.HostError{Host: host.Origin, Err: fmt.Errorf("read resume cursor: %w", err)}
	}
	logger.Info("Host traversal starting",
		zap.Strings("sitemaps", policy.Sitemaps()),
		zap.Duration("delay", policy.CrawlDelay()),
		zap.Bool("robots_fallback", policy.Fallback()),
		zap.String("resume_after", cursor),
	)

	resolver := sitemap.NewResolver(host, policy, d.deps.HTTPClient, sitemap.Config{
		UserAgent: d.cfg.UserAgent,
		MaxBytes:  d.cfg.MaxSitemapBytes,
	}, logger)
	// Cursor writes must land even when ctx is canceled right after an
	// accepted enqueue.
	writeCtx := context.WithoutCancel(ctx)
	prev := cursor
	return resolver.Walk(ctx, policy.Sitemaps(), cursor, func(pageURL string) error {
		if d.coord.Stopping() {
			return crawler.ErrStopped
		}
		item := crawler.CrawlItem{URL: pageURL, Host: host.Origin, Seq: d.seq.Add(1), Prev: prev}
		if err := d.queue.Enqueue(ctx, item); err != nil {
			return crawler.ErrStopped
		}
		d.enqueued.Add(1)
		metrics.SetQueueDepth(d.queue.Len())
		if err := d.deps.Progress.SetLastURL(writeCtx, host.Origin, pageURL); err != nil {
			logger.Error("Save resume cursor failed", zap.String("url", pageURL), zap.Error(err))
		}
		prev = pageURL
		return nil
	})
}
