// Package engine schedules fetch tasks through the connection pool, retries
// transport failures, and reports when all outstanding work has drained.
//
// Each task runs on its own goroutine and moves through
// queued, acquiring, fetching, (retrying | normalizing, building,
// completing), released. A task holds at most one pool slot and releases it
// exactly once per acquisition on every path, including handler panics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gif-crawler/internal/cache/memory"
	"github.com/JakeFAU/gif-crawler/internal/crawler"
	"github.com/JakeFAU/gif-crawler/internal/document"
	"github.com/JakeFAU/gif-crawler/internal/id/uuid"
	"github.com/JakeFAU/gif-crawler/internal/metrics"
	"github.com/JakeFAU/gif-crawler/internal/normalize"
	"github.com/JakeFAU/gif-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/gif-crawler/internal/pool"
	"github.com/JakeFAU/gif-crawler/internal/retry"
)

// Defaults for the pool-wide settings.
const (
	DefaultPoolCapacity  = 10
	DefaultPriorityRange = 10
)

// Config holds engine-wide settings. Pool capacity, priority range and the
// drain hook live here rather than in crawler.Options so they can never be
// overridden per task.
type Config struct {
	PoolCapacity   int
	PriorityRange  int
	RateLimitDelay time.Duration
	// Defaults are applied to every task before its own options.
	Defaults crawler.Options
	// Handler is used by tasks that do not set one.
	Handler crawler.Handler
	// OnDrain runs once each time outstanding work reaches zero.
	OnDrain func()
	// OnHandlerError receives handler errors and panics after cleanup.
	OnHandlerError func(error)
}

// Deps are the engine's collaborators. Only Transport is required.
type Deps struct {
	Transport  crawler.Transport
	Cache      crawler.Cache
	Normalizer *normalize.Normalizer
	Builder    *document.Builder
	Retry      retry.Policy
	IDs        crawler.IDGenerator
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Outstanding    int  `json:"outstanding"`
	PlannedRetries int  `json:"planned_retries"`
	SlotsInUse     int  `json:"slots_in_use"`
	SlotsWaiting   int  `json:"slots_waiting"`
	Capacity       int  `json:"capacity"`
	CacheEntries   int  `json:"cache_entries"`
	Drains         int  `json:"drains"`
	Closed         bool `json:"closed"`
}

// Engine runs tasks. Create one with New and stop it with Close.
type Engine struct {
	cfg        Config
	logger     *zap.Logger
	pool       *pool.Pool
	limiter    *ratelimit.Limiter
	transport  crawler.Transport
	cache      crawler.Cache
	normalizer *normalize.Normalizer
	builder    *document.Builder
	retry      retry.Policy
	ids        crawler.IDGenerator

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	outstanding int
	planned     int
	idle        bool
	drained     chan struct{}
	drains      int
	handlerErrs []error
	timers      map[*job]*time.Timer
	closed      bool
	seq         uint64

	wg sync.WaitGroup
}

// New builds an Engine. A non-zero RateLimitDelay forces a pool capacity of 1.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if deps.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = DefaultPoolCapacity
	}
	if cfg.PriorityRange <= 0 {
		cfg.PriorityRange = DefaultPriorityRange
	}
	if cfg.RateLimitDelay > 0 && cfg.PoolCapacity != 1 {
		logger.Info("rate limiting enabled, serializing requests",
			zap.Duration("delay", cfg.RateLimitDelay),
			zap.Int("requested_capacity", cfg.PoolCapacity),
		)
		cfg.PoolCapacity = 1
	}
	if cfg.Defaults.Method == "" {
		cfg.Defaults = crawler.DefaultOptions()
	}

	if deps.Cache == nil {
		deps.Cache = memory.New()
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(normalize.Config{}, logger)
	}
	if deps.Builder == nil {
		deps.Builder = document.NewBuilder(document.Config{}, logger)
	}
	if deps.Retry == nil {
		deps.Retry = retry.New(0)
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}

	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	drained := make(chan struct{})
	close(drained)

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		pool:       pool.New(cfg.PoolCapacity, cfg.PriorityRange),
		limiter:    ratelimit.New(ratelimit.Config{Delay: cfg.RateLimitDelay}),
		transport:  deps.Transport,
		cache:      deps.Cache,
		normalizer: deps.Normalizer,
		builder:    deps.Builder,
		retry:      deps.Retry,
		ids:        deps.IDs,
		ctx:        ctx,
		cancel:     cancel,
		idle:       true,
		drained:    drained,
		timers:     make(map[*job]*time.Timer),
	}, nil
}

type job struct {
	id       string
	target   crawler.Target
	uri      string
	handler  crawler.Handler
	opts     crawler.Options
	attempts int
	slot     *pool.Slot
}

// Enqueue submits tasks. It returns crawler.ErrClosed after Close.
func (e *Engine) Enqueue(tasks ...crawler.Task) error {
	for _, task := range tasks {
		if err := e.enqueue(task); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueURL submits one task per URI using the default handler.
func (e *Engine) EnqueueURL(uris ...string) error {
	tasks := make([]crawler.Task, 0, len(uris))
	for _, uri := range uris {
		tasks = append(tasks, crawler.Task{Target: crawler.URL(uri)})
	}
	return e.Enqueue(tasks...)
}

func (e *Engine) enqueue(task crawler.Task) error {
	j := &job{
		target:  task.Target,
		uri:     task.Target.URI(),
		handler: task.Handler,
		opts:    e.cfg.Defaults.With(task.Options...),
	}
	if j.handler == nil {
		j.handler = e.cfg.Handler
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return crawler.ErrClosed
	}
	e.seq++
	seq := e.seq
	e.beginLocked()
	e.wg.Add(1)
	e.mu.Unlock()

	id, err := e.ids.NewID()
	if err != nil {
		id = fmt.Sprintf("task-%d", seq)
	}
	j.id = id
	e.logger.Debug("task queued",
		zap.String("task_id", j.id),
		zap.String("target", j.target.String()),
		zap.Int("priority", j.opts.Priority),
	)

	if j.target.Kind() == crawler.TargetURL && j.uri == "" {
		go func() {
			defer e.wg.Done()
			e.complete(j, nil, fmt.Errorf("enqueue: %w", crawler.ErrEmptyTarget), nil)
		}()
		return nil
	}

	// Dedup without caching skips the task before it ever takes a slot.
	if j.target.Kind() == crawler.TargetURL && j.opts.SkipDuplicates && !j.opts.Cache && j.opts.UsesCache() {
		if _, seen := e.cache.Lookup(crawler.CacheKey(j.opts.Method, j.uri)); seen {
			metrics.ObserveCacheHit("seen")
			go func() {
				defer e.wg.Done()
				e.complete(j, nil, crawler.ErrDuplicate, nil)
			}()
			return nil
		}
	}

	go e.process(j)
	return nil
}

// beginLocked counts one more unit of outstanding work and re-arms the
// drain signal.
func (e *Engine) beginLocked() {
	e.outstanding++
	if e.idle {
		e.idle = false
		e.drained = make(chan struct{})
	}
	metrics.SetOutstanding(e.outstanding + e.planned)
}

// finish retires one unit of outstanding work, recording handlerErr in the
// same step so Wait never misses it.
func (e *Engine) finish(handlerErr error) {
	e.mu.Lock()
	e.outstanding--
	if handlerErr != nil {
		e.handlerErrs = append(e.handlerErrs, handlerErr)
	}
	var ch chan struct{}
	if e.outstanding == 0 && e.planned == 0 && !e.idle {
		e.idle = true
		e.drains++
		ch = e.drained
	}
	metrics.SetOutstanding(e.outstanding + e.planned)
	e.mu.Unlock()

	if ch == nil {
		return
	}
	metrics.ObserveDrain()
	e.logger.Debug("outstanding work drained")
	if e.cfg.OnDrain != nil {
		e.cfg.OnDrain()
	}
	close(ch)
}

func (e *Engine) process(j *job) {
	defer e.wg.Done()

	slot, err := e.pool.Acquire(e.ctx, j.opts.Priority)
	if err != nil {
		e.complete(j, nil, fmt.Errorf("acquire slot: %w: %w", crawler.ErrClosed, err), nil)
		return
	}
	j.slot = slot
	metrics.SetPoolInUse(e.pool.InUse())
	e.logger.Debug("slot acquired", zap.String("task_id", j.id), zap.Uint64("slot", slot.ID()))

	e.execute(j)
}

func (e *Engine) execute(j *job) {
	switch j.target.Kind() {
	case crawler.TargetHTML:
		e.deliver(j, &crawler.Response{
			TaskID:    j.id,
			Body:      []byte(j.target.Body()),
			FetchedAt: time.Now(),
			Options:   j.opts.Clone(),
		}, false)
		return
	case crawler.TargetResolver:
		if err := e.resolve(j); err != nil {
			e.complete(j, nil, err, nil)
			return
		}
	}

	if j.opts.UsesCache() {
		if e.serveFromCache(j) {
			return
		}
	}

	if err := e.limiter.Wait(e.ctx); err != nil {
		e.complete(j, nil, fmt.Errorf("%w: %w", crawler.ErrClosed, err), nil)
		return
	}

	e.logger.Debug("fetching", zap.String("task_id", j.id), zap.String("url", j.uri), zap.Int("attempt", j.attempts+1))
	j.attempts++
	fr, err := e.transport.Fetch(e.ctx, j.opts.FetchRequest(j.uri))
	if err != nil {
		e.fail(j, err)
		return
	}
	metrics.ObserveFetch(j.uri, fr.StatusCode, len(fr.Body), fr.Duration)

	uri := fr.URI
	if uri == "" {
		uri = j.uri
	}
	e.deliver(j, &crawler.Response{
		TaskID:     j.id,
		URI:        uri,
		StatusCode: fr.StatusCode,
		Header:     fr.Header,
		Body:       fr.Body,
		Duration:   fr.Duration,
		FetchedAt:  time.Now(),
		Options:    j.opts.Clone(),
	}, false)
}

// resolve replaces a resolver target with the URI it yields. Resolution
// happens once; retries reuse the URI.
func (e *Engine) resolve(j *job) error {
	uri, err := j.target.Resolver()(e.ctx)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	if uri == "" {
		return fmt.Errorf("resolve target: %w", crawler.ErrEmptyTarget)
	}
	j.uri = uri
	j.target = crawler.URL(uri)
	return nil
}

// serveFromCache completes j from the cache table when possible.
func (e *Engine) serveFromCache(j *job) bool {
	entry, ok := e.cache.Lookup(crawler.CacheKey(j.opts.Method, j.uri))
	if !ok {
		return false
	}
	if !entry.Seen() && j.opts.Cache {
		metrics.ObserveCacheHit("response")
		resp := entry.Response
		resp.TaskID = j.id
		resp.FromCache = true
		resp.Options = j.opts.Clone()
		e.deliver(j, resp, true)
		return true
	}
	if j.opts.SkipDuplicates {
		metrics.ObserveCacheHit("seen")
		e.complete(j, nil, crawler.ErrDuplicate, nil)
		return true
	}
	return false
}

// fail handles a transport error: retry with a fresh slot later, or deliver
// the terminal error.
func (e *Engine) fail(j *job, err error) {
	metrics.ObserveFetchError(j.uri)
	if e.ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", crawler.ErrClosed, err)
	}

	delay, again := e.retry.Next(err, &j.opts)
	if !again {
		e.logger.Debug("fetch failed", zap.String("task_id", j.id), zap.String("url", j.uri),
			zap.Int("attempts", j.attempts), zap.Error(err))
		e.complete(j, nil, &crawler.FetchError{URI: j.uri, Attempts: j.attempts, Err: err}, nil)
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.complete(j, nil, &crawler.FetchError{URI: j.uri, Attempts: j.attempts, Err: crawler.ErrClosed}, nil)
		return
	}
	// Count the pending retry before giving up this attempt so the drain
	// check never sees zero in between.
	e.planned++
	e.timers[j] = time.AfterFunc(delay, func() { e.requeue(j) })
	e.mu.Unlock()

	metrics.ObserveRetry()
	e.logger.Info("retry scheduled",
		zap.String("task_id", j.id),
		zap.String("url", j.uri),
		zap.Int("retries_left", j.opts.Retries),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	e.releaseSlot(j)
	e.finish(nil)
}

func (e *Engine) requeue(j *job) {
	e.mu.Lock()
	if _, ok := e.timers[j]; !ok {
		// Close took ownership of this retry.
		e.mu.Unlock()
		return
	}
	delete(e.timers, j)
	e.planned--
	e.beginLocked()
	e.wg.Add(1)
	e.mu.Unlock()

	e.process(j)
}

// deliver runs the success path: normalize, cache, build, invoke.
func (e *Engine) deliver(j *job, resp *crawler.Response, fromCache bool) {
	if !fromCache {
		res := e.normalizer.Normalize(resp.Body, normalize.Request{
			Force:       j.opts.ForceUTF8,
			Incoming:    j.opts.IncomingEncoding,
			ContentType: resp.Header.Get("Content-Type"),
		})
		resp.Body = res.Body
		resp.Charset = res.Charset

		if j.uri != "" && j.opts.UsesCache() {
			key := crawler.CacheKey(j.opts.Method, j.uri)
			if j.opts.Cache {
				e.cache.Store(key, resp)
			} else {
				e.cache.MarkSeen(key)
			}
		}
	}

	if j.handler == nil {
		e.releaseSlot(j)
		e.finish(nil)
		return
	}

	if j.opts.WantsDocument() && resp.LooksLikeHTML() {
		doc, err := e.builder.Build(e.ctx, resp.URI, resp.Body)
		if err != nil {
			e.complete(j, resp, &crawler.DocumentError{URI: resp.URI, Err: err}, nil)
			return
		}
		e.complete(j, resp, nil, doc)
		return
	}
	e.complete(j, resp, nil, nil)
}

// complete invokes the handler, tears down the document, releases the slot,
// retires the task and only then raises any handler failure.
func (e *Engine) complete(j *job, resp *crawler.Response, err error, doc *document.Document) {
	handlerErr := e.invoke(j, err, resp, doc)

	if doc != nil && j.opts.AutoCloseDocument {
		doc.Close()
	}
	e.releaseSlot(j)
	e.logger.Debug("task released", zap.String("task_id", j.id), zap.Bool("error", err != nil))
	e.finish(handlerErr)

	if handlerErr != nil {
		e.raise(handlerErr)
	} else if err != nil && j.handler == nil {
		e.logger.Warn("task failed without a handler",
			zap.String("task_id", j.id), zap.String("target", j.target.String()), zap.Error(err))
	}
}

func (e *Engine) invoke(j *job, err error, resp *crawler.Response, doc *document.Document) (herr error) {
	if j.handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			herr = &crawler.HandlerError{
				TaskID: j.id,
				Target: j.target.String(),
				Err:    &crawler.HandlerPanicError{Value: r, Stack: debug.Stack()},
			}
		}
	}()
	if hErr := j.handler(err, resp, doc); hErr != nil {
		return &crawler.HandlerError{TaskID: j.id, Target: j.target.String(), Err: hErr}
	}
	return nil
}

func (e *Engine) raise(err error) {
	kind := "error"
	var panicErr *crawler.HandlerPanicError
	if errors.As(err, &panicErr) {
		kind = "panic"
	}
	metrics.ObserveHandlerError(kind)
	e.logger.Error("handler failed", zap.String("kind", kind), zap.Error(err))
	if e.cfg.OnHandlerError != nil {
		e.cfg.OnHandlerError(err)
	}
}

func (e *Engine) releaseSlot(j *job) {
	if j.slot == nil {
		return
	}
	e.pool.Release(j.slot)
	j.slot = nil
	metrics.SetPoolInUse(e.pool.InUse())
}

// Wait blocks until outstanding work drains or ctx ends. It returns the
// handler errors raised since the previous Wait, joined.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.drained
	e.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return fmt.Errorf("wait for drain: %w", ctx.Err())
	}

	e.mu.Lock()
	errs := e.handlerErrs
	e.handlerErrs = nil
	e.mu.Unlock()
	return errors.Join(errs...)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Outstanding:    e.outstanding,
		PlannedRetries: e.planned,
		SlotsInUse:     e.pool.InUse(),
		SlotsWaiting:   e.pool.Waiting(),
		Capacity:       e.pool.Capacity(),
		CacheEntries:   e.cache.Len(),
		Drains:         e.drains,
		Closed:         e.closed,
	}
}

// Close stops the engine. Pending acquisitions and scheduled retries are
// abandoned and each receives one terminal crawler.ErrClosed. Close waits
// for in-flight handlers to return.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	abandoned := make([]*job, 0, len(e.timers))
	for j, t := range e.timers {
		t.Stop()
		abandoned = append(abandoned, j)
	}
	clear(e.timers)
	e.mu.Unlock()

	e.cancel()
	e.pool.Close()

	for _, j := range abandoned {
		e.mu.Lock()
		e.planned--
		e.beginLocked()
		e.mu.Unlock()
		e.complete(j, nil, &crawler.FetchError{URI: j.uri, Attempts: j.attempts, Err: crawler.ErrClosed}, nil)
	}

	e.wg.Wait()
	e.logger.Info("engine closed", zap.Int("drains", e.Stats().Drains))
}
