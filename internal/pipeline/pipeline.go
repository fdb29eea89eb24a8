// Package pipeline scrapes gif listings: it feeds seed pages through the
// engine, extracts gifs from each page, and records them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gif-crawler/internal/crawler"
	"github.com/JakeFAU/gif-crawler/internal/document"
	"github.com/JakeFAU/gif-crawler/internal/extract/giphy"
	"github.com/JakeFAU/gif-crawler/internal/metrics"
	"github.com/JakeFAU/gif-crawler/internal/storage/postgres"
)

// Engine is the part of engine.Engine the pipeline drives.
type Engine interface {
	Enqueue(tasks ...crawler.Task) error
	Wait(ctx context.Context) error
}

// Sink receives one line per gif.
type Sink interface {
	Append(record string) error
	Flush(ctx context.Context) error
}

// Store persists gif records.
type Store interface {
	Save(ctx context.Context, rec postgres.Record) (bool, error)
}

// Config controls a pipeline run.
type Config struct {
	Category string
	// MaxRecords caps the gifs recorded per run. Zero means no cap.
	MaxRecords int
	// TaskOptions are applied to every seed task.
	TaskOptions []crawler.Option
}

// Summary reports what a run did.
type Summary struct {
	Pages    int           `json:"pages"`
	Failed   int           `json:"failed"`
	Gifs     int           `json:"gifs"`
	Recorded int           `json:"recorded"`
	Stored   int           `json:"stored"`
	Skipped  int           `json:"skipped"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Pipeline runs scrapes. Store may be nil.
type Pipeline struct {
	cfg    Config
	engine Engine
	sink   Sink
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	summary Summary
}

// New wires a Pipeline.
func New(cfg Config, eng Engine, sink Sink, store Store, logger *zap.Logger) (*Pipeline, error) {
	if eng == nil {
		return nil, errors.New("pipeline: engine is required")
	}
	if sink == nil {
		return nil, errors.New("pipeline: sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		engine: eng,
		sink:   sink,
		store:  store,
		logger: logger.Named("pipeline").With(zap.String("category", cfg.Category)),
	}, nil
}

// Run enqueues seeds, waits for the engine to drain, and flushes the sink.
// Handler failures raised during the run are returned joined with any
// flush error.
func (p *Pipeline) Run(ctx context.Context, seeds []string) (Summary, error) {
	if len(seeds) == 0 {
		return Summary{}, errors.New("pipeline: at least one seed is required")
	}
	start := time.Now()
	p.mu.Lock()
	p.summary = Summary{}
	p.mu.Unlock()

	handler := p.handler(ctx)
	tasks := make([]crawler.Task, 0, len(seeds))
	for _, seed := range seeds {
		tasks = append(tasks, crawler.NewTask(seed, handler, p.cfg.TaskOptions...))
	}
	p.logger.Info("run started", zap.Strings("seeds", seeds), zap.Int("max_records", p.cfg.MaxRecords))
	if err := p.engine.Enqueue(tasks...); err != nil {
		return p.Summary(), fmt.Errorf("enqueue seeds: %w", err)
	}

	runErr := p.engine.Wait(ctx)
	if err := p.sink.Flush(ctx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flush sink: %w", err))
	}

	p.mu.Lock()
	p.summary.Elapsed = time.Since(start)
	summary := p.summary
	p.mu.Unlock()

	p.logger.Info("run finished",
		zap.Int("pages", summary.Pages),
		zap.Int("failed", summary.Failed),
		zap.Int("gifs", summary.Gifs),
		zap.Int("recorded", summary.Recorded),
		zap.Int("stored", summary.Stored),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, runErr
}

// Summary returns the counters of the current or last run.
func (p *Pipeline) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

func (p *Pipeline) handler(ctx context.Context) crawler.Handler {
	return func(err error, resp *crawler.Response, doc *document.Document) error {
		if err != nil {
			p.mu.Lock()
			p.summary.Failed++
			p.mu.Unlock()
			p.logger.Warn("page failed", zap.Error(err))
			return nil
		}

		gifs := giphy.Extract(doc)
		p.mu.Lock()
		p.summary.Pages++
		p.summary.Gifs += len(gifs)
		p.mu.Unlock()
		p.logger.Debug("page parsed", zap.String("url", resp.URI), zap.Int("gifs", len(gifs)))

		var errs []error
		for _, gif := range gifs {
			if gif.Src == "" {
				continue
			}
			if !p.claim() {
				p.mu.Lock()
				p.summary.Skipped++
				p.mu.Unlock()
				continue
			}
			if err := p.record(ctx, gif); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// claim reserves one record against MaxRecords.
func (p *Pipeline) claim() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.MaxRecords > 0 && p.summary.Recorded >= p.cfg.MaxRecords {
		return false
	}
	p.summary.Recorded++
	return true
}

func (p *Pipeline) record(ctx context.Context, gif giphy.Gif) error {
	if err := p.sink.Append(gif.Src); err != nil {
		return fmt.Errorf("append %s: %w", gif.Src, err)
	}
	if p.store == nil {
		return nil
	}
	inserted, err := p.store.Save(ctx, postgres.Record{Category: p.cfg.Category, Src: gif.Src})
	if err != nil {
		return fmt.Errorf("save %s: %w", gif.Src, err)
	}
	if inserted {
		metrics.ObserveRecord("postgres")
		p.mu.Lock()
		p.summary.Stored++
		p.mu.Unlock()
	}
	return nil
}
