// Package file appends records to a local file, one per line, in the order
// they were queued.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gif-crawler/internal/metrics"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("sink closed")

// AppendQueue is a FIFO of pending records drained by a single writer, so
// lines never interleave. The writer also owns closing the file, so no write
// can race with Close.
type AppendQueue struct {
	path   string
	file   *os.File
	write  func(string) error
	logger *zap.Logger

	mu       sync.Mutex
	pending  []string
	writing  bool
	idle     chan struct{}
	closed   bool
	err      error
	closeErr error
	done     chan struct{}
}

// New opens path for appending, creating parent directories as needed.
func New(path string, logger *zap.Logger) (*AppendQueue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sink path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &AppendQueue{
		path:   path,
		file:   f,
		logger: logger.Named("sink").With(zap.String("path", path)),
		done:   make(chan struct{}),
	}
	q.write = func(line string) error {
		_, err := q.file.WriteString(line)
		return err
	}
	return q, nil
}

// Path returns the file being appended to.
func (q *AppendQueue) Path() string { return q.path }

// Append queues record. The write happens asynchronously.
func (q *AppendQueue) Append(record string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, record)
	if !q.writing {
		q.writing = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	return nil
}

func (q *AppendQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.writing = false
			close(q.idle)
			if q.closed {
				q.closeFileLocked()
			}
			q.mu.Unlock()
			return
		}
		record := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := q.write(record + "\n")

		q.mu.Lock()
		if err != nil {
			q.logger.Error("append failed", zap.Error(err))
			if q.err == nil {
				q.err = fmt.Errorf("append to %s: %w", q.path, err)
			}
		} else {
			metrics.ObserveRecord("file")
			q.logger.Debug("record appended", zap.String("record", record))
		}
		q.mu.Unlock()
	}
}

// closeFileLocked closes the file once; q.mu must be held.
func (q *AppendQueue) closeFileLocked() {
	if err := q.file.Close(); err != nil {
		q.closeErr = fmt.Errorf("close sink file: %w", err)
	}
	close(q.done)
}

// Flush waits until every queued record has been written and returns the
// first write error seen so far.
func (q *AppendQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	writing, idle := q.writing, q.idle
	q.mu.Unlock()

	if writing {
		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("flush sink: %w", ctx.Err())
		}
	}
	return q.Err()
}

// Err returns the first write error, if any.
func (q *AppendQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close stops accepting records and waits for pending ones to be written
// before the file is closed. If ctx ends first, Close returns and the writer
// closes the file when it finishes. Later calls are no-ops.
func (q *AppendQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if !q.writing {
		q.closeFileLocked()
	}
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-ctx.Done():
		return fmt.Errorf("close sink: %w", ctx.Err())
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.Join(q.err, q.closeErr)
}
