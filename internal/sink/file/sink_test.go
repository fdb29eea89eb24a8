package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestAppendPreservesOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "cat")
	q, err := New(path, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Append(fmt.Sprintf("http://media.giphy.com/%d.gif", i)))
	}
	require.NoError(t, q.Flush(context.Background()))

	lines := readLines(t, path)
	require.Len(t, lines, 100)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("http://media.giphy.com/%d.gif", i), line)
	}
	require.NoError(t, q.Close(context.Background()))
}

func TestConcurrentAppendsNeverInterleave(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cat")
	q, err := New(path, nil)
	require.NoError(t, err)

	record := strings.Repeat("x", 4096)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, q.Append(record))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, q.Close(context.Background()))

	lines := readLines(t, path)
	require.Len(t, lines, 160)
	for _, line := range lines {
		require.Equal(t, record, line)
	}
}

func TestAppendsToExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cat")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o600))

	q, err := New(path, nil)
	require.NoError(t, err)
	require.NoError(t, q.Append("new"))
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, []string{"old", "new"}, readLines(t, path))
}

func TestAppendAfterClose(t *testing.T) {
	t.Parallel()

	q, err := New(filepath.Join(t.TempDir(), "cat"), nil)
	require.NoError(t, err)
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()))
	require.ErrorIs(t, q.Append("late"), ErrClosed)
}

func TestFlushOnIdleQueue(t *testing.T) {
	t.Parallel()

	q, err := New(filepath.Join(t.TempDir(), "cat"), nil)
	require.NoError(t, err)
	defer func() { _ = q.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Flush(ctx))
	require.NoError(t, q.Err())
}

func TestWriteErrorIsReported(t *testing.T) {
	t.Parallel()

	q, err := New(filepath.Join(t.TempDir(), "cat"), nil)
	require.NoError(t, err)
	require.NoError(t, q.file.Close())

	require.NoError(t, q.Append("lost"))
	require.Error(t, q.Flush(context.Background()))
	require.Error(t, q.Err())
}

func TestCloseTimeoutLeavesFileToWriter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cat")
	q, err := New(path, nil)
	require.NoError(t, err)

	gate := make(chan struct{})
	entered := make(chan struct{})
	write := q.write
	q.write = func(line string) error {
		close(entered)
		<-gate
		return write(line)
	}

	require.NoError(t, q.Append("http://media.giphy.com/slow.gif"))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Flush(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, q.Append("late"), ErrClosed)

	close(gate)
	select {
	case <-q.done:
	case <-time.After(time.Second):
		t.Fatal("writer never closed the file")
	}
	require.NoError(t, q.Err())
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, []string{"http://media.giphy.com/slow.gif"}, readLines(t, path))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New("  ", nil)
	require.Error(t, err)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	_, err = New(filepath.Join(blocker, "cat"), nil)
	require.Error(t, err)
}
