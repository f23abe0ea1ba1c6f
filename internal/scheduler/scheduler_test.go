package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetforge/upload/internal/testutil"
)

// countingTransport tracks concurrent UploadPart invocations.
type countingTransport struct {
	mu       sync.Mutex
	current  int
	peak     int
	calls    []string
	delay    time.Duration
	failURLs map[string]bool
}

func (c *countingTransport) UploadPart(_ context.Context, url string, body io.Reader, _ int64) (string, error) {
	c.mu.Lock()
	c.current++
	if c.current > c.peak {
		c.peak = c.current
	}
	c.calls = append(c.calls, url)
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	_, _ = io.Copy(io.Discard, body)

	c.mu.Lock()
	c.current--
	fail := c.failURLs[url]
	c.mu.Unlock()

	if fail {
		return "", errors.New("transfer failed")
	}
	return "etag-" + url, nil
}

func (c *countingTransport) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// stubSink records settlements and halts the files it is told to halt.
type stubSink struct {
	mu       sync.Mutex
	started  []int
	uploaded []int
	failed   []int
	halted   map[int]bool
}

func newStubSink() *stubSink {
	return &stubSink{halted: make(map[int]bool)}
}

func (s *stubSink) PartStarted(fileIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, fileIndex)
}

func (s *stubSink) PartUploaded(fileIndex, partNumber int, _ string, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded = append(s.uploaded, partNumber)
}

func (s *stubSink) PartFailed(fileIndex, partNumber int, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, partNumber)
	s.halted[fileIndex] = true
}

func (s *stubSink) Halted(fileIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted[fileIndex]
}

func tasksForFile(index, parts int, partSize int) []Task {
	handle := testutil.NewByteHandle(parts * partSize)
	tasks := make([]Task, 0, parts)
	for p := 1; p <= parts; p++ {
		tasks = append(tasks, Task{
			FileIndex:  index,
			PartNumber: p,
			URL:        "mock://" + string(rune('a'+index)) + "/" + string(rune('0'+p)),
			Offset:     int64((p - 1) * partSize),
			Length:     int64(partSize),
			Handle:     handle,
		})
	}
	return tasks
}

func TestScheduler_DrainsAllTasks(t *testing.T) {
	transport := &countingTransport{}
	sink := newStubSink()
	s := New(transport, sink, 3)

	s.Enqueue(tasksForFile(0, 5, 64)...)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 5, transport.callCount())
	assert.Len(t, sink.uploaded, 5)
	assert.Empty(t, sink.failed)
	assert.Equal(t, 0, s.InFlight())
}

func TestScheduler_NeverExceedsCap(t *testing.T) {
	transport := &countingTransport{delay: 5 * time.Millisecond}
	sink := newStubSink()
	s := New(transport, sink, 4)

	for i := 0; i < 3; i++ {
		s.Enqueue(tasksForFile(i, 8, 32)...)
	}
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 24, transport.callCount())
	assert.LessOrEqual(t, transport.peak, 4, "in-flight count must never exceed the cap")
}

func TestScheduler_FailureHaltsFileDispatch(t *testing.T) {
	transport := &countingTransport{
		failURLs: map[string]bool{"mock://a/1": true},
	}
	sink := newStubSink()
	// cap 1 forces sequential dispatch so every queued part of the failed
	// file is still in the queue when the failure settles
	s := New(transport, sink, 1)

	s.Enqueue(tasksForFile(0, 4, 16)...)
	s.Enqueue(tasksForFile(1, 2, 16)...)
	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, sink.failed, 1)
	// file 0 stops after its first part; file 1 runs to completion
	assert.Equal(t, 3, transport.callCount())
	assert.Len(t, sink.uploaded, 2)
}

func TestScheduler_GlobalCapSharedAcrossFiles(t *testing.T) {
	transport := &countingTransport{}
	sink := newStubSink()
	s := New(transport, sink, 1)

	// queue order interleaves nothing: all of file 0 first, then file 1.
	// with cap 1 the single worker drains in queue order, so the small file
	// enqueued first finishes before the large one starts.
	s.Enqueue(tasksForFile(0, 1, 16)...)
	s.Enqueue(tasksForFile(1, 3, 16)...)
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, sink.started, 4)
	assert.Equal(t, 0, sink.started[0])
	assert.Equal(t, []int{1, 1, 1}, sink.started[1:])
}

func TestScheduler_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	transport := &countingTransport{delay: 10 * time.Millisecond}
	sink := newStubSink()
	s := New(transport, sink, 1)

	s.Enqueue(tasksForFile(0, 50, 8)...)

	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, transport.callCount(), 50, "cancellation drops queued parts")
}

func TestScheduler_RunTwiceFails(t *testing.T) {
	transport := &countingTransport{}
	sink := newStubSink()
	s := New(transport, sink, 2)

	done := make(chan error, 1)
	blocker := make(chan struct{})
	transport.delay = 0
	s.Enqueue(Task{
		FileIndex:  0,
		PartNumber: 1,
		URL:        "mock://block",
		Length:     8,
		Handle:     blockingHandle{release: blocker},
	})

	go func() { done <- s.Run(context.Background()) }()
	time.Sleep(5 * time.Millisecond)

	err := s.Run(context.Background())
	assert.Error(t, err)

	close(blocker)
	require.NoError(t, <-done)
}

// blockingHandle blocks OpenRange until released.
type blockingHandle struct {
	release <-chan struct{}
}

func (h blockingHandle) OpenRange(ctx context.Context, _, _ int64) (io.ReadCloser, error) {
	select {
	case <-h.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return io.NopCloser(io.LimitReader(zeroReader{}, 8)), nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
