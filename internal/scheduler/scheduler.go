// Package scheduler executes part transfers under a global concurrency cap.
//
// The scheduler is a greedy work pool: it holds an owned work queue and an
// in-flight counter, pops and dispatches while the in-flight count is below
// the cap, and on each settlement immediately attempts to dispatch the next
// queued part. The cap is global across files, not per file, so a large file
// never blocks throughput for smaller ones.
//
// The scheduler performs no retries. A part failure is reported to the sink,
// which marks the file Failed; remaining queued parts for that file are then
// discarded at dispatch time. Queue and counter are mutex-protected since
// part transfers run on separate goroutines.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/assetforge/upload/uptypes"
)

// DefaultMaxInFlight is the default global cap on concurrent part transfers.
const DefaultMaxInFlight = 6

// Task is one part transfer: a contiguous byte range of one file bound to a
// pre-authorized upload location.
type Task struct {
	FileIndex  int
	PartNumber int
	URL        string
	Offset     int64
	Length     int64
	Handle     uptypes.FileHandle
}

// Transport uploads a single part and returns its completion token.
type Transport interface {
	UploadPart(ctx context.Context, url string, body io.Reader, size int64) (eTag string, err error)
}

// Sink receives settlement events. The state tracker implements it.
type Sink interface {
	// PartStarted is called before a part transfer is dispatched.
	PartStarted(fileIndex int)

	// PartUploaded is called with the completion token of a successful part.
	PartUploaded(fileIndex, partNumber int, eTag string, size int64)

	// PartFailed is called when a part transfer fails.
	PartFailed(fileIndex, partNumber int, err error)

	// Halted reports whether dispatching for a file should stop.
	Halted(fileIndex int) bool
}

// Scheduler drains a queue of part tasks with bounded concurrency.
// A scheduler is built per upload cycle: enqueue every pending part, then Run.
type Scheduler struct {
	transport   Transport
	sink        Sink
	maxInFlight int
	logger      *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	queue    []Task
	inFlight int
	idle     chan struct{}
	running  bool
}

// New creates a scheduler with the given global in-flight cap.
func New(transport Transport, sink Sink, maxInFlight int) *Scheduler {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Scheduler{
		transport:   transport,
		sink:        sink,
		maxInFlight: maxInFlight,
	}
}

// WithLogger sets the logger used for dispatch debug logging.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Enqueue appends part tasks to the work queue. Tasks enqueued while Run is in
// progress are picked up by the running dispatch loop.
func (s *Scheduler) Enqueue(tasks ...Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, tasks...)
	if s.running {
		s.dispatchLocked(s.ctx)
	}
}

// InFlight returns the current number of outstanding part transfers.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Run dispatches every queued task and blocks until all settle. Part errors
// never propagate past the scheduler; they surface through the sink. Run
// returns the context error if the cycle was cancelled mid-drain.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx = ctx
	s.idle = make(chan struct{})
	s.dispatchLocked(ctx)
	s.finishLocked()
	idle := s.idle
	s.mu.Unlock()

	<-idle

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return ctx.Err()
}

// dispatchLocked pops and dispatches while capacity allows. Tasks for halted
// or cancelled work are discarded without dispatching; any in-flight parts of
// a halted file may still land, and their tokens are discarded by the sink.
func (s *Scheduler) dispatchLocked(ctx context.Context) {
	for s.inFlight < s.maxInFlight && len(s.queue) > 0 {
		task := s.queue[0]
		s.queue = s.queue[1:]

		if ctx.Err() != nil || s.sink.Halted(task.FileIndex) {
			if s.logger != nil {
				s.logger.Debug("dropping queued part",
					"index", task.FileIndex, "partNumber", task.PartNumber)
			}
			continue
		}

		s.inFlight++
		s.sink.PartStarted(task.FileIndex)
		go s.transfer(ctx, task)
	}
}

// transfer performs one part upload and settles it.
func (s *Scheduler) transfer(ctx context.Context, task Task) {
	eTag, err := s.uploadPart(ctx, task)

	if err != nil {
		s.sink.PartFailed(task.FileIndex, task.PartNumber, err)
	} else {
		s.sink.PartUploaded(task.FileIndex, task.PartNumber, eTag, task.Length)
	}

	s.mu.Lock()
	s.inFlight--
	s.dispatchLocked(ctx)
	s.finishLocked()
	s.mu.Unlock()
}

func (s *Scheduler) uploadPart(ctx context.Context, task Task) (string, error) {
	body, err := task.Handle.OpenRange(ctx, task.Offset, task.Length)
	if err != nil {
		return "", fmt.Errorf("open part %d range: %w", task.PartNumber, err)
	}
	defer body.Close()

	eTag, err := s.transport.UploadPart(ctx, task.URL, body, task.Length)
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", task.PartNumber, err)
	}
	return eTag, nil
}

// finishLocked closes the idle channel once the queue is drained and nothing
// is in flight.
func (s *Scheduler) finishLocked() {
	if s.inFlight == 0 && len(s.queue) == 0 && s.idle != nil {
		select {
		case <-s.idle:
		default:
			close(s.idle)
		}
	}
}
