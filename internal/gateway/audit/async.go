package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mrmushfiq/imagegw/internal/shared/metrics"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when an event is dropped because the queue is full
	ErrQueueFull = errors.New("audit queue full")
	// ErrClosed is returned for events recorded after Close
	ErrClosed = errors.New("audit recorder closed")
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// AsyncRecorder hands events to a single background worker so audit writes
// never block the caller. Events are written in the order they were accepted.
type AsyncRecorder struct {
	next         Recorder
	queue        chan Event
	done         chan struct{}
	stopped      chan struct{}
	writeTimeout time.Duration
	metrics      *metrics.Collector
	logger       *zap.Logger

	// mu orders sends against Close so no event is accepted after the
	// worker's final drain.
	mu     sync.RWMutex
	closed bool
}

// NewAsyncRecorder starts a worker that forwards events to next
func NewAsyncRecorder(next Recorder, queueSize int, m *metrics.Collector, logger *zap.Logger) *AsyncRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &AsyncRecorder{
		next:         next,
		queue:        make(chan Event, queueSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		writeTimeout: defaultWriteTimeout,
		metrics:      m,
		logger:       logger.With(zap.String("component", "audit")),
	}
	go r.run()
	return r
}

// Record enqueues e. It never blocks; a full queue drops the event.
func (r *AsyncRecorder) Record(_ context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	select {
	case r.queue <- e:
		return nil
	default:
		r.metrics.RecordAuditDropped()
		r.logger.Warn("audit event dropped",
			zap.String("request_id", e.RequestID),
			zap.String("kind", string(e.Kind)))
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be written
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.stopped)
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *AsyncRecorder) write(e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordAuditDropped()
			r.logger.Error("audit write panicked",
				zap.String("request_id", e.RequestID),
				zap.Any("recover", rec))
		}
	}()

	// Writes are detached from the caller so canceled calls are still audited
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.next.Record(ctx, e); err != nil {
		r.metrics.RecordAuditDropped()
		r.logger.Warn("audit write failed",
			zap.String("request_id", e.RequestID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}
