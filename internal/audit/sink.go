package audit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"plantgate.org/internal/ids"
	"plantgate.org/internal/obs"
)

const (
	defaultBuffer        = 4096
	defaultBatchSize     = 128
	defaultFlushInterval = time.Second
	defaultWriteTimeout  = 5 * time.Second
)

// Async buffers records in memory and hands them to a Writer in batches from
// a single goroutine. A full buffer drops the record.
type Async struct {
	w             Writer
	buffer        int
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	failLog       *rate.Limiter

	mu     sync.RWMutex
	closed bool
	in     chan Record
	done   chan struct{}
}

// AsyncOption configures an Async sink.
type AsyncOption func(*Async)

func WithBuffer(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.buffer = n
		}
	}
}

func WithBatchSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.flushInterval = d
		}
	}
}

// WithFailureLogRate bounds how often write failures reach the log.
func WithFailureLogRate(every time.Duration, burst int) AsyncOption {
	return func(a *Async) {
		a.failLog = rate.NewLimiter(rate.Every(every), burst)
	}
}

// NewAsync starts the delivery goroutine. Call Close to flush and stop it.
func NewAsync(w Writer, opts ...AsyncOption) *Async {
	a := &Async{
		w:             w,
		buffer:        defaultBuffer,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		writeTimeout:  defaultWriteTimeout,
		failLog:       rate.NewLimiter(rate.Every(10*time.Second), 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.in = make(chan Record, a.buffer)
	go a.loop()
	return a
}

// Record enqueues r, filling ID, OccurredAt and RequestID when unset.
func (a *Async) Record(ctx context.Context, r Record) {
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}
	if r.ID == "" {
		r.ID = ids.NewAt(r.OccurredAt)
	}
	if r.RequestID == "" {
		r.RequestID = RequestIDFromContext(ctx)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		obs.AuditDroppedTotal.Inc()
		return
	}
	select {
	case a.in <- r:
	default:
		obs.AuditDroppedTotal.Inc()
	}
}

// Close stops intake, flushes what is buffered and waits for the writer or ctx.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.in)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, a.batchSize)
	for {
		select {
		case r, ok := <-a.in:
			if !ok {
				a.flush(batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= a.batchSize {
				a.flush(batch)
				batch = make([]Record, 0, a.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = make([]Record, 0, a.batchSize)
			}
		}
	}
}

func (a *Async) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()
	if err := a.w.Write(ctx, batch); err != nil {
		obs.AuditWriteFailuresTotal.Inc()
		if a.failLog.Allow() {
			obs.Error("audit write failed", map[string]any{
				"error":   err.Error(),
				"records": len(batch),
			})
		}
	}
}
