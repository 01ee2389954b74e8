package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Tuning defaults, applied by Config.withDefaults.
const (
	defaultQueueSize  = 4096
	defaultBatchSize  = 1000
	defaultBatchWait  = 500 * time.Millisecond
	defaultSinkBudget = 10 * time.Second
	dropLogEvery      = 5 * time.Second
)

// Config tunes the Hub. Zero values take the defaults noted per field.
type Config struct {
	// BufferSize is the queue capacity before Emit starts dropping (4096).
	BufferSize int
	// MaxBatchEvents flushes the pending batch once it reaches this size (1000).
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first pending event may wait before a
	// flush, so sinks stay current even on quiet runs (500ms).
	MaxBatchWait time.Duration
	// SinkTimeout is the per-sink deadline for a single flush (10s).
	SinkTimeout time.Duration
	// BaseContext is the parent context for sink calls (context.Background()).
	BaseContext context.Context
	// Logger receives backpressure and sink failure warnings.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultQueueSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultBatchSize
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkBudget
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches run and file events and fans each batch out to the registered
// sinks. Emit never blocks the caller: a full queue drops the event and raises
// the counter read by Dropped, so a slow sink cannot stall a download or
// import worker.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropWindow  atomic.Int64 // drops since the last backpressure warning
	dropTotal   atomic.Int64 // drops over the Hub's lifetime
	lastDropLog atomic.Int64 // unix nanos of the last backpressure warning
	closing     atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
// Sinks are flushed in registration order; one sink failing is logged and
// never affects the others.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		queue:  make(chan Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Events that fail validation are discarded
// with a debug log; a full queue drops the event and counts it.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.noteDrop()
	}
}

// noteDrop counts a discarded event and warns at most once per dropLogEvery.
func (h *Hub) noteDrop() {
	h.dropTotal.Add(1)
	h.dropWindow.Add(1)
	now := time.Now().UnixNano()
	last := h.lastDropLog.Load()
	if now-last < int64(dropLogEvery) {
		return
	}
	if !h.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", h.dropWindow.Swap(0)))
}

// Dropped reports how many events were discarded over the Hub's lifetime
// because the queue was full. Runs log a non-zero figure in their closing
// summary.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropTotal.Load()
}

// Close stops intake, drains the queue, flushes and closes the sinks, then
// waits for the background goroutine to exit. ctx bounds only the wait;
// events already queued are still delivered. Safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	// disarm stops a scheduled flush; timer.C must be drained when Stop
	// reports the timer already fired, or the stale tick flushes an empty
	// batch later.
	disarm := func() {
		if timeout == nil {
			return
		}
		if !timer.Stop() {
			<-timer.C
		}
		timeout = nil
	}
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents:
				disarm()
				h.flush(pending)
				pending = pending[:0]
			case len(pending) == 1:
				// The deadline runs from the first pending event, not the
				// last, so staleness stays bounded under a steady trickle.
				if timer == nil {
					timer = time.NewTimer(h.cfg.MaxBatchWait)
				} else {
					timer.Reset(h.cfg.MaxBatchWait)
				}
				timeout = timer.C
			}
		case <-timeout:
			timeout = nil
			h.flush(pending)
			pending = pending[:0]
		case <-h.quit:
			disarm()
			h.drain(pending)
			return
		}
	}
}

// drain empties the queue after quit, delivers what remains, and closes the
// sinks. Emit stopped accepting before quit closed, so the queue only
// shrinks here.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.flush(pending)
				pending = pending[:0]
			}
		default:
			h.flush(pending)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks may retain the slice past the call; hand each a stable copy.
	events := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := h.sinkContext()
		if err := sink.Consume(ctx, events); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) sinkContext() (context.Context, context.CancelFunc) {
	if h.cfg.SinkTimeout <= 0 {
		return h.cfg.BaseContext, func() {}
	}
	return context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
