package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

// EventSchemaVersion is stamped on every emitted event.
const EventSchemaVersion = 1

// Emitter delivers progress events to the caller over a bounded
// channel. The pipeline never blocks on the consumer: when the buffer
// is full, non-terminal events are dropped and counted. The terminal
// event is always delivered, exactly once, and closes the channel.
type Emitter struct {
	ch      chan models.Event
	seq     atomic.Uint64
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	terminal bool
}

// NewEmitter creates an emitter with the given buffer size. metrics
// may be nil.
func NewEmitter(buffer int, logger *observability.Logger, metrics *observability.Metrics) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{
		ch:      make(chan models.Event, buffer),
		logger:  logger,
		metrics: metrics,
	}
}

// Events is the stream the caller drains. It is closed after the
// terminal event.
func (e *Emitter) Events() <-chan models.Event {
	return e.ch
}

// Emit sends a progress event without blocking. Events arriving after
// the terminal event, or while the buffer is full, are dropped.
func (e *Emitter) Emit(ev models.Event) {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return
	}
	e.stamp(&ev)

	select {
	case e.ch <- ev:
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		e.logger.Debug("event buffer full, dropping event", "type", string(ev.Type))
		if e.metrics != nil {
			e.metrics.DroppedEvents.Inc()
		}
	}
}

// EmitTerminal delivers the terminal event and closes the stream.
// Only the first terminal event wins; later calls are ignored, which
// is what makes "exactly one terminal outcome" hold even on
// double-fault paths.
func (e *Emitter) EmitTerminal(ev models.Event) {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		e.logger.Warn("duplicate terminal event suppressed", "type", string(ev.Type))
		return
	}
	e.terminal = true
	e.stamp(&ev)
	e.mu.Unlock()

	// A buffered slot is not guaranteed here, so this send can wait
	// for the consumer. Terminal delivery is the one place the
	// pipeline is allowed to block.
	e.ch <- ev
	close(e.ch)
}

func (e *Emitter) stamp(ev *models.Event) {
	ev.Version = EventSchemaVersion
	ev.Sequence = e.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
}
