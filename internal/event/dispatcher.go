package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/kafka"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/logger"
)

// Sink receives envelopes drained from the dispatcher.
type Sink interface {
	Emit(ctx context.Context, env Envelope) error
}

// KafkaSink publishes envelopes to Kafka wrapped in the standard event
// envelope.
type KafkaSink struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewKafkaSink creates a sink backed by the Kafka producer.
func NewKafkaSink(producer *kafka.Producer, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{producer: producer, logger: logger}
}

// Emit publishes one envelope.
func (s *KafkaSink) Emit(ctx context.Context, env Envelope) error {
	ev, err := kafka.NewEvent(env.Topic, env.AggregateID, AggregateTypeIdentity, SourceAuthService, env.Data)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	if env.CorrelationID != "" {
		ev.WithCorrelationID(env.CorrelationID)
	}
	return s.producer.Publish(ctx, env.Topic, ev)
}

// NoOpSink discards everything. Used in tests and when Kafka is disabled.
type NoOpSink struct{}

// Emit discards the envelope.
func (NoOpSink) Emit(context.Context, Envelope) error { return nil }

// Dispatcher forwards auth events to a sink from a single consumer
// goroutine, so emitting never blocks a login on broker latency. When the
// buffer is full the envelope is dropped and counted; losing an event is
// preferable to stalling authentication.
type Dispatcher struct {
	sink      Sink
	ch        chan Envelope
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewDispatcher starts a dispatcher draining to the sink.
func NewDispatcher(sink Sink, bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:   sink,
		ch:     make(chan Envelope, bufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case env := <-d.ch:
			d.deliver(env)
		case <-d.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case env := <-d.ch:
					d.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(env Envelope) {
	if err := d.sink.Emit(context.Background(), env); err != nil {
		d.logger.Error("failed to emit event",
			slog.String("topic", env.Topic),
			slog.String("aggregate_id", env.AggregateID),
			slog.String("error", err.Error()),
		)
	}
}

// Emit queues an envelope for delivery. Never blocks: a full buffer drops
// the envelope and bumps the counter. The correlation ID is captured from
// the context before the request finishes.
func (d *Dispatcher) Emit(ctx context.Context, env Envelope) {
	if d == nil || d.closed.Load() {
		return
	}

	if env.CorrelationID == "" {
		env.CorrelationID = logger.CorrelationIDFromContext(ctx)
	}

	select {
	case d.ch <- env:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close stops the dispatcher after draining buffered envelopes.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many envelopes were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
