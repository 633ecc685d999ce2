package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/raven-tracer/internal/logging"
	"github.com/septivank/raven-tracer/internal/raven"
	"github.com/septivank/raven-tracer/internal/serial"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize       = 64
	DefaultConsumerTimeout = 60 * time.Second
)

// Source yields one framed stanza per call; *serial.Framer satisfies it
type Source interface {
	Read() (string, error)
}

// Handler consumes readings; *service.SessionLogger satisfies it.
// Close is called exactly once per run.
type Handler interface {
	Handle(ctx context.Context, r raven.Reading) error
	Close(ctx context.Context) error
}

// Sink is offered every reading the handler accepted. Sink errors are logged only.
type Sink interface {
	Observe(ctx context.Context, r raven.Reading) error
}

// Config holds the queue bound and the consumer idle timeout
type Config struct {
	QueueSize       int
	ConsumerTimeout time.Duration
}

// Pipeline connects a stanza source to a reading handler through a bounded queue
type Pipeline struct {
	source  Source
	decoder *raven.Decoder
	handler Handler
	sinks   []Sink
	cfg     Config
	logger  *zap.Logger
}

// New creates a pipeline; zero config values fall back to the defaults
func New(source Source, decoder *raven.Decoder, handler Handler, cfg Config, logger *zap.Logger, sinks ...Sink) *Pipeline {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ConsumerTimeout <= 0 {
		cfg.ConsumerTimeout = DefaultConsumerTimeout
	}
	return &Pipeline{
		source:  source,
		decoder: decoder,
		handler: handler,
		sinks:   sinks,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run is the control handle of one started pipeline
type Run struct {
	ID       string
	Producer *Task
	Consumer *Task

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel asks the producer to stop. It is polled once per read, after which
// the producer enqueues Stop behind any buffered readings.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once both tasks have returned
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait joins both tasks. A producer error is a transport failure, a consumer
// error a persistence failure.
func (r *Run) Wait() error {
	return errors.Join(r.Producer.Wait(), r.Consumer.Wait())
}

// Start launches the producer and consumer. Cancelling ctx has the same
// effect as Run.Cancel.
func (p *Pipeline) Start(ctx context.Context) *Run {
	ctx, cancel := context.WithCancel(ctx)
	runID := uuid.NewString()
	logger := logging.WithRunID(p.logger, runID)

	queue := make(chan raven.Reading, p.cfg.QueueSize)
	consumerDone := make(chan struct{})

	consumer := startTask("consumer", func() error {
		defer close(consumerDone)
		return p.consume(ctx, queue, logger)
	})
	producer := startTask("producer", func() error {
		return p.produce(ctx, queue, consumerDone, logger)
	})

	run := &Run{
		ID:       runID,
		Producer: producer,
		Consumer: consumer,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		<-producer.Done()
		<-consumer.Done()
		cancel()
		close(run.done)
	}()

	logger.Info("pipeline started",
		zap.Int("queue_size", p.cfg.QueueSize),
		zap.Duration("consumer_timeout", p.cfg.ConsumerTimeout))

	return run
}

// enqueue blocks until r is queued or the consumer has gone away
func enqueue(queue chan<- raven.Reading, r raven.Reading, consumerDone <-chan struct{}) bool {
	select {
	case queue <- r:
		return true
	case <-consumerDone:
		return false
	}
}

func (p *Pipeline) produce(ctx context.Context, queue chan<- raven.Reading, consumerDone <-chan struct{}, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("producer cancelled, sending stop")
			enqueue(queue, raven.Stop{}, consumerDone)
			return nil
		case <-consumerDone:
			logger.Info("consumer finished, producer exiting")
			return nil
		default:
		}

		stanza, err := p.source.Read()
		if serial.IsTimeout(err) {
			continue
		}
		if err != nil {
			logger.Error("serial transport failure", zap.Error(err))
			return fmt.Errorf("failed to read stanza: %w", err)
		}

		if !enqueue(queue, p.decoder.Decode(stanza), consumerDone) {
			return nil
		}
	}
}

func (p *Pipeline) consume(ctx context.Context, queue <-chan raven.Reading, logger *zap.Logger) (err error) {
	// the final trace update must still run after cancellation
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if closeErr := p.handler.Close(ctx); closeErr != nil {
			logger.Error("failed to close session", zap.Error(closeErr))
			err = errors.Join(err, closeErr)
		}
	}()

	for {
		select {
		case r := <-queue:
			if _, ok := r.(raven.Stop); ok {
				logger.Info("stop received, consumer exiting")
				return nil
			}
			if err := p.handler.Handle(ctx, r); err != nil {
				logger.Error("consumer failed", zap.Stringer("kind", r.Kind()), zap.Error(err))
				return fmt.Errorf("failed to handle %s: %w", r.Kind(), err)
			}
			p.observe(ctx, r, logger)

		case <-time.After(p.cfg.ConsumerTimeout):
			logger.Info("no reading within timeout, consumer exiting",
				zap.Duration("timeout", p.cfg.ConsumerTimeout))
			return nil
		}
	}
}

func (p *Pipeline) observe(ctx context.Context, r raven.Reading, logger *zap.Logger) {
	if _, ok := r.(raven.Skip); ok {
		return
	}
	for _, sink := range p.sinks {
		if err := sink.Observe(ctx, r); err != nil {
			logger.Warn("sink rejected reading", zap.Stringer("kind", r.Kind()), zap.Error(err))
		}
	}
}
