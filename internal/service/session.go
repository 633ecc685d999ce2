package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/raven-tracer/internal/anomaly"
	"github.com/septivank/raven-tracer/internal/db"
	"github.com/septivank/raven-tracer/internal/logging"
	"github.com/septivank/raven-tracer/internal/raven"
	"github.com/septivank/raven-tracer/internal/validator"
	"go.uber.org/zap"
)

var (
	// ErrLoggerFailed is returned once a persistence error has been seen
	ErrLoggerFailed = errors.New("session logger failed")
	// ErrLoggerClosed is returned for readings handed to a closed logger
	ErrLoggerClosed = errors.New("session logger closed")
)

// State is the lifecycle position of a SessionLogger
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// TraceStore persists traces and the readings logged under them
type TraceStore interface {
	StartTrace(ctx context.Context, ravenMAC, meterMAC string, start time.Time) (int64, error)
	EndTrace(ctx context.Context, traceID int64, end time.Time) error
	InsertInstant(ctx context.Context, instant db.Instant) error
	InsertSummary(ctx context.Context, summary db.Summary) error
}

// DeviceRegistry makes sure an identity record exists for a MAC
type DeviceRegistry interface {
	Ensure(ctx context.Context, mac string) error
}

// Options tune SessionLogger behaviour
type Options struct {
	// OpenTraceOnSummation lets CurrentSummationDelivered open a trace too.
	// When false a summation received while idle is dropped.
	OpenTraceOnSummation bool
	// Now defaults to time.Now
	Now func() time.Time
}

// SessionLogger owns one trace: it opens it lazily on the first attributable
// reading, logs demand and summation rows against it and ends it on Close.
type SessionLogger struct {
	store     TraceStore
	ravens    DeviceRegistry
	meters    DeviceRegistry
	validator *validator.Validator
	window    *anomaly.Window
	logger    *zap.Logger
	opts      Options

	mu      sync.Mutex
	state   State
	traceID int64
	failure error
}

// NewSessionLogger creates an idle session logger. validator and window may be nil.
func NewSessionLogger(
	store TraceStore,
	ravens DeviceRegistry,
	meters DeviceRegistry,
	validator *validator.Validator,
	window *anomaly.Window,
	logger *zap.Logger,
	opts Options,
) *SessionLogger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionLogger{
		store:     store,
		ravens:    ravens,
		meters:    meters,
		validator: validator,
		window:    window,
		logger:    logger,
		opts:      opts,
	}
}

// State returns the current lifecycle state
func (s *SessionLogger) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TraceID returns the open or closed trace id, or 0 if none was opened
func (s *SessionLogger) TraceID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traceID
}

// Err returns the persistence error that failed the logger, if any
func (s *SessionLogger) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Handle dispatches one reading. Returned errors wrap ErrLoggerFailed or
// ErrLoggerClosed; readings that are only observed never produce one.
func (s *SessionLogger) Handle(ctx context.Context, r raven.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateClosed:
		return ErrLoggerClosed
	case s.failure != nil:
		return fmt.Errorf("%w: %w", ErrLoggerFailed, s.failure)
	}

	switch v := r.(type) {
	case raven.InstantaneousDemand:
		s.diagnose(v)
		if s.window != nil {
			if isAnomaly, reason := s.window.Observe(v.Kilowatts()); isAnomaly {
				s.logger.Warn("demand anomaly", zap.String("reason", reason))
			}
		}
		if s.state == StateIdle {
			if err := s.open(ctx, v.AdapterMAC, v.MeterMAC); err != nil {
				return err
			}
		}
		err := s.store.InsertInstant(ctx, db.Instant{TraceID: s.traceID, ReadTime: v.Time, ReadValue: v.Demand})
		if err != nil {
			return s.fail(fmt.Errorf("failed to log instant reading: %w", err))
		}
		s.logger.Debug("instant reading logged", zap.Uint64("demand", v.Demand))

	case raven.CurrentSummationDelivered:
		s.diagnose(v)
		if s.state == StateIdle {
			if !s.opts.OpenTraceOnSummation {
				s.logger.Warn("summation received before any trace was opened, dropping",
					zap.Uint64("summation", v.Summation))
				return nil
			}
			if err := s.open(ctx, v.AdapterMAC, v.MeterMAC); err != nil {
				return err
			}
		}
		err := s.store.InsertSummary(ctx, db.Summary{TraceID: s.traceID, ReadTime: v.Time, ReadValue: v.Summation})
		if err != nil {
			return s.fail(fmt.Errorf("failed to log summary: %w", err))
		}
		s.logger.Debug("summary logged", zap.Uint64("summation", v.Summation))

	case raven.ConnectionStatus:
		s.diagnose(v)
		s.logger.Debug("connection status",
			zap.String("status", v.Status),
			zap.Int("channel", v.Channel),
			zap.Uint64("link_strength", v.LinkStrength))

	case raven.TimeCluster:
		s.diagnose(v)
		s.logger.Debug("time cluster", zap.Time("utc", v.UTC), zap.Time("local", v.Local))

	case raven.Skip, raven.Stop:
		// framing noise and the shutdown sentinel carry nothing to log

	default:
		s.logger.Warn("unrecognized reading dropped", zap.Stringer("kind", r.Kind()))
	}

	return nil
}

// Close ends the open trace, if any, and moves the logger to StateClosed.
// Only the first call does anything. A failed logger closes without writing.
func (s *SessionLogger) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	wasActive := s.state == StateActive
	s.state = StateClosed

	if s.failure != nil {
		s.logger.Warn("closing failed session logger without ending trace")
		return nil
	}
	if !wasActive {
		s.logger.Info("session logger closed without a trace")
		return nil
	}

	if err := s.store.EndTrace(ctx, s.traceID, s.opts.Now()); err != nil {
		return s.fail(fmt.Errorf("failed to mark end of trace: %w", err))
	}

	s.logger.Info("trace closed")
	return nil
}

func (s *SessionLogger) open(ctx context.Context, adapterMAC, meterMAC string) error {
	if err := s.ravens.Ensure(ctx, adapterMAC); err != nil {
		return s.fail(err)
	}
	if err := s.meters.Ensure(ctx, meterMAC); err != nil {
		return s.fail(err)
	}

	traceID, err := s.store.StartTrace(ctx, adapterMAC, meterMAC, s.opts.Now())
	if err != nil {
		return s.fail(err)
	}

	s.traceID = traceID
	s.state = StateActive
	s.logger = logging.WithTraceID(s.logger, traceID)
	s.logger.Info("trace opened",
		zap.String("raven_mac_address", adapterMAC),
		zap.String("smartmeter_mac_address", meterMAC))

	return nil
}

// fail records err; the logger refuses further writes afterwards
func (s *SessionLogger) fail(err error) error {
	s.failure = err
	s.logger.Error("persistence failure", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrLoggerFailed, err)
}

func (s *SessionLogger) diagnose(r raven.Reading) {
	if s.validator == nil {
		return
	}
	result := s.validator.ValidateReading(r, s.opts.Now())
	if !result.IsValid {
		s.logger.Warn("reading failed validation",
			zap.Stringer("kind", r.Kind()),
			zap.String("reason", result.AnomalyReason))
	}
}
