package main

import (
	"context"
	"fmt"

	"github.com/septivank/raven-tracer/internal/anomaly"
	"github.com/septivank/raven-tracer/internal/config"
	"github.com/septivank/raven-tracer/internal/db"
	"github.com/septivank/raven-tracer/internal/livefeed"
	"github.com/septivank/raven-tracer/internal/mq"
	"github.com/septivank/raven-tracer/internal/pipeline"
	"github.com/septivank/raven-tracer/internal/raven"
	"github.com/septivank/raven-tracer/internal/registry"
	"github.com/septivank/raven-tracer/internal/repository"
	"github.com/septivank/raven-tracer/internal/serial"
	"github.com/septivank/raven-tracer/internal/service"
	"github.com/septivank/raven-tracer/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Store is what both database backends provide
type Store interface {
	registry.Store
	service.TraceStore
}

// Registries groups the two identity registries, which share a type
type Registries struct {
	Ravens *registry.Registry
	Meters *registry.Registry
}

func startTracer(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	p *pipeline.Pipeline,
	logger *zap.Logger,
) {
	var run *pipeline.Run

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			run = p.Start(context.Background())

			go func() {
				<-run.Done()
				if err := run.Wait(); err != nil {
					logger.Error("pipeline stopped with error", zap.String("run_id", run.ID), zap.Error(err))
					shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				logger.Info("pipeline finished", zap.String("run_id", run.ID))
				shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			run.Cancel()
			select {
			case <-run.Done():
				logger.Info("tracer stopped gracefully")
				return nil
			case <-stopCtx.Done():
				return fmt.Errorf("pipeline did not stop in time: %w", stopCtx.Err())
			}
		},
	})
}

// ProvideSerialPort opens the adapter port and closes it when the app stops
func ProvideSerialPort(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*serial.Port, error) {
	port, err := serial.Open(serial.PortConfig{
		Name:        cfg.Raven.Port,
		BaudRate:    cfg.Raven.BaudRate,
		ReadTimeout: cfg.Raven.ReadTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return port.Close()
		},
	})
	return port, nil
}

// ProvideFramer creates the stanza framer over the serial port
func ProvideFramer(port *serial.Port) *serial.Framer {
	return serial.NewFramer(port)
}

// ProvideDecoder creates the stanza decoder
func ProvideDecoder(logger *zap.Logger) *raven.Decoder {
	return raven.NewDecoder(logger)
}

// ProvideStore opens the configured database backend
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(context.Background(), cfg.Database.Path, cfg.Database.Migrate)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite database opened", zap.String("path", cfg.Database.Path))
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Info("sqlite database closed")
				return sqlDB.Close()
			},
		})
		return repository.NewSQLiteRepository(sqlDB), nil

	default:
		pool, err := db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.Migrate)
		if err != nil {
			return nil, err
		}
		return repository.NewRepository(pool), nil
	}
}

// ProvideRegistries creates the raven and smart meter registries
func ProvideRegistries(store Store, logger *zap.Logger) Registries {
	return Registries{
		Ravens: registry.New(store, db.KindRaven, logger),
		Meters: registry.New(store, db.KindSmartMeter, logger),
	}
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvideAnomalyWindow creates the demand spike window
func ProvideAnomalyWindow(cfg *config.Config) *anomaly.Window {
	detector := anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
	return anomaly.NewWindow(detector, cfg.Anomaly.Window)
}

// ProvideSessionLogger creates the idle session logger for this process
func ProvideSessionLogger(
	store Store,
	registries Registries,
	v *validator.Validator,
	window *anomaly.Window,
	cfg *config.Config,
	logger *zap.Logger,
) *service.SessionLogger {
	return service.NewSessionLogger(store, registries.Ravens, registries.Meters, v, window, logger,
		service.Options{OpenTraceOnSummation: cfg.Pipeline.OpenTraceOnSummation})
}

// ProvideSinks builds the optional RabbitMQ publisher and live feed
func ProvideSinks(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) ([]pipeline.Sink, error) {
	var sinks []pipeline.Sink

	if cfg.RabbitMQ.URL != "" {
		conn, err := mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}
		publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKeyPrefix, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return publisher.Close()
			},
		})
		sinks = append(sinks, publisher)
	}

	if cfg.Feed.Enabled {
		hub := livefeed.NewHub(cfg.ServiceName, logger)
		livefeed.NewServer(lc, hub, cfg.Feed.ListenAddress, logger)
		sinks = append(sinks, hub)
	}

	return sinks, nil
}

// ProvidePipeline connects the framer to the session logger
func ProvidePipeline(
	framer *serial.Framer,
	decoder *raven.Decoder,
	sessionLogger *service.SessionLogger,
	sinks []pipeline.Sink,
	cfg *config.Config,
	logger *zap.Logger,
) *pipeline.Pipeline {
	return pipeline.New(framer, decoder, sessionLogger, pipeline.Config{
		QueueSize:       cfg.Pipeline.QueueSize,
		ConsumerTimeout: cfg.Pipeline.ConsumerTimeout,
	}, logger, sinks...)
}
