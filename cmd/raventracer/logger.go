package main

import (
	"github.com/septivank/raven-tracer/internal/config"
	"github.com/septivank/raven-tracer/internal/logging"
	"go.uber.org/zap"
)

// cliOptions carries the command line flags into the fx graph
type cliOptions struct {
	ConfigPath string
	Verbose    bool
}

func newLogger(cfg *config.Config, opts cliOptions) (*zap.Logger, error) {
	logger, err := logging.NewLogger(cfg.ServiceName, opts.Verbose)
	if err != nil {
		return nil, err
	}
	logger.Debug("effective configuration",
		zap.String("config_file", opts.ConfigPath),
		zap.String("raven_port", cfg.Raven.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Int("queue_size", cfg.Pipeline.QueueSize),
		zap.Duration("consumer_timeout", cfg.Pipeline.ConsumerTimeout),
		zap.Bool("open_trace_on_summation", cfg.Pipeline.OpenTraceOnSummation),
		zap.Bool("rabbitmq_enabled", cfg.RabbitMQ.URL != ""),
		zap.Bool("feed_enabled", cfg.Feed.Enabled))
	return logger, nil
}
