// Package application assembles the configured stores, engines and logger
// into a running dataguard instance.
package application

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dataguard/internal/config"
	appErrors "dataguard/internal/errors"
	"dataguard/internal/logging"
	"dataguard/internal/metrics"
	"dataguard/internal/objectstore"
	"dataguard/internal/service"
	"dataguard/internal/store"
)

// Options tune how the application is built.
type Options struct {
	Verbose bool
	Quiet   bool
	// Logger overrides the logger built from the config.
	Logger *logging.Logger
	// Clock overrides time.Now for the engines.
	Clock func() time.Time
}

// Application holds the wired components for one CLI invocation or server.
type Application struct {
	Config   *config.Config
	Logger   *logging.Logger
	Service  *service.Service
	Registry *prometheus.Registry
	Metrics  metrics.Recorder

	store   store.RelationalStore
	objects objectstore.ObjectStore
}

// New connects the relational store and object store described by cfg and
// builds the service over them. The caller must Close the application.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = cfg.NewLogger(opts.Verbose, opts.Quiet)
		if err != nil {
			return nil, appErrors.NewConfigurationError("failed to create logger", err)
		}
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, appErrors.NewConfigurationError("invalid collections", err)
	}
	codec, err := cfg.NewCodec()
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(promReg)

	retry := cfg.RetryHandler()
	s, err := store.Open(ctx, cfg.Database, reg, retry, logger)
	if err != nil {
		return nil, err
	}
	objects, err := objectstore.NewFromConfig(ctx, cfg.Storage, retry, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	svc := service.New(s, objects, reg, service.Options{
		Clock:     opts.Clock,
		Logger:    logger,
		Metrics:   recorder,
		Codec:     codec,
		Retention: cfg.Retention,
	})

	logger.WithFields(map[string]interface{}{
		"database":    cfg.Database.Driver,
		"storage":     cfg.Storage.Provider,
		"compression": codec.Compression(),
		"encrypted":   codec.Encrypted(),
	}).Debug("Application initialized")

	return &Application{
		Config:   cfg,
		Logger:   logger,
		Service:  svc,
		Registry: promReg,
		Metrics:  recorder,
		store:    s,
		objects:  objects,
	}, nil
}

// Close releases the relational store.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	a.Logger.Debug("Closing relational store")
	return a.store.Close()
}

// OperationContext bounds ctx by the configured operation timeout.
func (a *Application) OperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.Config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.Config.Timeout)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. In-flight
// operations see the cancellation and stop at their next checkpoint.
func SignalContext(parent context.Context, logger *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			if logger != nil {
				logger.WithField("signal", sig.String()).Warn("Received shutdown signal, cancelling")
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Exit codes returned by the CLI.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitIntegrity   = 3
	ExitInterrupted = 130
)

// ExitCode maps a result to the process exit code.
func ExitCode(res service.Result) int {
	if res.Success {
		return ExitOK
	}
	return exitCodeFor(appErrors.ErrorType(res.ErrorType))
}

// ExitCodeForError maps an error returned outside a Result.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return exitCodeFor(appErrors.GetErrorType(err))
}

func exitCodeFor(t appErrors.ErrorType) int {
	switch t {
	case appErrors.ErrorTypeValidation, appErrors.ErrorTypeConfiguration:
		return ExitUsage
	case appErrors.ErrorTypeChecksumMismatch, appErrors.ErrorTypeMalformedSnapshot:
		return ExitIntegrity
	case appErrors.ErrorTypeInterruption:
		return ExitInterrupted
	default:
		return ExitFailure
	}
}
