package session

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTickInterval         = time.Second
	defaultNextUpWarningLead    = 10 * time.Second
	defaultStalenessThreshold   = 24 * time.Hour
	defaultPersistRetries       = 3
	defaultPersistRetryInterval = 200 * time.Millisecond
	defaultAsyncWorkers         = 4
)

// Config holds controller tuning parameters. Zero-value fields are not
// usable; start from DefaultConfig.
type Config struct {
	// TickInterval is the in-memory timer resolution while Running.
	TickInterval time.Duration

	// NextUpWarningLead is how long before a step boundary the
	// next-up-warning reminder fires.
	NextUpWarningLead time.Duration

	// StalenessThreshold bounds how old a persisted snapshot's
	// backgrounded instant may be before it is rejected on load.
	StalenessThreshold time.Duration

	// PersistRetries bounds retries of asynchronous save/clear calls.
	PersistRetries uint64
	// PersistRetryInterval is the constant backoff between retries.
	PersistRetryInterval time.Duration

	// AsyncWorkers sizes the worker pool running persistence calls.
	AsyncWorkers int

	// Now supplies wall-clock time. Tests substitute a fake clock.
	Now func() time.Time

	// LogOutput receives controller logs, os.Stdout when nil.
	LogOutput io.Writer

	// Meter and Tracer enable optional OpenTelemetry instrumentation.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:         defaultTickInterval,
		NextUpWarningLead:    defaultNextUpWarningLead,
		StalenessThreshold:   defaultStalenessThreshold,
		PersistRetries:       defaultPersistRetries,
		PersistRetryInterval: defaultPersistRetryInterval,
		AsyncWorkers:         defaultAsyncWorkers,
		Now:                  time.Now,
		LogOutput:            os.Stdout,
	}
}

// VerifyConfig checks that config is legal, and returns an error on an
// illegal field.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.TickInterval <= 0 {
		return fmt.Errorf("TickInterval must be positive, now %s", config.TickInterval)
	}
	if config.NextUpWarningLead < 0 {
		return fmt.Errorf("NextUpWarningLead must not be negative, now %s", config.NextUpWarningLead)
	}
	if config.StalenessThreshold <= 0 {
		return fmt.Errorf("StalenessThreshold must be positive, now %s", config.StalenessThreshold)
	}
	if config.PersistRetryInterval <= 0 {
		return fmt.Errorf("PersistRetryInterval must be positive, now %s", config.PersistRetryInterval)
	}
	if config.AsyncWorkers <= 0 {
		return fmt.Errorf("AsyncWorkers must be positive, now %d", config.AsyncWorkers)
	}
	if config.Now == nil {
		return fmt.Errorf("Now must not be nil")
	}
	return nil
}
