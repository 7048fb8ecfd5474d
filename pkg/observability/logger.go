// Package observability carries the structured logger and the run metrics.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a structured JSON logger; a nil output logs to stderr.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()

	return &Logger{logger: logger}
}

// NewConsoleLogger creates a human readable logger for terminals.
func NewConsoleLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return NewLogger(service, version, zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen})
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// SetLevel parses a level name ("debug", "info", ...) and applies it.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	l.logger = l.logger.Level(lvl)
	return nil
}

// WithRun adds run_id context to logger.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("run_id", runID).Logger(),
	}
}

// WithImage adds image path context to logger.
func (l *Logger) WithImage(path string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("image", path).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// ImageScanned logs the header of one image read during a stats pass.
func (l *Logger) ImageScanned(path string, size []int, spacing []float64, pixelType string) {
	l.logger.Debug().
		Str("image", path).
		Ints("size", size).
		Floats64("spacing", spacing).
		Str("pixel_type", pixelType).
		Msg("image scanned")
}

// ImageResampled logs where a resampled image was written. The input is
// expected in the WithImage context.
func (l *Logger) ImageResampled(output string, size []int, spacing []float64, bytesWritten int64, elapsed time.Duration) {
	l.logger.Info().
		Str("output", output).
		Ints("size", size).
		Floats64("spacing", spacing).
		Str("written", humanize.Bytes(uint64(bytesWritten))).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("image resampled")
}

// ThumbnailWritten logs a thumbnail file.
func (l *Logger) ThumbnailWritten(path string) {
	l.logger.Debug().
		Str("thumbnail", path).
		Msg("thumbnail written")
}

// CheckFinished logs a checker verdict.
func (l *Logger) CheckFinished(check string, passed bool, distinct, total int) {
	l.logger.Info().
		Str("check", check).
		Bool("passed", passed).
		Int("distinct", distinct).
		Int("images", total).
		Msg("check finished")
}
