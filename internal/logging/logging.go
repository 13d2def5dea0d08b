// Package logging builds the zerolog logger handed to every component.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"
)

// New returns a JSON logger writing to stderr with Unix timestamps. An
// unparseable level falls back to info.
func New(function, level string) zerolog.Logger {
	return NewWithWriter(os.Stderr, function, level)
}

func NewWithWriter(w io.Writer, function, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("function", function).
		Logger()
}

// ForInvocation returns a child logger tagged with the Lambda request id, when
// the context carries one.
func ForInvocation(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return logger.With().Str("requestId", lc.AwsRequestID).Logger()
	}
	return logger
}
