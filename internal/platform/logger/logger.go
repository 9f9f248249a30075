package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"
)

// Logger is the process-wide root logger. Init must run before first use.
var Logger zerolog.Logger

// Init configures the root logger from LOG_LEVEL and LOG_FORMAT.
func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter is Init with an explicit sink, for tests.
func InitWithWriter(w io.Writer) {
	level := zerolog.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}

	out := w
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	zlog.Logger = Logger
}

// WithCtx returns the root logger enriched with request and saga ids found
// on the context. Fields absent from the context are simply omitted.
func WithCtx(ctx context.Context) zerolog.Logger {
	lg := Logger
	if id := reqctx.RequestID(ctx); id != "" {
		lg = lg.With().Str("request_id", id).Logger()
	}
	if id := reqctx.CorrelationID(ctx); id != "" {
		lg = lg.With().Str("correlation_id", id).Logger()
	}
	return lg
}
