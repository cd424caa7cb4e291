package workflowrun

import "context"

type Logger interface {
	// Debug is only emitted when the service is constructed with WithDebugMode.
	Debug(ctx context.Context, msg string, meta map[string]string)
	// Error is used when writing errors to the logs.
	Error(ctx context.Context, err error)
}

// MKV is a multiple key value store for the logger to format into its output.
type MKV map[string]string

// logger wraps the configured Logger and swallows debug output unless debug mode
// was enabled at construction.
type logger struct {
	inner     Logger
	debugMode bool
}

func (l *logger) Debug(ctx context.Context, msg string, meta map[string]string) {
	if !l.debugMode {
		return
	}

	l.inner.Debug(ctx, msg, meta)
}

func (l *logger) Error(ctx context.Context, err error) {
	l.inner.Error(ctx, err)
}
