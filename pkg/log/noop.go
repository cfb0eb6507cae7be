package log

// NoopLogger discards all log messages.
type NoopLogger struct{}

// Noop returns a logger that discards everything.
func Noop() *NoopLogger { return &NoopLogger{} }

func (*NoopLogger) Debug(string, ...Field) {}
func (*NoopLogger) Info(string, ...Field)  {}
func (*NoopLogger) Warn(string, ...Field)  {}
func (*NoopLogger) Error(string, ...Field) {}
