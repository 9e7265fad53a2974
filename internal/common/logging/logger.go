package logging

import (
	"fmt"
	"os"
)

// NewDefaultLogger builds the stdout zap logger used before
// InitGlobalLogger runs.
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("default logger init failed: %v", err))
	}
	return logger
}

// InitGlobalLogger configures the global logger from LOG_LEVEL and
// LOG_FILE. With no LOG_FILE set, logs go to stdout.
func InitGlobalLogger() {
	config := DefaultLogConfig()

	fileName := os.Getenv("LOG_FILE")
	if fileName != "" {
		file, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			panic(fmt.Sprintf("cannot open log file %s: %v", fileName, err))
		}
		config.Output = file
	}

	logger, err := NewZapLogger(config)
	if err != nil {
		panic(fmt.Sprintf("logger init failed: %v", err))
	}
	SetGlobalLogger(logger)

	logger.Info("logger initialized",
		Field{Key: "level", Value: config.Level.String()},
		Field{Key: "log_file", Value: fileName},
	)
}

// MustSync flushes the global logger before exit.
func MustSync() {
	if z, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

// Err wraps an error as a standard "error" field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
