// Package applog owns the process-wide structured logger. It mirrors
// the teacher's package-level accessor pattern (see caddy's logging.go
// Log()) rather than threading a logger through every constructor.
package applog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger = l
}

// Init replaces the default logger. debug selects the human-readable
// console encoding used during development; otherwise JSON production
// logging is used.
func Init(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		cfg := zap.NewDevelopmentConfig()
		l, err = cfg.Build()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	mu.Lock()
	old := logger
	logger = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// L returns the current process logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = L().Sync()
}
