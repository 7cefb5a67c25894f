// Package rtlog owns the runtime's process-wide logger singleton.
//
// Initialization order matters, per the runtime's global-state policy:
// the debug lock and logger must exist before any other singleton
// (pagesize, event scope, master poller, main cluster, workers).
package rtlog

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Category is a debug logging category, gated by FibreDebugString.
type Category string

const (
	CategoryScheduler Category = "sched"
	CategoryIO        Category = "io"
	CategoryTimer     Category = "timer"
	CategorySync      Category = "sync"
)

var (
	mu         sync.RWMutex
	base       *zap.Logger
	categories map[Category]bool
)

func init() {
	base = zap.NewNop()
	categories = map[Category]bool{}
}

// Init installs the process-wide logger and the set of enabled debug
// categories, parsed from FibreDebugString (comma-separated, closed set).
func Init(logger *zap.Logger, debugString string) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	base = logger
	categories = parseCategories(debugString)
}

func parseCategories(s string) map[Category]bool {
	out := map[Category]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch Category(part) {
		case CategoryScheduler, CategoryIO, CategoryTimer, CategorySync:
			out[Category(part)] = true
		}
	}
	return out
}

// For returns a named child logger for the given category. Debug-level
// records are only emitted for categories enabled via FibreDebugString;
// Info/Warn/Error always propagate.
func For(cat Category) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	l := base.Named(string(cat))
	if !categories[cat] {
		l = l.WithOptions(zap.IncreaseLevel(zap.InfoLevel))
	}
	return l.Sugar()
}
