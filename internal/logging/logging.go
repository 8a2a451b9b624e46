// Package logging routes structured events to five category sinks —
// general, success, catchall, error, blocked_ips — each rotated to a
// new file per UTC hour under a directory per UTC date, per spec.md
// §6.
//
// The teacher logs ad hoc with fmt.Printf/log.Printf and emoji
// category prefixes; this generalises that into real structured
// fields (via github.com/sirupsen/logrus, grounded on sblinch-maddy's
// structured-logging use throughout its SMTP endpoint code) without
// losing the teacher's terse voice — field names, not prose, carry
// the meaning.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Category names the five log sinks spec.md §6 requires.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategorySuccess    Category = "success"
	CategoryCatchAll   Category = "catchall"
	CategoryError      Category = "error"
	CategoryBlockedIPs Category = "blocked_ips"
)

var allCategories = []Category{
	CategoryGeneral, CategorySuccess, CategoryCatchAll, CategoryError, CategoryBlockedIPs,
}

// Router owns one rotating logger per category. Callers fetch a
// *logrus.Entry via Router.Log(category) and attach structured fields.
type Router struct {
	baseDir string
	mu      sync.Mutex
	loggers map[Category]*rotatingLogger
}

// NewRouter builds a Router rooted at baseDir (created lazily per
// category/date/hour on first write).
func NewRouter(baseDir string) *Router {
	return &Router{baseDir: baseDir, loggers: make(map[Category]*rotatingLogger)}
}

// Log returns the logrus.Logger for category, rotating its output file
// if the UTC date or hour has advanced since the last write.
func (r *Router) Log(category Category) *logrus.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	rl, ok := r.loggers[category]
	if !ok {
		rl = newRotatingLogger(r.baseDir, category)
		r.loggers[category] = rl
	}
	return rl.current()
}

// Close flushes and closes every open sink.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, rl := range r.loggers {
		if err := rl.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// rotatingLogger lazily (re)opens logs/<category>/<date>/<hour>.log
// whenever the wall-clock date or hour changes.
type rotatingLogger struct {
	baseDir  string
	category Category

	mu       sync.Mutex
	file     *os.File
	logger   *logrus.Logger
	openedAt time.Time
}

func newRotatingLogger(baseDir string, category Category) *rotatingLogger {
	return &rotatingLogger{baseDir: baseDir, category: category}
}

func (rl *rotatingLogger) current() *logrus.Logger {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UTC()
	if rl.logger == nil || now.Format("2006-01-02-15") != rl.openedAt.Format("2006-01-02-15") {
		rl.rotate(now)
	}
	return rl.logger
}

func (rl *rotatingLogger) rotate(now time.Time) {
	if rl.file != nil {
		_ = rl.file.Close()
	}

	dateDir := filepath.Join(rl.baseDir, string(rl.category), now.Format("2006-01-02"))
	_ = os.MkdirAll(dateDir, 0o755)
	path := filepath.Join(dateDir, fmt.Sprintf("%02d.log", now.Hour()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if err != nil {
		// Fall back to stderr rather than losing the event entirely.
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(f)
		rl.file = f
	}
	rl.logger = logger
	rl.openedAt = now
}

func (rl *rotatingLogger) close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.file == nil {
		return nil
	}
	err := rl.file.Close()
	rl.file = nil
	return err
}
