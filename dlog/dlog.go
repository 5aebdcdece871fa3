// Package dlog is the controller's structured-logging façade, adapted
// from the teacher pack's clog package: the same enable/disable gate
// and leveled-call shape, backed by charmbracelet/log instead of the
// standard library logger.
package dlog

import (
	"os"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the leveled logging surface the rest of the daemon depends
// on. Call sites pass alternating key/value pairs, matching
// charmbracelet/log's structured-field convention.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)

	// With returns a Logger that always includes the given key/value
	// pairs, for tagging a log stream with e.g. the bus number.
	With(keyvals ...any) Logger
}

// DLog wraps a charmbracelet/log.Logger behind an enable gate, mirroring
// clog.Clog's LogMode on/off switch.
type DLog struct {
	inner *charmlog.Logger
	has   uint32
}

// New creates a DLog writing to stderr with the given prefix, enabled
// by default.
func New(prefix string) *DLog {
	inner := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
	})
	return &DLog{inner: inner, has: 1}
}

// LogMode enables or disables log output, as clog.Clog.LogMode does.
func (d *DLog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&d.has, 1)
	} else {
		atomic.StoreUint32(&d.has, 0)
	}
}

func (d *DLog) enabled() bool { return atomic.LoadUint32(&d.has) == 1 }

// Debug logs at debug level.
func (d *DLog) Debug(msg string, keyvals ...any) {
	if d.enabled() {
		d.inner.Debug(msg, keyvals...)
	}
}

// Info logs at info level.
func (d *DLog) Info(msg string, keyvals ...any) {
	if d.enabled() {
		d.inner.Info(msg, keyvals...)
	}
}

// Warn logs at warn level.
func (d *DLog) Warn(msg string, keyvals ...any) {
	if d.enabled() {
		d.inner.Warn(msg, keyvals...)
	}
}

// Error logs at error level.
func (d *DLog) Error(msg string, keyvals ...any) {
	if d.enabled() {
		d.inner.Error(msg, keyvals...)
	}
}

// With implements Logger.
func (d *DLog) With(keyvals ...any) Logger {
	return &DLog{inner: d.inner.With(keyvals...), has: d.has}
}

var _ Logger = (*DLog)(nil)
