// Package logging holds the logger shared by every package of the module.
//
// By default nothing is logged. The root gif package exposes SetLogger so
// applications can route codec diagnostics into their own slog handler.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(nopHandler{}))
}

// Set replaces the shared logger. A nil logger restores the no-op default.
func Set(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	current.Store(l)
}

// L returns the shared logger. It is safe for concurrent use.
func L() *slog.Logger {
	return current.Load()
}

// nopHandler discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
