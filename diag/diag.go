// Package diag carries diagnostic context: the connection a log line belongs
// to and the source mask of debug dumps.
//
// The connection identifier travels in a context.Context instead of
// goroutine-local state, so grouping survives work that hops goroutines.
package diag

import (
	"context"
	"log/slog"
	"strings"
)

type connIDKey struct{}

// WithConnectionID returns a copy of ctx tagged with the connection identifier.
func WithConnectionID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnectionID returns the connection identifier carried by ctx.
func ConnectionID(ctx context.Context) (uint64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(connIDKey{}).(uint64)
	return id, ok
}

// Source selects the sections of a debug dump.
type Source uint32

const (
	SourceEpoll Source = 1 << iota
	SourceConnection
	SourceStream

	SourceAll = SourceEpoll | SourceConnection | SourceStream
)

// Has reports whether every bit of flag is set.
func (s Source) Has(flag Source) bool {
	return s&flag == flag
}

// Indent returns the prefix used for nested debug lines.
func Indent(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat("    ", level)
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
