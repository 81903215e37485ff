package replog

import (
	"context"
	"log/slog"
)

// LevelTrace is used for per-value events (property writes, collection
// inserts), which are too chatty for Debug.
const LevelTrace = slog.LevelDebug - 4

// Logger receives human-readable mutation events. *slog.Logger implements it.
type Logger interface {
	Enabled(ctx context.Context, level slog.Level) bool
	LogAttrs(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr)
}

var _ Logger = (*slog.Logger)(nil)

// wouldLog must be checked before building attrs so that a missing or
// disabled logger costs nothing.
func (r *Replication) wouldLog(level slog.Level) bool {
	return r.logger != nil && r.logger.Enabled(r.ctx, level)
}

func (r *Replication) log(level slog.Level, msg string, attrs ...slog.Attr) {
	r.logger.LogAttrs(r.ctx, level, msg, attrs...)
}

func classAttr(t Table) slog.Attr {
	return slog.String("class", t.ClassName())
}

func collectionKindAttr(col ColKey) slog.Attr {
	return slog.String("collection", col.Kind.String())
}

// describePath replaces the leading column of a path with its property name.
func describePath(t Table, path Path) string {
	if len(path) > 0 && path[0].kind == PathColumn {
		path = append(Path{KeyElem(t.ColumnName(path[0].col))}, path[1:]...)
	}
	return path.String()
}
