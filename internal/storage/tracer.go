package storage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// QueryLogger writes statements and their outcome to a slog logger.
type QueryLogger struct {
	logger *slog.Logger
}

var _ pgx.QueryTracer = (*QueryLogger)(nil)

func NewQueryLogger(logger *slog.Logger) *QueryLogger {
	return &QueryLogger{logger: logger}
}

func (q *QueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	sql := strings.Join(strings.Fields(data.SQL), " ")
	q.logger.Debug("query start", "sql", sql, "args", len(data.Args))
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: sql})
}

func (q *QueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, _ := ctx.Value(queryStartKey{}).(queryStart)
	var took time.Duration
	if !start.at.IsZero() {
		took = time.Since(start.at)
	}

	if data.Err != nil {
		q.logger.Error("query failed", "sql", start.sql, "took", took, "err", data.Err)
		return
	}
	q.logger.Debug("query done", "command", data.CommandTag.String(), "rows_affected", data.CommandTag.RowsAffected(), "took", took)
}
