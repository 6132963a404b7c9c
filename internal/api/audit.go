package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Admin actions recorded in the access log.
const (
	actionNone           = "none"
	actionHealth         = "health"
	actionConfigRead     = "config.read"
	actionReporterStatus = "reporter.status"
	actionConfigReload   = "config.reload"
	actionMetricsScrape  = "metrics.scrape"
)

const auditContextKey contextKey = "audit"

// auditRecord collects what one admin request did. Handlers add their outcome
// and auditMiddleware writes it as a single log entry.
type auditRecord struct {
	action string
	fields []zap.Field
}

func auditFromContext(ctx context.Context) *auditRecord {
	rec, _ := ctx.Value(auditContextKey).(*auditRecord)
	return rec
}

// annotate attaches outcome fields to the request's access log entry. It is a
// no-op when access logging is disabled.
func annotate(ctx context.Context, fields ...zap.Field) {
	if rec := auditFromContext(ctx); rec != nil {
		rec.fields = append(rec.fields, fields...)
	}
}

func withAction(action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec := auditFromContext(r.Context()); rec != nil {
			rec.action = action
		}
		next.ServeHTTP(w, r)
	})
}

// auditMiddleware logs one entry per admin request naming the action and its
// outcome. Scrapes are logged at debug level, server errors at error level.
func auditMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		audit := &auditRecord{action: actionNone}
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), auditContextKey, audit)))

		fields := make([]zap.Field, 0, 7+len(audit.fields))
		fields = append(fields,
			zap.String("action", audit.action),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("remote", r.RemoteAddr),
		)
		fields = append(fields, audit.fields...)

		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.Error("admin request failed", fields...)
		case audit.action == actionMetricsScrape:
			logger.Debug("admin request", fields...)
		default:
			logger.Info("admin request", fields...)
		}
	})
}
