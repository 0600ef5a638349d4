// Package middleware holds pipeline middleware for waypoint apps.
package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates the inbound X-Request-ID or generates one, stores it
// under waypoint.RequestIDKey and echoes it on the response.
func RequestID() waypoint.MiddlewareFunc {
	return func(next waypoint.HandlerFunc) waypoint.HandlerFunc {
		return func(ctx waypoint.RequestContext) error {
			id := ctx.Request().Header(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			ctx.Set(waypoint.RequestIDKey, id)
			ctx.Response().SetHeader(RequestIDHeader, id)
			return next(ctx)
		}
	}
}

// GetRequestID returns the id set by RequestID, or "".
func GetRequestID(ctx waypoint.RequestContext) string {
	id, _ := ctx.Get(waypoint.RequestIDKey).(string)
	return id
}

// AccessLog logs one line per request. Errors still travelling to the
// error boundary are logged with the status they will be rendered with.
func AccessLog(logger *zap.Logger) waypoint.MiddlewareFunc {
	return func(next waypoint.HandlerFunc) waypoint.HandlerFunc {
		return func(ctx waypoint.RequestContext) error {
			start := time.Now()
			err := next(ctx)

			status := responseStatus(ctx, err)
			fields := []zap.Field{
				zap.String("method", ctx.Method()),
				zap.String("path", ctx.Path()),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", ctx.RealIP()),
			}
			if id := GetRequestID(ctx); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if mc, ok := waypoint.ModuleFrom(ctx); ok {
				fields = append(fields, zap.String("action", mc.Controller.Name+"."+mc.Action.Name))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}

			switch {
			case err != nil || status >= 500:
				logger.Error("request", fields...)
			case status >= 400:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
			return err
		}
	}
}

func responseStatus(ctx waypoint.RequestContext, err error) int {
	if err != nil {
		var httpErr *waypoint.HttpError
		if errors.As(err, &httpErr) {
			return httpErr.StatusCode
		}
		return http.StatusInternalServerError
	}
	if status := ctx.Response().Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
