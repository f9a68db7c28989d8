// Package middleware wires request tracking, recovery and service auth
package middleware

import (
	"fmt"
	"time"

	"atelier-api/internal/ctx"
	"atelier-api/internal/metrics"
	"atelier-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate(shared.IDAlphabet, shared.RequestIDLength)
			logger := log.With(
				"request_id", "req_"+reqID,
			)

			logValues := &ctx.ContextLogValues{
				RequestID: reqID,
				StartTime: time.Now(),
				Path:      c.Path(),
			}
			cc := &ctx.Context{Context: c, Log: logger, Reqid: reqID, LogValues: logValues}

			err := next(cc)

			logValues.RequestDuration = time.Since(logValues.StartTime)
			logValues.StatusCode = cc.Response().Status
			switch {
			case logValues.LogLevel == "ERROR" || logValues.StatusCode >= 500:
				logger.Errorw("end_of_request", zap.Object("request", logValues))
			default:
				logger.Infow("end_of_request", zap.Object("request", logValues))
			}
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", cc.Response().Status)).Inc()
			return err
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error())
			return c.String(500, shared.ErrInternalServerError.Err.Error())
		},
	})
}

// NewServiceAuthMiddleware guards routes with the static set of service keys.
// There is no user store here; the caller layer is another service, not an
// end user.
func NewServiceAuthMiddleware(serviceKeys []string) echo.MiddlewareFunc {
	keys := map[string]bool{}
	for _, k := range serviceKeys {
		keys[k] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(cc echo.Context) error {
			c := cc.(*ctx.Context)

			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil || !keys[apiKey] {
				c.LogValues.AddError(shared.ErrUnauthorized)
				return c.String(401, "unauthorized")
			}
			c.Caller = &shared.CallerMetadata{APIKey: apiKey}
			return next(c)
		}
	}
}
