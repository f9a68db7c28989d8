// Package ctx
package ctx

import (
	"fmt"
	"time"

	"atelier-api/internal/shared"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PipelineInfo captures what a finished pipeline run looked like, for the
// end-of-request log line.
type PipelineInfo struct {
	Outcome      shared.OutcomeKind
	Model        string
	Attempts     int
	ArtifactPath string
	DeliveryMode string
	Degraded     bool
}

// ContextLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type ContextLogValues struct {
	// Added in track middleware
	RequestID       string
	StartTime       time.Time
	StatusCode      int
	RequestDuration time.Duration
	Path            string

	// Added in auth middleware
	Group string

	// Override log Log Level
	// useful where the status code is committed before post processing errors occur
	LogLevel string

	// Added dynamically
	PipelineInfo *PipelineInfo
	Error        error
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
func (c *ContextLogValues) AddError(err error) {
	if err == nil {
		return
	}
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

func (c *ContextLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", c.RequestID)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("request_duration", c.RequestDuration)
	enc.AddInt("status_code", c.StatusCode)
	enc.AddString("path", c.Path)
	if c.Group != "" {
		enc.AddString("group", c.Group)
	}
	if c.PipelineInfo != nil {
		enc.AddString("outcome", string(c.PipelineInfo.Outcome))
		enc.AddString("model", c.PipelineInfo.Model)
		enc.AddInt("attempts", c.PipelineInfo.Attempts)
		enc.AddString("artifact", c.PipelineInfo.ArtifactPath)
		enc.AddString("delivery_mode", c.PipelineInfo.DeliveryMode)
		enc.AddBool("degraded", c.PipelineInfo.Degraded)
	}
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	return nil
}

type Context struct {
	echo.Context
	Log       *zap.SugaredLogger
	Reqid     string
	Caller    *shared.CallerMetadata
	LogValues *ContextLogValues
}
