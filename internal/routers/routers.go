// Package routers
package routers

import (
	"encoding/base64"
	"net/http"

	"atelier-api/internal/ctx"
	"atelier-api/internal/delivery"
	"atelier-api/internal/middleware"
	"atelier-api/internal/pipeline"
	"atelier-api/internal/shared"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type ImageRouter struct {
	pipe *pipeline.Pipeline
	// defaultDest is where artifacts go when the request does not pick a
	// destination: the configured NAP companion, or local when none is set.
	defaultDest delivery.Destination
	log         *zap.SugaredLogger
}

type ImageRouterConfig struct {
	Pipeline    *pipeline.Pipeline
	NapAddress  string
	NapPort     int
	ServiceKeys []string
}

func RegisterImageRoutes(e *echo.Group, cfg ImageRouterConfig, log *zap.SugaredLogger) error {
	router := &ImageRouter{
		pipe:        cfg.Pipeline,
		defaultDest: delivery.Destination{Host: cfg.NapAddress, Port: cfg.NapPort},
		log:         log,
	}

	v1 := e.Group("v1", middleware.NewServiceAuthMiddleware(cfg.ServiceKeys))
	v1.POST("/images/generations", router.GenerateImage)
	return nil
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	// References carry base64 image blobs; invalid entries are skipped with a
	// warning rather than failing the request.
	References []string `json:"references,omitempty"`
	Group      string   `json:"group,omitempty"`
	// Destination is "local" to force a local handle, empty for the
	// configured default.
	Destination string `json:"destination,omitempty"`
}

type generateResponse struct {
	Ref      string `json:"ref"`
	Local    bool   `json:"local"`
	Degraded bool   `json:"degraded,omitempty"`
	Format   string `json:"format"`
}

func (ir *ImageRouter) GenerateImage(cc echo.Context) error {
	c := cc.(*ctx.Context)

	var body generateRequest
	if err := c.Bind(&body); err != nil {
		c.LogValues.AddError(err)
		return apiError(c, http.StatusBadRequest, "failed to read request body")
	}

	group := body.Group
	if group == "" {
		group = c.Caller.APIKey
	}
	c.LogValues.Group = group

	dest := ir.defaultDest
	if body.Destination == "local" {
		dest = delivery.Destination{}
	}

	var references [][]byte
	for _, ref := range body.References {
		decoded, err := base64.StdEncoding.DecodeString(ref)
		if err != nil {
			c.Log.Warnw("Skipping undecodable reference image", "error", err)
			continue
		}
		references = append(references, decoded)
	}

	res, err := ir.pipe.Handle(c.Request().Context(), pipeline.Request{
		Prompt:      body.Prompt,
		References:  references,
		Group:       group,
		Destination: dest,
	})
	if err != nil {
		c.LogValues.AddError(err)
		kind := shared.KindOf(err)
		c.LogValues.PipelineInfo = &ctx.PipelineInfo{Outcome: kind}
		return apiError(c, statusForKind(kind), err.Error())
	}

	c.LogValues.PipelineInfo = &ctx.PipelineInfo{
		Outcome:      shared.OutcomeOK,
		Attempts:     res.Attempts,
		ArtifactPath: res.LocalPath,
		DeliveryMode: deliveryMode(res),
		Degraded:     res.Degraded,
	}

	return c.JSON(http.StatusOK, generateResponse{
		Ref:      res.Ref,
		Local:    res.Local,
		Degraded: res.Degraded,
		Format:   res.Format,
	})
}

// statusForKind keeps each outcome kind on its own status so callers can
// distinguish throttling from upstream trouble from their own bad input.
func statusForKind(kind shared.OutcomeKind) int {
	switch kind {
	case shared.OutcomeRateLimited:
		return http.StatusTooManyRequests
	case shared.OutcomeRejected:
		return http.StatusUnprocessableEntity
	case shared.OutcomeExhausted:
		return http.StatusGatewayTimeout
	case shared.OutcomeDecodeFailed, shared.OutcomeDeliveryUnreachable, shared.OutcomeDeliveryRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func deliveryMode(res *pipeline.Result) string {
	if res.Local {
		return "local"
	}
	return "remote"
}

func apiError(c *ctx.Context, status int, message string) error {
	return c.JSON(status, shared.APIError{
		Message: message,
		Object:  "error",
		Type:    http.StatusText(status),
		Code:    status,
	})
}
