// Package pipeline composes admission, generation, storage and delivery
package pipeline

import (
	"context"
	"time"

	"atelier-api/internal/artifacts"
	"atelier-api/internal/delivery"
	"atelier-api/internal/generation"
	"atelier-api/internal/metrics"
	"atelier-api/internal/ratelimit"
	"atelier-api/internal/shared"

	"go.uber.org/zap"
)

// Generator produces decoded image bytes for a prompt.
type Generator interface {
	Generate(ctx context.Context, req generation.Request, policy generation.RetryPolicy) (*generation.Image, error)
}

// Deliverer moves a saved artifact to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, handle *artifacts.Handle, dest delivery.Destination) (*delivery.Result, error)
}

// Request is the caller facing descriptor for one pipeline run.
type Request struct {
	Prompt string
	// References ride along to the generator, which currently does not
	// forward them upstream.
	References [][]byte
	// Group keys rate limiting, typically the calling chat group or tenant.
	Group       string
	Destination delivery.Destination
}

// Result is the resolvable artifact reference handed back to the caller.
type Result struct {
	// Ref is a local path or a remote reference, depending on delivery mode.
	Ref string
	// LocalPath always points at the artifact on this host.
	LocalPath string
	Local     bool
	// Degraded is set when remote delivery failed and policy allowed falling
	// back to the local handle.
	Degraded bool
	Format   string
	Attempts int
}

type Config struct {
	Model     string
	BaseURL   string
	Retry     generation.RetryPolicy
	Retention time.Duration
	// FallbackLocal reports the local artifact as degraded success when
	// remote delivery fails, instead of failing the request.
	FallbackLocal bool
}

type Pipeline struct {
	cfg       Config
	limiter   ratelimit.Limiter
	generator Generator
	store     *artifacts.Store
	transport Deliverer
	log       *zap.SugaredLogger
}

func New(cfg Config, limiter ratelimit.Limiter, generator Generator, store *artifacts.Store, transport Deliverer, log *zap.SugaredLogger) *Pipeline {
	if cfg.Retention <= 0 {
		cfg.Retention = shared.DefaultArtifactRetention
	}
	return &Pipeline{
		cfg:       cfg,
		limiter:   limiter,
		generator: generator,
		store:     store,
		transport: transport,
		log:       log,
	}
}

// Handle runs one request through the whole pipeline:
// admit -> generate -> save -> deliver, with an opportunistic reap afterwards.
// Every failure comes back as a *shared.PipelineError with a distinct kind.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(p.cfg.Model).Observe(time.Since(start).Seconds())
		// Cleanup is best effort and must never delay or fail the request
		go p.store.Reap(p.cfg.Retention)
	}()

	result, err := p.run(ctx, req)
	metrics.PipelineOutcomes.WithLabelValues(p.cfg.Model, string(shared.KindOf(err))).Inc()
	return result, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	admitted, err := p.limiter.Admit(ctx, req.Group)
	if err != nil {
		// Fail open admission already logged; the run proceeds
		p.log.Debugw("Admission check degraded", "group", req.Group, "error", err)
	}
	if !admitted {
		return nil, shared.NewPipelineError(shared.OutcomeRateLimited,
			"generation budget for this group is exhausted, try again later", nil)
	}

	img, err := p.generator.Generate(ctx, generation.Request{
		Prompt:     req.Prompt,
		References: req.References,
		Model:      p.cfg.Model,
		BaseURL:    p.cfg.BaseURL,
	}, p.cfg.Retry)
	if err != nil {
		return nil, err
	}

	handle, err := p.store.Save(img.Bytes, img.Format)
	if err != nil {
		return nil, err
	}

	delivered, err := p.transport.Deliver(ctx, handle, req.Destination)
	if err != nil {
		if !p.cfg.FallbackLocal {
			return nil, err
		}
		p.log.Warnw("Delivery failed, falling back to local artifact", "path", handle.Path, "error", err)
		return &Result{
			Ref:       handle.Path,
			LocalPath: handle.Path,
			Local:     true,
			Degraded:  true,
			Format:    img.Format,
			Attempts:  img.Attempts,
		}, nil
	}

	return &Result{
		Ref:       delivered.Ref,
		LocalPath: handle.Path,
		Local:     delivered.Local,
		Format:    img.Format,
		Attempts:  img.Attempts,
	}, nil
}
