// Package delivery moves artifacts to the host where they will be consumed
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"atelier-api/internal/artifacts"
	"atelier-api/internal/metrics"
	"atelier-api/internal/shared"

	"go.uber.org/zap"
)

const artifactRoute = "/v1/artifacts"

// Destination names where the consumer lives. An empty or "localhost" host
// means the consumer shares this host's filesystem and no transfer happens.
type Destination struct {
	Host string
	Port int
}

func (d Destination) IsLocal() bool {
	return d.Host == "" || d.Host == "localhost"
}

// Result is what the caller hands to the consumer: the untouched local path,
// or the reference the companion service returned for its own host.
type Result struct {
	Ref   string
	Local bool
}

type napResponse struct {
	Path string `json:"path"`
}

type Transport struct {
	log        *zap.SugaredLogger
	httpClient *http.Client
}

func NewTransport(timeout time.Duration, log *zap.SugaredLogger) *Transport {
	if timeout <= 0 {
		timeout = shared.DefaultDeliveryTimeout
	}
	return &Transport{
		log:        log,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Deliver never mutates or deletes the source artifact; retention handles
// cleanup regardless of where the bytes went.
func (t *Transport) Deliver(ctx context.Context, handle *artifacts.Handle, dest Destination) (*Result, error) {
	if dest.IsLocal() {
		metrics.DeliveryCount.WithLabelValues("local", "ok").Inc()
		return &Result{Ref: handle.Path, Local: true}, nil
	}

	ref, err := t.push(ctx, handle, dest)
	if err != nil {
		metrics.DeliveryCount.WithLabelValues("remote", string(shared.KindOf(err))).Inc()
		return nil, err
	}
	metrics.DeliveryCount.WithLabelValues("remote", "ok").Inc()
	t.log.Infow("Artifact delivered", "path", handle.Path, "ref", ref, "host", dest.Host)
	return &Result{Ref: ref}, nil
}

func (t *Transport) push(ctx context.Context, handle *artifacts.Handle, dest Destination) (string, error) {
	file, err := os.Open(handle.Path)
	if err != nil {
		return "", shared.NewPipelineError(shared.OutcomeStorageFailed, "failed opening artifact for delivery", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			t.log.Warnw("Failed to close artifact file", "error", closeErr)
		}
	}()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("filename", fileName(handle.Path)); err != nil {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryRejected, "failed building delivery request", err)
	}
	part, err := writer.CreateFormFile("file", fileName(handle.Path))
	if err != nil {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryRejected, "failed building delivery request", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", shared.NewPipelineError(shared.OutcomeStorageFailed, "failed reading artifact for delivery", err)
	}
	if err := writer.Close(); err != nil {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryRejected, "failed building delivery request", err)
	}

	endpoint := "http://" + dest.Host + ":" + strconv.Itoa(dest.Port) + artifactRoute
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryRejected, "failed building delivery request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := t.httpClient.Do(req)
	if err != nil {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryUnreachable,
			fmt.Sprintf("companion service at %s:%d unreachable", dest.Host, dest.Port), err)
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			t.log.Warnw("Failed to close delivery response body", "error", closeErr)
		}
	}()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryUnreachable, "failed reading companion response", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryRejected,
			fmt.Sprintf("companion service refused artifact: HTTP %d: %s", res.StatusCode, string(resBody)), nil)
	}

	var parsed napResponse
	if err := json.Unmarshal(resBody, &parsed); err != nil || parsed.Path == "" {
		return "", shared.NewPipelineError(shared.OutcomeDeliveryRejected, "companion response missing artifact path", err)
	}
	return parsed.Path, nil
}

func fileName(path string) string {
	return filepath.Base(path)
}
