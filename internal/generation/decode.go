package generation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"atelier-api/internal/shared"
)

type apiImageEnvelope struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// decodePayload turns a 200 response body into image bytes. The upstream may
// answer with a JSON data envelope, a bare base64 string (optionally wrapped
// in a data URL), or raw image bytes. The base64-then-raw fallback is a format
// repair step, not a retry.
func decodePayload(body []byte) ([]byte, string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, "", shared.NewPipelineError(shared.OutcomeDecodeFailed, "empty response body", nil)
	}

	// JSON envelope with data[0].b64_json, the images API response shape
	if trimmed[0] == '{' {
		var envelope apiImageEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 {
			item := envelope.Data[0]
			if item.B64JSON != "" {
				decoded, err := base64.StdEncoding.DecodeString(item.B64JSON)
				if err != nil {
					return nil, "", shared.NewPipelineError(shared.OutcomeDecodeFailed, "invalid b64_json payload", err)
				}
				if format, ok := sniffImage(decoded); ok {
					return decoded, format, nil
				}
				return nil, "", shared.NewPipelineError(shared.OutcomeDecodeFailed, "b64_json payload is not an image", nil)
			}
			if item.URL != "" {
				// The pipeline does not chase redirect URLs; the upstream is
				// asked for b64_json explicitly.
				return nil, "", shared.NewPipelineError(shared.OutcomeDecodeFailed, "upstream returned a url-only response", nil)
			}
		}
	}

	// Bare base64, possibly a data:image/...;base64, URL
	if decoded, format, ok := tryBase64(trimmed); ok {
		return decoded, format, nil
	}

	// Raw image bytes
	if format, ok := sniffImage(body); ok {
		return body, format, nil
	}

	return nil, "", shared.NewPipelineError(shared.OutcomeDecodeFailed, "response body is neither base64 nor a recognizable image", errors.New("unrecognized payload"))
}

func tryBase64(body []byte) ([]byte, string, bool) {
	text := string(body)
	if rest, found := strings.CutPrefix(text, "data:image/"); found {
		if _, b64, ok := strings.Cut(rest, ";base64,"); ok {
			text = b64
		}
	}
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, text)

	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, "", false
	}
	format, ok := sniffImage(decoded)
	if !ok {
		return nil, "", false
	}
	return decoded, format, true
}

// sniffImage checks the leading bytes for a known image header.
func sniffImage(data []byte) (string, bool) {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "png", true
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("\xff\xd8\xff")):
		return "jpeg", true
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "gif", true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp", true
	}
	return "", false
}
