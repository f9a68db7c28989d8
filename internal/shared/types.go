package shared

// APIError is the OpenAI style error envelope returned by the HTTP surface.
type APIError struct {
	Message string `json:"message"`
	Object  string `json:"object"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// CallerMetadata identifies the authenticated service caller on a request.
type CallerMetadata struct {
	APIKey string `json:"-"`
	// Group keys the rate limiter. Callers that do not send one share the
	// per-key bucket of their API key.
	Group string `json:"group,omitempty"`
}
