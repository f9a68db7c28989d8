package generation

// Request describes one user initiated generation. Immutable once constructed.
type Request struct {
	// Prompt must be non empty after trimming.
	Prompt string
	// References are accepted into the request but deliberately not forwarded
	// to the upstream call. The upstream contract has no slot for them today;
	// the field is retained so wiring them through later does not change any
	// caller.
	References [][]byte
	Model      string
	BaseURL    string
}

// Image is a successfully decoded generation payload.
type Image struct {
	Bytes  []byte
	Format string
	// Attempts is how many upstream calls this result cost, including the
	// successful one.
	Attempts int
}

type apiRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
