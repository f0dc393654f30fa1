package remote

import (
	"errors"
	"time"

	"github.com/raaihank/pii-redactor/internal/privacy"
)

// ErrRemoteUnavailable marks a remote call that failed or produced nothing
// usable. The result then comes from the in-process regex extractor.
var ErrRemoteUnavailable = errors.New("remote extraction unavailable")

// Config configures the remote extraction tier.
type Config struct {
	Endpoint          string
	Model             string
	Timeout           time.Duration
	PingTimeout       time.Duration
	MinLength         int
	MaxLength         int
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the settings for a local Ollama instance.
func DefaultConfig() Config {
	return Config{
		Endpoint:          "http://localhost:11434",
		Model:             "qwen3:8b",
		Timeout:           120 * time.Second,
		PingTimeout:       10 * time.Second,
		MinLength:         5,
		MaxLength:         1000,
		RequestsPerSecond: 0, // unlimited
		Burst:             1,
	}
}

// Result is the outcome of one Extract call.
type Result struct {
	Text     string
	Entities []privacy.Entity
	Source   privacy.Source
	// Err is non-nil when the remote call failed and the regex extractor ran instead.
	Err error
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// rawEntity is one element of the model's {"entities":[...]} answer.
type rawEntity struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}
