package llm

import (
	"context"
	"time"
)

// Client submits a prompt to a text-generation endpoint and masks transient failures behind
// bounded retries.
//
// Generate returns either a response or a *Failure, never both. Delivery is
// at-most-effectively-once, not exactly-once: an attempt reported as failed (for example on a
// per-attempt timeout) may still have been processed by the endpoint.
type Client interface {
	Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error)
}

type GenerateRequest struct {
	Prompt  string         `json:"prompt" yaml:"prompt"`
	System  string         `json:"system,omitempty" yaml:"system,omitempty"`   // system instruction, sent as a separate message on chat routes
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`     // falls back to the client's configured model
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"` // generation parameters (temperature, top_p, num_predict, ...)
	Stream  bool           `json:"stream,omitempty" yaml:"stream,omitempty"`   // ask for NDJSON chunks and concatenate them
}

type GenerateResponse struct {
	Response string        `json:"response" yaml:"response"`
	Model    string        `json:"model" yaml:"model"`
	Latency  time.Duration `json:"latency" yaml:"latency"`   // wall time across all attempts and backoff
	Attempts int           `json:"attempts" yaml:"attempts"` // network attempts made, including the successful one
}
