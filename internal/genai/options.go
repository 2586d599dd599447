package genai

import "time"

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Dimensions     int
	Timeout        time.Duration
	DebugMode      bool
	StateDir       string
}

// Option defines a function that modifies GenAI client options.
type Option func(*Opts)

// WithAPIKey overrides the API key for the GenAI client.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat completion model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *Opts) {
		o.EmbeddingModel = model
	}
}

// WithDimensions sets the embedding vector length.
func WithDimensions(n int) Option {
	return func(o *Opts) {
		o.Dimensions = n
	}
}

// WithTimeout bounds every upstream call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithDebugMode writes every completion call to <stateDir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
	}
}

// WithStateDir sets the directory used for debug logs.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}
