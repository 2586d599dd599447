// Package genai wraps the OpenAI API for the two model calls DocFinder makes:
// chat completions over a stored dialogue and text embeddings.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// Default configuration values
const (
	DefaultChatModel      = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultDimensions     = 384
	DefaultTimeout        = 15 * time.Second
)

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")
	// ErrNoChoicesReturned is returned when the completion response is empty.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrNoEmbeddingReturned is returned when the embedding response is empty.
	ErrNoEmbeddingReturned = errors.New("no embedding returned")
)

var tracer = otel.Tracer("github.com/BTreeMap/DocFinder/internal/genai")

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// embeddingService defines minimal interface for embeddings.
type embeddingService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// CompletionRequest is one call to the completion service.
type CompletionRequest struct {
	// Model overrides the client's chat model when set.
	Model     string
	Turns     []models.Turn
	MaxTokens int
	// Timeout overrides the client's timeout when positive.
	Timeout time.Duration
}

// Client wraps the OpenAI chat completion and embedding services.
type Client struct {
	chat           chatService
	embeddings     embeddingService
	model          string
	embeddingModel string
	dimensions     int
	timeout        time.Duration
	debugMode      bool
	stateDir       string
}

// NewClient initializes a new GenAI client. The API key comes from WithAPIKey
// or, failing that, the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("genai.NewClient: API key not set")
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	c := &Client{
		chat:           &cli.Chat.Completions,
		embeddings:     &cli.Embeddings,
		model:          firstNonEmpty(cfg.Model, DefaultChatModel),
		embeddingModel: firstNonEmpty(cfg.EmbeddingModel, DefaultEmbeddingModel),
		dimensions:     cfg.Dimensions,
		timeout:        cfg.Timeout,
		debugMode:      cfg.DebugMode,
		stateDir:       cfg.StateDir,
	}
	if c.dimensions <= 0 {
		c.dimensions = DefaultDimensions
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	slog.Debug("genai.NewClient: client created", "model", c.model, "embeddingModel", c.embeddingModel,
		"dimensions", c.dimensions, "baseURLSet", cfg.BaseURL != "", "debugMode", c.debugMode)
	return c, nil
}

// Complete sends the dialogue to the completion service and returns the
// first choice's text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := firstNonEmpty(req.Model, c.model)
	ctx, span := tracer.Start(ctx, "genai.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", model), attribute.Int("turns", len(req.Turns)))

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toMessageParams(req.Turns),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	slog.Debug("Client.Complete: calling completion service", "model", model, "turns", len(req.Turns))
	resp, err := c.chat.New(ctx, params)
	c.logDebug("Complete", model, req.Turns, resp, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		slog.Error("Client.Complete: completion call failed", "model", model, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		slog.Warn("Client.Complete: no choices returned", "model", model)
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("Client.Complete: completion received", "model", model, "length", len(content))
	return content, nil
}

// Embed returns the embedding of text with the configured dimensions.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embeddings == nil {
		return nil, fmt.Errorf("embedding service not configured")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	params := openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:      openai.EmbeddingModel(c.embeddingModel),
		Dimensions: openai.Int(int64(c.dimensions)),
	}
	resp, err := c.embeddings.New(ctx, params)
	if err != nil {
		slog.Error("Client.Embed: embedding call failed", "model", c.embeddingModel, "error", err)
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingReturned
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions reports the configured embedding length.
func (c *Client) Dimensions() int {
	return c.dimensions
}

func toMessageParams(turns []models.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case models.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return msgs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
