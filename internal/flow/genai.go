package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/DocFinder/internal/genai"
	"github.com/BTreeMap/DocFinder/internal/models"
)

// completionCall describes one request to the Completer.
type completionCall struct {
	model     string
	timeout   time.Duration
	maxTokens int
}

func (c completionCall) run(ctx context.Context, completer Completer, turns []models.Turn) (string, error) {
	return completer.Complete(ctx, genai.CompletionRequest{
		Model:     c.model,
		Turns:     turns,
		MaxTokens: c.maxTokens,
		Timeout:   c.timeout,
	})
}
