package flow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/store"
)

// DefaultResetCacheTTL is how long a reset decision is reused for the same
// message text.
const DefaultResetCacheTTL = time.Hour

// ResetClassifier asks the completion service whether a new message starts
// a new topic. It fails open: errors and ambiguous answers keep the context.
type ResetClassifier struct {
	completer    Completer
	cache        store.KV
	cacheTTL     time.Duration
	call         completionCall
	contextTurns int
}

// ResetOption configures a ResetClassifier.
type ResetOption func(*ResetClassifier)

// WithResetCache caches decisions in kv for ttl.
func WithResetCache(kv store.KV, ttl time.Duration) ResetOption {
	return func(r *ResetClassifier) {
		r.cache = kv
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithResetModel sets the classifier model and per-call timeout.
func WithResetModel(model string, timeout time.Duration) ResetOption {
	return func(r *ResetClassifier) {
		r.call.model = model
		if timeout > 0 {
			r.call.timeout = timeout
		}
	}
}

// WithContextTurns sets how many trailing turns are shown to the classifier.
func WithContextTurns(n int) ResetOption {
	return func(r *ResetClassifier) {
		if n > 0 {
			r.contextTurns = n
		}
	}
}

// NewResetClassifier creates a classifier backed by completer.
func NewResetClassifier(completer Completer, opts ...ResetOption) *ResetClassifier {
	r := &ResetClassifier{
		completer:    completer,
		cacheTTL:     DefaultResetCacheTTL,
		call:         completionCall{timeout: 10 * time.Second, maxTokens: 10},
		contextTurns: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ShouldReset reports whether message starts a new conversation.
func (r *ResetClassifier) ShouldReset(ctx context.Context, state *models.ConversationState, message string) bool {
	key := resetCacheKey(message)
	if decision, ok := r.cached(ctx, key); ok {
		slog.Debug("ResetClassifier.ShouldReset: cache hit", "reset", decision)
		return decision
	}

	turns := []models.Turn{
		{Role: models.RoleSystem, Content: resetSystemPrompt},
		{Role: models.RoleUser, Content: resetUserPrompt(renderContext(state.LastTurns(r.contextTurns)), message)},
	}
	answer, err := r.call.run(ctx, r.completer, turns)
	if err != nil {
		slog.Warn("ResetClassifier.ShouldReset: classification failed, keeping context", "error", err)
		return false
	}
	answer = strings.ToUpper(strings.TrimSpace(answer))
	decision := answer == "YES"
	if !decision && answer != "NO" {
		slog.Warn("ResetClassifier.ShouldReset: ambiguous answer, keeping context", "answer", answer)
	}
	slog.Info("ResetClassifier.ShouldReset: classified", "answer", answer, "reset", decision)

	if r.cache != nil {
		val := []byte("0")
		if decision {
			val = []byte("1")
		}
		if err := r.cache.Set(ctx, key, val, r.cacheTTL); err != nil {
			slog.Warn("ResetClassifier.ShouldReset: cache write failed", "error", err)
		}
	}
	return decision
}

func (r *ResetClassifier) cached(ctx context.Context, key string) (bool, bool) {
	if r.cache == nil {
		return false, false
	}
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil || !ok {
		return false, false
	}
	return string(data) == "1", true
}

// renderContext lists user and assistant turns as "ROLE: content" lines.
func renderContext(turns []models.Turn) string {
	var lines []string
	for _, t := range turns {
		if t.Role != models.RoleUser && t.Role != models.RoleAssistant {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(t.Role)), t.Content))
	}
	if len(lines) == 0 {
		return noPreviousConversation
	}
	return strings.Join(lines, "\n")
}

func resetCacheKey(message string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(message)))
	return "reset_check:" + hex.EncodeToString(sum[:])
}
