package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/DocFinder/internal/models"
)

type debugEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Model     string        `json:"model"`
	Params    []models.Turn `json:"params"`
	Response  string        `json:"response"`
	Error     string        `json:"error,omitempty"`
}

// logDebug persists one completion call when debug mode is on. Failures are
// logged and otherwise ignored.
func (c *Client) logDebug(method, model string, turns []models.Turn, resp *openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	entry := debugEntry{
		Timestamp: time.Now().UTC(),
		Method:    method,
		Model:     model,
		Params:    turns,
	}
	if resp != nil && len(resp.Choices) > 0 {
		entry.Response = resp.Choices[0].Message.Content
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.logDebug: create debug dir failed", "dir", dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.logDebug: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", entry.Timestamp.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("Client.logDebug: write failed", "file", name, "error", err)
	}
}
