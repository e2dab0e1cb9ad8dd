package tools

import (
	"context"
	"strings"
)

// MemoryAppender is the subset of the memory store needed by SaveMemoryTool.
type MemoryAppender interface {
	Append(agent, text, provenance string) error
}

// SaveMemoryTool lets the model store a durable fact immediately, without
// waiting for the background auto-flush to pick the session up.
type SaveMemoryTool struct {
	store MemoryAppender
	agent string
}

// NewSaveMemoryTool creates a SaveMemoryTool bound to one agent's memory.
func NewSaveMemoryTool(store MemoryAppender, agent string) *SaveMemoryTool {
	return &SaveMemoryTool{store: store, agent: agent}
}

func (t *SaveMemoryTool) Name() string { return "save_memory" }
func (t *SaveMemoryTool) Description() string {
	return "Save an important durable fact to long-term memory."
}

func (t *SaveMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember, one short sentence.",
			},
		},
		"required": []string{"content"},
	}
}

func (t *SaveMemoryTool) Execute(_ context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	content = strings.TrimSpace(content)
	if content == "" {
		return "Error: content is required", nil
	}
	if err := t.store.Append(t.agent, content, "agent"); err != nil {
		return "Error: " + err.Error(), nil
	}
	return "memory saved", nil
}
