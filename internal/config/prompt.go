package config

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FilePrompt reads the system prompt from a file on every load. With no
// path it returns Inline.
type FilePrompt struct {
	Path   string
	Inline string
}

// Prompt returns the prompt source described by the pipeline section.
func (c *Config) Prompt() FilePrompt {
	return FilePrompt{Path: c.Pipeline.PromptFile, Inline: c.Pipeline.SystemPrompt}
}

func (p FilePrompt) LoadPrompt(_ context.Context) (string, error) {
	if p.Path == "" {
		return p.Inline, nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
