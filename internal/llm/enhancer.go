package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const categorizePrompt = `You are a bookkeeping assistant for a personal accounting app.
For each transaction description, answer a category path in the form
"E-<parent>.<child>" for expenses or "I-<parent>" for income, using
Traditional Chinese category names. Answer a JSON object mapping each
description to its path, nothing else.`

// CategoryEnhancer asks a chat provider to place statement descriptions
// the keyword rules could not. Results feed the import preview; a
// provider failure degrades to no suggestions.
type CategoryEnhancer struct {
	provider Provider
}

// NewCategoryEnhancer creates an enhancer on top of a provider
func NewCategoryEnhancer(provider Provider) *CategoryEnhancer {
	return &CategoryEnhancer{provider: provider}
}

// Suggest maps descriptions to category paths. Descriptions the model
// leaves out or answers with junk are simply absent from the result.
func (e *CategoryEnhancer) Suggest(ctx context.Context, descriptions []string) (map[string]string, error) {
	if len(descriptions) == 0 {
		return map[string]string{}, nil
	}

	messages := []Message{
		{Role: RoleSystem, Content: categorizePrompt},
		{Role: RoleUser, Content: strings.Join(descriptions, "\n")},
	}

	text, err := Run(ctx, e.provider, messages, nil, nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse enhancer response: %w", err)
	}

	out := make(map[string]string, len(raw))
	for desc, path := range raw {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		out[desc] = path
	}
	return out, nil
}

// extractJSON trims prose or code fences around the JSON object some
// models insist on adding.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
