package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	responses []*Response
	turn      int
	toolSends int
}

func (p *scriptedProvider) ProviderName() string { return "scripted" }
func (p *scriptedProvider) IsConfigured() bool   { return true }

func (p *scriptedProvider) Chat(context.Context, []Message, []ToolSpec) (*Response, error) {
	return p.next()
}

func (p *scriptedProvider) SendToolResults(context.Context, []ToolResult) (*Response, error) {
	p.toolSends++
	return p.next()
}

func (p *scriptedProvider) next() (*Response, error) {
	if p.turn >= len(p.responses) {
		return nil, errors.New("script exhausted")
	}
	r := p.responses[p.turn]
	p.turn++
	return r, nil
}

func textResponse(text string) *Response {
	return &Response{Text: text}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":"b"}`, `{"a":"b"}`},
		{"code fence", "```json\n{\"a\":\"b\"}\n```", `{"a":"b"}`},
		{"surrounding prose", `Sure! Here you go: {"a":"b"} Hope that helps.`, `{"a":"b"}`},
		{"no braces passes through", "nothing here", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestCategoryEnhancer_Suggest(t *testing.T) {
	t.Run("parses a fenced answer and drops blanks", func(t *testing.T) {
		p := &scriptedProvider{responses: []*Response{
			textResponse("```json\n{\"全家便利商店\":\"E-食.超商\",\"junk\":\"  \"}\n```"),
		}}
		e := NewCategoryEnhancer(p)

		out, err := e.Suggest(context.Background(), []string{"全家便利商店", "junk"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"全家便利商店": "E-食.超商"}, out)
	})

	t.Run("empty input skips the provider", func(t *testing.T) {
		e := NewCategoryEnhancer(&scriptedProvider{})
		out, err := e.Suggest(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("non-JSON answer is an error", func(t *testing.T) {
		p := &scriptedProvider{responses: []*Response{textResponse("I cannot help with that")}}
		_, err := NewCategoryEnhancer(p).Suggest(context.Background(), []string{"x"})
		assert.Error(t, err)
	})

	t.Run("unconfigured provider surfaces the sentinel", func(t *testing.T) {
		_, err := NewCategoryEnhancer(Disabled{}).Suggest(context.Background(), []string{"x"})
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestRun_ToolLoop(t *testing.T) {
	t.Run("executes requested tools then returns the text", func(t *testing.T) {
		p := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{ID: "1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)}}},
			textResponse("done"),
		}}

		var executed []string
		exec := func(ctx context.Context, call ToolCall) ToolResult {
			executed = append(executed, call.Name)
			return ToolResult{CallID: call.ID, Content: "ok"}
		}

		text, err := Run(context.Background(), p, []Message{{Role: RoleUser, Content: "hi"}}, nil, exec)
		require.NoError(t, err)
		assert.Equal(t, "done", text)
		assert.Equal(t, []string{"lookup"}, executed)
		assert.Equal(t, 1, p.toolSends)
	})

	t.Run("iteration cap trips on an endless tool loop", func(t *testing.T) {
		responses := make([]*Response, MaxToolIterations+2)
		for i := range responses {
			responses[i] = &Response{ToolCalls: []ToolCall{{ID: "1", Name: "loop"}}}
		}
		p := &scriptedProvider{responses: responses}
		exec := func(ctx context.Context, call ToolCall) ToolResult {
			return ToolResult{CallID: call.ID, Content: "again"}
		}

		_, err := Run(context.Background(), p, nil, nil, exec)
		assert.Error(t, err)
	})
}
