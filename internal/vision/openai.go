package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

const validationPrompt = `You are reviewing a rendered diagram against the user's request.

User request:
%s

Inspect the image for layout problems: overlapping nodes, unreadable or
truncated labels, edges crossing through nodes, disconnected components,
and content that does not match the request.

Respond with JSON only:
{"valid": bool, "issues": [{"type": string, "severity": "critical"|"warning", "description": string}], "suggestions": [string]}`

// OpenAIConfig configures the vision validation backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible providers
	Model   string
}

// OpenAIValidator implements Validator using a vision-capable chat model.
type OpenAIValidator struct {
	client *openai.Client
	model  string
}

// NewOpenAIValidator creates an OpenAIValidator.
func NewOpenAIValidator(cfg OpenAIConfig) *OpenAIValidator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIValidator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Validate submits the rendered PNG and the user's request to the vision
// model and interprets its structured verdict.
func (v *OpenAIValidator) Validate(ctx context.Context, png []byte, description string) (*schema.ValidationResult, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: fmt.Sprintf(validationPrompt, description),
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTransport, "vision validation call failed").WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "vision model returned no choices")
	}

	return ParseVerdict(resp.Choices[0].Message.Content)
}

// ParseVerdict decodes a model verdict, tolerating fenced code blocks and
// surrounding prose around the JSON object.
func ParseVerdict(content string) (*schema.ValidationResult, error) {
	raw := extractJSON(content)
	var result schema.ValidationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unparseable validation verdict: %v", err).
			WithCause(err).
			WithDetails(map[string]any{"content": content})
	}
	result.Normalize()
	return &result, nil
}

// extractJSON strips markdown fences and clips to the outermost JSON object.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
