package provider

import (
	"encoding/json"
	"os"

	"github.com/rmloveland/synergy/internal/config"
	"github.com/rmloveland/synergy/internal/convo"
)

const anthropicEndpoint = "https://api.anthropic.com/v1/messages"

type anthropicArm struct{}

// Anthropic API types. The system prompt is a top-level field, not a message.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (anthropicArm) build(model config.Model, system string, turns []convo.Turn) (*request, error) {
	req := anthropicRequest{
		Model:     model.WireID,
		MaxTokens: model.MaxTokens,
		System:    system,
	}
	for _, t := range providerTurns(turns) {
		if t.Role == convo.RoleSystem {
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: string(t.Role), Content: t.Text})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &request{
		URL: anthropicEndpoint,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"x-api-key":         os.Getenv("ANTHROPIC_API_KEY"),
			"anthropic-version": "2023-06-01",
		},
		Body: body,
	}, nil
}

func (anthropicArm) extract(body []byte) (string, error) {
	var resp anthropicResponse
	if err := parseJSON(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return "", &SchemaError{Provider: config.ProviderAnthropic}
	}
	return resp.Content[0].Text, nil
}
