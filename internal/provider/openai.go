package provider

import (
	"encoding/json"
	"os"

	"github.com/rmloveland/synergy/internal/config"
	"github.com/rmloveland/synergy/internal/convo"
)

const openaiEndpoint = "https://api.openai.com/v1/chat/completions"

type openaiArm struct{}

// OpenAI API types
type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (openaiArm) build(model config.Model, system string, turns []convo.Turn) (*request, error) {
	req := openaiRequest{
		Model:  model.WireID,
		Stream: false,
	}
	req.Messages = append(req.Messages, openaiMessage{Role: "system", Content: system})
	for _, t := range providerTurns(turns) {
		req.Messages = append(req.Messages, openaiMessage{Role: string(t.Role), Content: t.Text})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &request{
		URL: openaiEndpoint,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + os.Getenv("OPENAI_API_KEY"),
		},
		Body: body,
	}, nil
}

func (openaiArm) extract(body []byte) (string, error) {
	var resp openaiResponse
	if err := parseJSON(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &SchemaError{Provider: config.ProviderOpenAI}
	}
	return resp.Choices[0].Message.Content, nil
}
