package provider

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rmloveland/synergy/internal/config"
	"github.com/rmloveland/synergy/internal/convo"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

type geminiArm struct{}

// Gemini API types. There is no system role; the system prompt travels as
// the first user content. Assistant turns map to role "model".
type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func geminiRole(r convo.Role) string {
	if r == convo.RoleAssistant {
		return "model"
	}
	return "user"
}

func (geminiArm) build(model config.Model, system string, turns []convo.Turn) (*request, error) {
	req := geminiRequest{
		GenerationConfig: generationConfig{MaxOutputTokens: model.MaxTokens},
	}
	req.Contents = append(req.Contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: system}},
	})
	for _, t := range providerTurns(turns) {
		req.Contents = append(req.Contents, geminiContent{
			Role:  geminiRole(t.Role),
			Parts: []geminiPart{{Text: t.Text}},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiBaseURL, model.WireID, os.Getenv("GEMINI_API_KEY"))
	return &request{
		URL: url,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: body,
	}, nil
}

func (geminiArm) extract(body []byte) (string, error) {
	var resp geminiResponse
	if err := parseJSON(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 ||
		resp.Candidates[0].Content.Parts[0].Text == "" {
		return "", &SchemaError{Provider: config.ProviderGemini}
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
