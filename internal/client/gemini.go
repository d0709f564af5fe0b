package client

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient wraps the Gemini Developer API client.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a new Gemini client authenticated with an API key.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClient{
		client: client,
		model:  model,
	}, nil
}

// Chat sends a message under a system instruction and asks for JSON back.
func (c *GeminiClient) Chat(ctx context.Context, system, message string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(message), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return resp.Text(), nil
}
