package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"scholar/internal/apperr"
	"scholar/internal/llm"
	"scholar/internal/settings"
)

const DefaultEmbeddingModel = string(openai.SmallEmbedding3)

// Client talks to any OpenAI compatible endpoint. The API key is read from
// settings per call; the client itself carries no connection state.
type Client struct {
	settingsSvc    *settings.Service
	baseURL        string
	model          string
	embeddingModel string
}

func NewClient(svc *settings.Service, baseURL, model, embeddingModel string) *Client {
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	return &Client{
		settingsSvc:    svc,
		baseURL:        baseURL,
		model:          model,
		embeddingModel: embeddingModel,
	}
}

func (c *Client) client(ctx context.Context) (*openai.Client, error) {
	s, err := c.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.OpenAIAPIKey == "" {
		return nil, apperr.Configf("openai api key not configured")
	}

	cfg := openai.DefaultConfig(s.OpenAIAPIKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

func (c *Client) Complete(ctx context.Context, prompt string, p llm.Params) (string, error) {
	client, err := c.client(ctx)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return resp.Data[0].Embedding, nil
}
