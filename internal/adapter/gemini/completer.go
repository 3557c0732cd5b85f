package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"scholar/internal/llm"
	"scholar/internal/settings"
)

type Completer struct {
	keyedClient
	model string
}

func NewCompleter(svc *settings.Service, model string, opts ...option.ClientOption) *Completer {
	return &Completer{
		keyedClient: keyedClient{settingsSvc: svc, clientOpts: opts},
		model:       model,
	}
}

func (c *Completer) Complete(ctx context.Context, prompt string, p llm.Params) (string, error) {
	client, err := c.get(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(c.model)
	model.SetTemperature(p.Temperature)
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.MaxTokens))
	}
	if p.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in completion response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
