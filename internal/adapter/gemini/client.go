package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"scholar/internal/apperr"
	"scholar/internal/settings"
)

const DefaultEmbeddingModel = "gemini-embedding-001"

// keyedClient holds one genai client for the API key currently stored in
// settings and replaces it when the key changes.
type keyedClient struct {
	settingsSvc *settings.Service
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func (k *keyedClient) get(ctx context.Context) (*genai.Client, error) {
	s, err := k.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, apperr.Configf("gemini api key not configured")
	}
	return k.clientFor(ctx, s.GeminiAPIKey)
}

func (k *keyedClient) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	k.mu.RLock()
	if k.client != nil && k.currentKey == key {
		defer k.mu.RUnlock()
		return k.client, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()

	// Double check
	if k.client != nil && k.currentKey == key {
		return k.client, nil
	}

	if k.client != nil {
		if err := k.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, k.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	k.client = client
	k.currentKey = key
	return client, nil
}

func (k *keyedClient) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client == nil {
		return nil
	}
	err := k.client.Close()
	k.client = nil
	k.currentKey = ""
	return err
}
