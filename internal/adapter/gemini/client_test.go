package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"scholar/internal/adapter/gemini"
	"scholar/internal/apperr"
	"scholar/internal/llm"
	"scholar/internal/settings"
)

type MockSettingsRepo struct {
	mock.Mock
}

func (m *MockSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockSettingsRepo) Update(ctx context.Context, s *settings.Settings) error {
	return m.Called(ctx, s).Error(0)
}

func TestEmbedder_Embed(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	settingsSvc := settings.NewService(mockRepo)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{
				"values": []float32{0.1, 0.2, 0.3},
			},
		})
	}))
	defer ts.Close()

	embedder := gemini.NewEmbedder(settingsSvc, "", option.WithEndpoint(ts.URL))
	defer embedder.Close()

	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo.On("Get", ctx).Return(&settings.Settings{GeminiAPIKey: "test-key"}, nil).Once()

		vec, err := embedder.Embed(ctx, "solar energy")
		assert.NoError(t, err)
		if assert.Len(t, vec, 3) {
			assert.Equal(t, float32(0.1), vec[0])
		}
		mockRepo.AssertExpectations(t)
	})

	t.Run("Missing API Key", func(t *testing.T) {
		mockRepo.On("Get", ctx).Return(&settings.Settings{GeminiAPIKey: ""}, nil).Once()

		vec, err := embedder.Embed(ctx, "solar")
		assert.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrConfig))
		assert.Contains(t, err.Error(), "gemini api key not configured")
		assert.Nil(t, vec)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Settings Error", func(t *testing.T) {
		mockRepo.On("Get", ctx).Return(nil, errors.New("db fail")).Once()

		_, err := embedder.Embed(ctx, "solar")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get settings")
	})
}

func TestEmbedder_EmptyEmbedding(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	mockRepo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "k"}, nil)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding":{"values":[]}}`))
	}))
	defer ts.Close()

	embedder := gemini.NewEmbedder(settings.NewService(mockRepo), "", option.WithEndpoint(ts.URL))
	_, err := embedder.Embed(context.Background(), "solar")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty embedding")
}

func TestCompleter_Complete(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	mockRepo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "test-key"}, nil)

	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "generateContent"), r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []map[string]interface{}{{"text": `{"title":`}, {"text": `"Solar"}`}},
					},
				},
			},
		})
	}))
	defer ts.Close()

	completer := gemini.NewCompleter(settings.NewService(mockRepo), "gemini-2.0-flash", option.WithEndpoint(ts.URL))
	defer completer.Close()

	out, err := completer.Complete(context.Background(), "outline please", llm.Params{Temperature: 0.3, MaxTokens: 512, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Solar"}`, out)

	cfg, ok := gotBody["generationConfig"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
}
