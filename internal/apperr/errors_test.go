package apperr_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"scholar/internal/apperr"
)

func TestExternal(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, apperr.External("embedding", nil))
	})

	t.Run("WrapsAndMatches", func(t *testing.T) {
		err := apperr.External("embedding", context.DeadlineExceeded)
		assert.True(t, errors.Is(err, apperr.ErrExternalService))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Contains(t, err.Error(), "embedding service")
	})

	t.Run("NoDoubleWrap", func(t *testing.T) {
		inner := apperr.External("completion", errors.New("rate limited"))
		outer := apperr.External("completion", inner)
		assert.Equal(t, inner, outer)
	})

	t.Run("SurvivesFmtWrap", func(t *testing.T) {
		err := fmt.Errorf("indexing: %w", apperr.External("embedding", errors.New("refused")))
		var ext *apperr.ExternalServiceError
		assert.True(t, errors.As(err, &ext))
		assert.Equal(t, "embedding", ext.Service)
	})
}

func TestPartialIngestionError(t *testing.T) {
	err := &apperr.PartialIngestionError{SourceID: "doc-1", Err: errors.New("corrupt xref")}
	assert.True(t, errors.Is(err, apperr.ErrPartialIngestion))
	assert.Contains(t, err.Error(), "doc-1")
}

func TestConfigfAndUnavailable(t *testing.T) {
	assert.True(t, errors.Is(apperr.Configf("overlap %d", 5), apperr.ErrConfig))

	err := apperr.Unavailable("weaviate", errors.New("dial tcp"))
	assert.True(t, errors.Is(err, apperr.ErrIndexUnavailable))
	assert.Contains(t, err.Error(), "weaviate")
}
