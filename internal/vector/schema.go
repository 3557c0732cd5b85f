package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding indexed research chunks.
const ClassName = "ResearchChunk"

// SchemaClient is the subset of the Weaviate schema API used at startup.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties lists every chunk attribute stored next to the vector. Source
// metadata is denormalized onto each chunk so search results can be ranked
// without a second lookup.
func Properties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "chunkId", DataType: []string{"string"}},
		{Name: "sourceId", DataType: []string{"string"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "offset", DataType: []string{"int"}},
		{Name: "tokenCount", DataType: []string{"int"}},
		{Name: "origin", DataType: []string{"string"}},
		{Name: "kind", DataType: []string{"string"}},
		{Name: "uri", DataType: []string{"string"}},
		{Name: "title", DataType: []string{"text"}},
		{Name: "retrievedAt", DataType: []string{"date"}},
		{Name: "publishedAt", DataType: []string{"date"}},
		// Insertion order, used to break similarity ties.
		{Name: "seq", DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class, or adds properties an older
// deployment is missing.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := Properties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ClassName,
			Description: "A chunk of a research source",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: properties,
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}

	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return err
		}
	}
	return nil
}
