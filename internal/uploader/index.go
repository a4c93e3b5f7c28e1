package uploader

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// chunkNamespace anchors the deterministic UUID5 derivation below; any
// fixed namespace works as long as it never changes across runs.
var chunkNamespace = uuid.MustParse("2f6a8b6e-8e0a-4c7b-9f1d-6a2a6b0f5b7a")

// chunkUUID derives a stable Weaviate object ID from a chunk id so
// re-upserting the same chunk id overwrites the existing object instead
// of creating a duplicate.
func chunkUUID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

// ListCurrent fetches every chunk's identity metadata currently stored
// in the index, generalizing SearchDocs's BM25 query into an
// unconditional metadata-only listing (no vectors, no full text) so a
// multi-day tenant's whole chunk set can be diffed without pulling
// gigabytes of chunk bodies back over the wire.
func ListCurrent(ctx context.Context, client *weaviate.Client) ([]model.Chunk, error) {
	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "objectName"},
		{Name: "contentHash"},
		{Name: "docType"},
		{Name: "partIndex"},
		{Name: "totalParts"},
	}

	result, err := client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list current chunks: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("list current chunks: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[ClassName].([]interface{})
	if !ok {
		return nil, nil
	}

	chunks := make([]model.Chunk, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		chunks = append(chunks, model.Chunk{
			ID: getString(m, "chunkId"),
			Metadata: model.ChunkMetadata{
				ObjectName:  getString(m, "objectName"),
				ContentHash: getString(m, "contentHash"),
				Type:        getString(m, "docType"),
				PartIndex:   getInt(m, "partIndex"),
				TotalParts:  getInt(m, "totalParts"),
			},
		})
	}
	return chunks, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// DeleteByRef removes every chunk whose objectName matches ref, the
// generalization of DeleteByDataSpace's WithWhere batch delete from a
// dataSpace filter to an objectName filter.
func DeleteByRef(ctx context.Context, client *weaviate.Client, ref model.ObjectRef) error {
	where := filters.Where().
		WithPath([]string{"objectName"}).
		WithOperator(filters.Equal).
		WithValueString(string(ref))

	_, err := client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassName).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", ref, err)
	}
	return nil
}

// UpsertBatch writes one batch of chunks paired with their embedding
// vectors, generalized from IndexDocs's fixed-property object batcher.
// The Weaviate object ID is derived deterministically from the chunk id
// so a re-upsert of the same chunk id overwrites rather than duplicates.
func UpsertBatch(ctx context.Context, client *weaviate.Client, chunks []model.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("upsert batch: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class: ClassName,
			ID:    strfmt.UUID(chunkUUID(c.ID)),
			Properties: map[string]interface{}{
				"chunkId":     c.ID,
				"objectName":  c.Metadata.ObjectName,
				"contentHash": c.Metadata.ContentHash,
				"text":        c.Text,
				"docType":     c.Metadata.Type,
				"partIndex":   c.Metadata.PartIndex,
				"totalParts":  c.Metadata.TotalParts,
			},
			Vector: vectors[i],
		}
	}

	result, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("upsert batch: %w", err)
	}

	succeeded := 0
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors == nil {
			succeeded++
		}
	}
	return succeeded, nil
}
