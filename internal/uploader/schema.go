// Package uploader diffs the desired chunk corpus against the current
// state of the vector index and drives the incremental upsert/delete
// described in spec.md §4.11. Schema and batch shape follow
// services/code_buddy/seeder/weaviate.go's GetLibraryDocSchema /
// EnsureSchema / IndexDocs / DeleteByDataSpace, generalized from a single
// "LibraryDoc" class keyed by docId to an "ObjectChunk" class keyed by
// chunk id, with object_name and content_hash carried as filterable
// properties so a changed ref's chunks can be found and deleted by an
// exact object_name match.
package uploader

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding corpus chunks.
const ClassName = "ObjectChunk"

// Schema returns the ObjectChunk class definition. Vectorizer is "none"
// because vectors are computed by internal/embed and supplied at upsert
// time, not by Weaviate itself.
func Schema() *models.Class {
	filterable := true

	return &models.Class{
		Class:       ClassName,
		Description: "Chunked documentation of a tenant schema object, one class instance per corpus chunk",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "chunkId",
				DataType:        []string{"text"},
				Description:     "Stable chunk identifier: salesforce_object_{ref}[_part_{n}]",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:            "objectName",
				DataType:        []string{"text"},
				Description:     "The tenant schema object this chunk documents",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:            "contentHash",
				DataType:        []string{"text"},
				Description:     "Content hash of the source ObjectRecord at emission time",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "Chunk body",
				Tokenization: "word",
			},
			{
				Name:            "docType",
				DataType:        []string{"text"},
				Description:     "Document type, currently always salesforce_object",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:     "partIndex",
				DataType: []string{"int"},
			},
			{
				Name:     "totalParts",
				DataType: []string{"int"},
			},
		},
	}
}

// EnsureSchema creates the ObjectChunk class if it doesn't already
// exist. Idempotent, same shape as EnsureSchema in seeder/weaviate.go.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	_, err := client.Schema().ClassGetter().WithClassName(ClassName).Do(ctx)
	if err == nil {
		return nil
	}

	if err := client.Schema().ClassCreator().WithClass(Schema()).Do(ctx); err != nil {
		return fmt.Errorf("create %s schema: %w", ClassName, err)
	}
	return nil
}
