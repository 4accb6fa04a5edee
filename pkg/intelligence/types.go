// Package intelligence implements the ingestion pipeline's analysis stages:
// the Fact Extractor (C4), Importance Evaluator (C5) and Decision Engine
// (C7). Conflict detection (C6) lives in pkg/conflict and is consumed here
// rather than duplicated.
package intelligence

import (
	"context"

	"github.com/agentmem/agentmem/pkg/domain"
)

// ExistingMemory is the read-only view of an already-committed memory the
// Decision Engine compares candidates against.
type ExistingMemory = domain.Memory

// EmbeddingSearcher is the narrow slice of storage.VectorStore the
// Importance Evaluator needs to compute novelty against existing memories,
// kept separate from the full storage package to avoid this package
// depending on every storage concern.
type EmbeddingSearcher interface {
	SearchSimilar(ctx context.Context, embedding []float32, scopeTag string, limit int) ([]*domain.Memory, error)
}
