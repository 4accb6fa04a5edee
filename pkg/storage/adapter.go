package storage

import (
	"context"

	"github.com/agentmem/agentmem/pkg/domain"
)

// SimilarSearcher adapts a VectorStore to the narrow embedding-similarity
// lookup the Importance Evaluator needs (pkg/intelligence.EmbeddingSearcher),
// satisfied structurally without either package importing the other.
type SimilarSearcher struct {
	Store    VectorStore
	TenantID string
}

// SearchSimilar runs a vector-only search scoped to scopeTag and returns the
// top results with their similarity scores populated.
func (s SimilarSearcher) SearchSimilar(ctx context.Context, embedding []float32, scopeTag string, limit int) ([]*domain.Memory, error) {
	return s.Store.Search(ctx, embedding, &SearchOptions{
		TenantID: s.TenantID,
		ScopeTag: scopeTag,
		Limit:    limit,
	})
}
