package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmem/agentmem/pkg/config"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/retrieval"
	"github.com/agentmem/agentmem/pkg/storage/memadapter"
)

// stubEmbedder maps each known phrase to a fixed vector so cosine similarity
// between a query and a stored memory is predictable in tests.
type stubEmbedder struct {
	vectors map[string][]float64
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 0}, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func (s stubEmbedder) Dimensions() int { return 3 }
func (s stubEmbedder) Close() error    { return nil }

func seedEngine(t *testing.T, vectors map[string][]float64) (*retrieval.Engine, domain.MemoryScope, string) {
	t.Helper()
	store := memadapter.New()
	emb := stubEmbedder{vectors: vectors}
	engine := retrieval.New(store, emb, config.DefaultRetrievalConfig())

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	now := time.Now()
	for content, vec := range vectors {
		if content == "query about coffee" {
			continue
		}
		f32 := make([]float32, len(vec))
		for i, x := range vec {
			f32[i] = float32(x)
		}
		require.NoError(t, store.Insert(context.Background(), &domain.Memory{
			ID:        content,
			TenantID:  "tenant-1",
			Scope:     scope,
			ScopeTag:  scope.Tag(),
			Content:   content,
			Embedding: f32,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}
	return engine, scope, "tenant-1"
}

func TestSearchVectorOnlyRanksBySimilarity(t *testing.T) {
	vectors := map[string][]float64{
		"User likes coffee":      {1, 0, 0},
		"User likes tea":         {0.9, 0.1, 0},
		"User dislikes spinach":  {0, 1, 0},
		"query about coffee":     {1, 0, 0},
	}
	engine, scope, tenantID := seedEngine(t, vectors)

	results, err := engine.Search(context.Background(), tenantID, scope, retrieval.SearchQuery{
		Text:         "query about coffee",
		VectorWeight: 1.0,
		Limit:        5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "User likes coffee", results[0].Content)
}

func TestSearchFulltextOnlyMatchesTokens(t *testing.T) {
	vectors := map[string][]float64{
		"The quick brown fox jumps": {0, 0, 0},
		"A slow green turtle naps":  {0, 0, 0},
	}
	engine, scope, tenantID := seedEngine(t, vectors)

	results, err := engine.Search(context.Background(), tenantID, scope, retrieval.SearchQuery{
		Text:           "fox",
		FulltextWeight: 1.0,
		Limit:          5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "The quick brown fox jumps", results[0].Content)
}

func TestSearchAppliesThreshold(t *testing.T) {
	vectors := map[string][]float64{
		"User likes coffee":  {1, 0, 0},
		"query about coffee": {1, 0, 0},
	}
	engine, scope, tenantID := seedEngine(t, vectors)

	results, err := engine.Search(context.Background(), tenantID, scope, retrieval.SearchQuery{
		Text:         "query about coffee",
		VectorWeight: 1.0,
		Threshold:    1.1,
		Limit:        5,
	})
	require.NoError(t, err)
	assert.Empty(t, results, "an unreachable threshold must filter out every result")
}

func TestSearchRespectsLimit(t *testing.T) {
	vectors := map[string][]float64{
		"fact one about the user":   {1, 0, 0},
		"fact two about the user":   {1, 0, 0},
		"fact three about the user": {1, 0, 0},
		"query about the user":      {1, 0, 0},
	}
	engine, scope, tenantID := seedEngine(t, vectors)

	results, err := engine.Search(context.Background(), tenantID, scope, retrieval.SearchQuery{
		Text:         "query about the user",
		VectorWeight: 1.0,
		Limit:        2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchCacheReturnsStableResultsUntilWrite(t *testing.T) {
	vectors := map[string][]float64{
		"User likes coffee":  {1, 0, 0},
		"query about coffee": {1, 0, 0},
	}
	engine, scope, tenantID := seedEngine(t, vectors)

	q := retrieval.SearchQuery{Text: "query about coffee", VectorWeight: 1.0, EnableCache: true, Limit: 5}
	first, err := engine.Search(context.Background(), tenantID, scope, q)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := engine.Search(context.Background(), tenantID, scope, q)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	engine.NotifyWrite(scope.Tag())
	third, err := engine.Search(context.Background(), tenantID, scope, q)
	require.NoError(t, err)
	assert.Len(t, third, 1, "cache invalidation must not break subsequent searches")
}

func TestSearchFiltersByMetadata(t *testing.T) {
	store := memadapter.New()
	emb := stubEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	engine := retrieval.New(store, emb, config.DefaultRetrievalConfig())
	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	now := time.Now()

	require.NoError(t, store.Insert(context.Background(), &domain.Memory{
		ID: "m1", TenantID: "t1", Scope: scope, ScopeTag: scope.Tag(),
		Content: "work fact", Embedding: []float32{1, 0},
		Metadata: map[string]interface{}{"kind": "work"}, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.Insert(context.Background(), &domain.Memory{
		ID: "m2", TenantID: "t1", Scope: scope, ScopeTag: scope.Tag(),
		Content: "hobby fact", Embedding: []float32{1, 0},
		Metadata: map[string]interface{}{"kind": "hobby"}, CreatedAt: now, UpdatedAt: now,
	}))

	results, err := engine.Search(context.Background(), "t1", scope, retrieval.SearchQuery{
		Text: "q", VectorWeight: 1.0, Limit: 5,
		Filters: map[string]interface{}{"kind": "work"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].ID)
}
