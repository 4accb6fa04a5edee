package ingestion_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmem/agentmem/pkg/conflict"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/hierarchy"
	"github.com/agentmem/agentmem/pkg/ingestion"
	"github.com/agentmem/agentmem/pkg/intelligence"
	"github.com/agentmem/agentmem/pkg/llm"
	"github.com/agentmem/agentmem/pkg/storage"
	"github.com/agentmem/agentmem/pkg/storage/memadapter"
)

// fakeLLM returns a fixed facts JSON response regardless of prompt, so
// pipeline tests exercise extraction without a live provider.
type fakeLLM struct {
	response string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.response, nil
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return f.response, nil
}

func (f *fakeLLM) Close() error { return nil }

// fakeEmbedder returns a deterministic low-dimensional vector derived from
// text length/content, enough to exercise storage/search without a live
// embedding provider.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	sum := 0.0
	for _, r := range text {
		sum += float64(r)
	}
	return []float64{sum, float64(len(text))}, nil
}

func (e fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 2 }
func (fakeEmbedder) Close() error    { return nil }

func newPipeline(t *testing.T, factsJSON string) (*ingestion.Pipeline, storage.VectorStore) {
	t.Helper()
	store := memadapter.New()
	hm, err := hierarchy.New(0)
	require.NoError(t, err)

	extractor := intelligence.NewFactExtractor(&fakeLLM{response: factsJSON})
	importance := intelligence.NewImportanceEvaluator(storage.SimilarSearcher{Store: store})
	resolver := conflict.New()
	decisions := intelligence.NewDecisionEngine()

	pipeline := ingestion.New(store, hm, fakeEmbedder{}, extractor, importance, resolver, decisions)
	return pipeline, store
}

func TestIngestAddsNovelFact(t *testing.T) {
	factsJSON := `{"facts": [{"description": "User likes coffee", "category": "preference", "confidence": 0.9}]}`
	pipeline, _ := newPipeline(t, factsJSON)

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	result, err := pipeline.Ingest(context.Background(), "tenant-1", scope, "I like coffee")
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	o := result.Outcomes[0]
	assert.Equal(t, intelligence.ActionAdd, o.Decision.Action.Kind)
	require.NotNil(t, o.Memory)
	assert.Equal(t, "User likes coffee", o.Memory.Content)
	assert.Equal(t, "tenant-1", o.Memory.TenantID)
}

func TestIngestNoFactsReturnsEmptyResult(t *testing.T) {
	pipeline, _ := newPipeline(t, `{"facts": []}`)

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	result, err := pipeline.Ingest(context.Background(), "tenant-1", scope, "hello there")
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)
}

func TestIngestDropsLowConfidenceFacts(t *testing.T) {
	factsJSON := `{"facts": [{"description": "maybe likes tea", "category": "preference", "confidence": 0.1}]}`
	pipeline, _ := newPipeline(t, factsJSON)

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	result, err := pipeline.Ingest(context.Background(), "tenant-1", scope, "maybe tea?")
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes, "facts below the confidence floor must never reach the decision stage")
}

func TestIngestNoOpsOnNearExactRepeat(t *testing.T) {
	factsJSON := `{"facts": [{"description": "User likes coffee", "category": "preference", "confidence": 0.9}]}`
	pipeline, store := newPipeline(t, factsJSON)

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	ctx := context.Background()

	first, err := pipeline.Ingest(ctx, "tenant-1", scope, "I like coffee")
	require.NoError(t, err)
	require.Len(t, first.Outcomes, 1)
	require.Equal(t, intelligence.ActionAdd, first.Outcomes[0].Decision.Action.Kind)

	second, err := pipeline.Ingest(ctx, "tenant-1", scope, "I like coffee again")
	require.NoError(t, err)
	require.Len(t, second.Outcomes, 1)
	assert.NotEqual(t, intelligence.ActionAdd, second.Outcomes[0].Decision.Action.Kind, "an exact repeat must not create a second memory")

	all, err := store.Search(ctx, float64ToFloat32(fakeSum("User likes coffee")), &storage.SearchOptions{TenantID: "tenant-1", ScopeTag: scope.Tag(), Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 1, "only one memory should ever be committed for the repeated fact")
}

func fakeSum(text string) []float64 {
	sum := 0.0
	for _, r := range text {
		sum += float64(r)
	}
	return []float64{sum, float64(len(text))}
}

func float64ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func TestIngestRejectsInvalidFactExtractionJSON(t *testing.T) {
	pipeline, _ := newPipeline(t, "not json at all")

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	_, err := pipeline.Ingest(context.Background(), "tenant-1", scope, "garbled input")
	assert.Error(t, err)
}

func TestIngestConcurrencyDefaultsWhenUnset(t *testing.T) {
	factsJSON := fmt.Sprintf(`{"facts": [%s]}`, factList(6))
	pipeline, _ := newPipeline(t, factsJSON)
	pipeline.Concurrency = 0

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	result, err := pipeline.Ingest(context.Background(), "tenant-1", scope, "a conversation with many distinct facts")
	require.NoError(t, err)
	assert.Len(t, result.Outcomes, 6)
}

func factList(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"description": "distinct fact number %d about the user", "category": "fact", "confidence": 0.9}`, i)
	}
	return s
}
