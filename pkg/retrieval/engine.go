// Package retrieval implements the Retrieval Engine (C9): vector-only,
// full-text-only and hybrid search over a tenant's accessible memories,
// fused by Reciprocal Rank Fusion, with a TTL result cache. It does not set
// the storage.SearchOptions Query or Threshold fields: full-text scoring and
// thresholding run in-process, built against the Storage Abstraction rather
// than any single backend.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/agentmem/agentmem/pkg/config"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/embedder"
	"github.com/agentmem/agentmem/pkg/storage"
	"github.com/agentmem/agentmem/pkg/user_memory/query_rewrite"
)

// SearchQuery is the single query shape every mode of Engine.Search accepts.
type SearchQuery struct {
	Text           string
	Limit          int
	Threshold      float64
	VectorWeight   float64
	FulltextWeight float64
	Filters        map[string]interface{}
	EnableParallel bool
	EnableCache    bool

	// ProfileContent, if set, is fed to the Engine's query rewriter (when
	// one is configured) to disambiguate Text against a core memory block
	// or user profile before embedding/full-text scoring. Left empty, Text
	// is used as-is.
	ProfileContent string
}

// DefaultLimit applies when SearchQuery.Limit is unset.
const DefaultLimit = 10

// Engine executes SearchQuery against a VectorStore, fusing vector and
// full-text candidate sets when both weights are non-zero.
type Engine struct {
	Store    storage.VectorStore
	Embedder embedder.Provider
	Config   config.RetrievalConfig

	cache *lru.LRU[string, []*domain.Memory]

	genMu sync.Mutex
	gen   map[string]uint64 // scopeTag -> generation, bumped on every write

	// Rewriter optionally disambiguates a query against profile content
	// before search runs, reusing pkg/user_memory/query_rewrite's
	// LLM-plus-fallback QueryRewriter instead of reimplementing it here. Nil
	// disables rewriting entirely.
	Rewriter *query_rewrite.QueryRewriter
}

// WithRewriter attaches a query rewriter to the Engine.
func (e *Engine) WithRewriter(r *query_rewrite.QueryRewriter) *Engine {
	e.Rewriter = r
	return e
}

// New builds an Engine with a TTL-bounded result cache sized per cfg.
func New(store storage.VectorStore, emb embedder.Provider, cfg config.RetrievalConfig) *Engine {
	size := cfg.CacheSize
	if size <= 0 {
		size = config.DefaultRetrievalConfig().CacheSize
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Duration(config.DefaultRetrievalConfig().CacheTTLSeconds) * time.Second
	}
	return &Engine{
		Store:    store,
		Embedder: emb,
		Config:   cfg,
		cache:    lru.NewLRU[string, []*domain.Memory](size, nil, ttl),
		gen:      map[string]uint64{},
	}
}

// NotifyWrite invalidates the result cache for scopeTag by advancing its
// generation, so any cache key built from a now-stale generation is never
// looked up again: every successful write to a scope invalidates it
// without requiring selective purge of every query variant.
func (e *Engine) NotifyWrite(scopeTag string) {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.gen[scopeTag]++
}

func (e *Engine) generation(scopeTag string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.gen[scopeTag]
}

// Search runs q against tenantID/scope and returns the fused, filtered,
// thresholded, limit-truncated result.
func (e *Engine) Search(ctx context.Context, tenantID string, scope domain.MemoryScope, q SearchQuery) ([]*domain.Memory, error) {
	q = withDefaults(q)
	if e.Rewriter != nil && q.ProfileContent != "" {
		if result := e.Rewriter.Rewrite(ctx, q.Text, q.ProfileContent); result.IsRewritten {
			q.Text = result.RewrittenQuery
		}
	}

	var cacheKey string
	if q.EnableCache {
		cacheKey = e.cacheKey(tenantID, scope.Tag(), q)
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	var vectorResults, fulltextResults []*domain.Memory
	var err error

	switch {
	case q.FulltextWeight >= 1.0 && q.VectorWeight <= 0:
		fulltextResults, err = e.fulltextSearch(ctx, tenantID, scope, q)
	case q.VectorWeight >= 1.0 && q.FulltextWeight <= 0:
		vectorResults, err = e.vectorSearch(ctx, tenantID, scope, q)
	default:
		vectorResults, fulltextResults, err = e.hybridSearch(ctx, tenantID, scope, q)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}

	vectorResults = applyFilters(vectorResults, q.Filters)
	fulltextResults = applyFilters(fulltextResults, q.Filters)

	var fused []*domain.Memory
	switch {
	case len(fulltextResults) == 0:
		fused = vectorResults
	case len(vectorResults) == 0:
		fused = fulltextResults
	default:
		fused = fuseRRF(e.rrfConstant(), []weightedList{
			{results: vectorResults, weight: q.VectorWeight},
			{results: fulltextResults, weight: q.FulltextWeight},
		})
	}

	fused = applyThreshold(fused, q.Threshold)
	if len(fused) > q.Limit {
		fused = fused[:q.Limit]
	}

	if q.EnableCache {
		e.cache.Add(cacheKey, fused)
	}
	return fused, nil
}

func withDefaults(q SearchQuery) SearchQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.VectorWeight == 0 && q.FulltextWeight == 0 {
		q.VectorWeight = 1.0
	}
	return q
}

func (e *Engine) vectorSearch(ctx context.Context, tenantID string, scope domain.MemoryScope, q SearchQuery) ([]*domain.Memory, error) {
	embedding, err := e.embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	return e.Store.Search(ctx, embedding, &storage.SearchOptions{
		TenantID: tenantID,
		ScopeTag: scope.Tag(),
		Limit:    candidatePoolSize(q.Limit),
	})
}

// fulltextSearch scores the scope's full memory set by token overlap against
// q.Text, a BM25-like approximation run in-process so full-text-only queries
// don't require an embedding at all.
func (e *Engine) fulltextSearch(ctx context.Context, tenantID string, scope domain.MemoryScope, q SearchQuery) ([]*domain.Memory, error) {
	all, err := e.Store.GetAll(ctx, &storage.GetAllOptions{
		TenantID: tenantID,
		ScopeTag: scope.Tag(),
		Limit:    0,
	})
	if err != nil {
		return nil, err
	}

	terms := tokenize(q.Text)
	scored := make([]*domain.Memory, 0, len(all))
	for _, m := range all {
		score := bm25ish(terms, m.Content)
		if score <= 0 {
			continue
		}
		cp := *m
		cp.Score = score
		scored = append(scored, &cp)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > candidatePoolSize(q.Limit) {
		scored = scored[:candidatePoolSize(q.Limit)]
	}
	return scored, nil
}

func (e *Engine) hybridSearch(ctx context.Context, tenantID string, scope domain.MemoryScope, q SearchQuery) ([]*domain.Memory, []*domain.Memory, error) {
	if !q.EnableParallel {
		vec, err := e.vectorSearch(ctx, tenantID, scope, q)
		if err != nil {
			return nil, nil, err
		}
		ft, err := e.fulltextSearch(ctx, tenantID, scope, q)
		if err != nil {
			return nil, nil, err
		}
		return vec, ft, nil
	}

	var vec, ft []*domain.Memory
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vec, err = e.vectorSearch(gctx, tenantID, scope, q)
		return err
	})
	g.Go(func() error {
		var err error
		ft, err = e.fulltextSearch(gctx, tenantID, scope, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vec, ft, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(x)
	}
	return out, nil
}

func (e *Engine) rrfConstant() int {
	if e.Config.RRFConstant <= 0 {
		return config.DefaultRetrievalConfig().RRFConstant
	}
	return e.Config.RRFConstant
}

// candidatePoolSize over-fetches relative to the requested limit so fusion
// has enough ranked material from each component to combine meaningfully.
func candidatePoolSize(limit int) int {
	pool := limit * 3
	if pool < 20 {
		pool = 20
	}
	return pool
}

type weightedList struct {
	results []*domain.Memory
	weight  float64
}

// fuseRRF implements Reciprocal Rank Fusion: score(d) = sum over query
// components of weight_q * 1/(k + rank_q(d)), rank 1-based, documents absent
// from a component contributing nothing for that term.
func fuseRRF(k int, lists []weightedList) []*domain.Memory {
	scores := map[string]float64{}
	byID := map[string]*domain.Memory{}
	for _, l := range lists {
		for rank, m := range l.results {
			scores[m.ID] += l.weight * (1.0 / float64(k+rank+1))
			if _, ok := byID[m.ID]; !ok {
				byID[m.ID] = m
			}
		}
	}

	out := make([]*domain.Memory, 0, len(byID))
	for id, m := range byID {
		cp := *m
		cp.Score = scores[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func applyThreshold(results []*domain.Memory, threshold float64) []*domain.Memory {
	if threshold <= 0 {
		return results
	}
	out := make([]*domain.Memory, 0, len(results))
	for _, m := range results {
		if m.Score >= threshold {
			out = append(out, m)
		}
	}
	return out
}

// applyFilters restricts results to those matching every key/value in
// filters: memory_type/level, time range ("created_after"/"created_before"
// as time.Time), and arbitrary metadata equality for anything else.
func applyFilters(results []*domain.Memory, filters map[string]interface{}) []*domain.Memory {
	if len(filters) == 0 {
		return results
	}
	out := make([]*domain.Memory, 0, len(results))
	for _, m := range results {
		if matchesFilters(m, filters) {
			out = append(out, m)
		}
	}
	return out
}

func matchesFilters(m *domain.Memory, filters map[string]interface{}) bool {
	for key, want := range filters {
		switch key {
		case "memory_type", "level":
			if string(m.Level) != fmt.Sprintf("%v", want) {
				return false
			}
		case "created_after":
			if t, ok := want.(time.Time); ok && m.CreatedAt.Before(t) {
				return false
			}
		case "created_before":
			if t, ok := want.(time.Time); ok && m.CreatedAt.After(t) {
				return false
			}
		default:
			got, ok := m.Metadata[key]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
				return false
			}
		}
	}
	return true
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

// bm25ish is a simplified term-frequency score: each matching query term
// contributes its occurrence count divided by (1 + document term count/20),
// standing in for the
// backend's native BM25-like full-text index without requiring a real
// inverted index in every backend.
func bm25ish(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	docTerms := tokenize(content)
	docLen := float64(len(docTerms))
	if docLen == 0 {
		return 0
	}
	var score float64
	for _, t := range terms {
		count := strings.Count(lower, t)
		if count == 0 {
			continue
		}
		score += float64(count) / (1 + docLen/20.0)
	}
	return score
}

func (e *Engine) cacheKey(tenantID, scopeTag string, q SearchQuery) string {
	filtersJSON, _ := json.Marshal(q.Filters)
	raw := fmt.Sprintf("%s|%s|%s|%d|%.4f|%.4f|%.4f|%s|%d",
		tenantID, scopeTag, q.Text, q.Limit, q.Threshold, q.VectorWeight, q.FulltextWeight,
		string(filtersJSON), e.generation(scopeTag))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
