// Package memadapter is an in-memory VectorStore built on the same
// cosine-similarity helpers the Conflict Resolver uses, serving as the
// reference backend for unit tests across every component that
// consumes storage.VectorStore without needing a live database. Enforces
// the same embedding-dimension invariant as the SQL-backed adapters, and
// additionally rejects inserts whose importance lies outside [0,1].
package memadapter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/storage"
)

// Store is a concurrency-safe, process-local VectorStore.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Memory
	Dimensions int
}

// New returns an empty Store.
func New() *Store {
	return &Store{byID: map[string]*domain.Memory{}}
}

// WithDimensions sets the embedding dimension every inserted/updated
// memory's embedding must match (I6), 0 disables the check.
func (s *Store) WithDimensions(d int) *Store {
	s.Dimensions = d
	return s
}

var _ storage.VectorStore = (*Store)(nil)

func validateImportance(importance float64) error {
	if importance < 0 || importance > 1 {
		return fmt.Errorf("importance %g out of bounds [0,1]", importance)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, mem *domain.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[mem.ID]; exists {
		return agmerr.New("memadapter.Insert", agmerr.KindInvalidInput, fmt.Errorf("memory %s already exists", mem.ID))
	}
	if s.Dimensions > 0 && len(mem.Embedding) > 0 && len(mem.Embedding) != s.Dimensions {
		return agmerr.New("memadapter.Insert", agmerr.KindInvalidInput, fmt.Errorf("embedding dimension %d != configured %d", len(mem.Embedding), s.Dimensions))
	}
	if err := validateImportance(mem.Importance); err != nil {
		return agmerr.New("memadapter.Insert", agmerr.KindInvalidInput, err)
	}
	cp := *mem
	if cp.Version == 0 {
		cp.Version = 1
	}
	s.byID[mem.ID] = &cp
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, mems []*domain.Memory) error {
	for _, m := range mems {
		if err := s.Insert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, embedding []float32, opts *storage.SearchOptions) ([]*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*domain.Memory
	for _, m := range s.byID {
		if opts != nil {
			if opts.TenantID != "" && m.TenantID != opts.TenantID {
				continue
			}
			if opts.ScopeTag != "" && m.ScopeTag != opts.ScopeTag {
				continue
			}
		}
		cp := *m
		if len(embedding) > 0 && len(m.Embedding) > 0 {
			cp.Score = cosineSimilarity(embedding, m.Embedding)
		} else if opts != nil && opts.Query != "" {
			cp.Score = textScore(opts.Query, m.Content)
		}
		if opts != nil && opts.Threshold > 0 && cp.Score < opts.Threshold {
			continue
		}
		candidates = append(candidates, &cp)
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	limit := 10
	if opts != nil && opts.Limit > 0 {
		limit = opts.Limit
	}
	if limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (s *Store) Get(ctx context.Context, id string, opts *storage.GetOptions) (*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, agmerr.New("memadapter.Get", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if opts != nil && opts.TenantID != "" && m.TenantID != opts.TenantID {
		return nil, agmerr.New("memadapter.Get", agmerr.KindPermissionDenied, agmerr.ErrPermissionDenied)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) Update(ctx context.Context, id string, content string, embedding []float32, opts *storage.UpdateOptions) (*domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, agmerr.New("memadapter.Update", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if opts != nil && opts.TenantID != "" && m.TenantID != opts.TenantID {
		return nil, agmerr.New("memadapter.Update", agmerr.KindPermissionDenied, agmerr.ErrPermissionDenied)
	}
	if s.Dimensions > 0 && len(embedding) > 0 && len(embedding) != s.Dimensions {
		return nil, agmerr.New("memadapter.Update", agmerr.KindInvalidInput, fmt.Errorf("embedding dimension %d != configured %d", len(embedding), s.Dimensions))
	}
	m.Content = content
	if embedding != nil {
		m.Embedding = embedding
	}
	m.Version++
	cp := *m
	return &cp, nil
}

func (s *Store) RecordAccess(ctx context.Context, id string, opts *storage.GetOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return agmerr.New("memadapter.RecordAccess", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if opts != nil && opts.TenantID != "" && m.TenantID != opts.TenantID {
		return agmerr.New("memadapter.RecordAccess", agmerr.KindPermissionDenied, agmerr.ErrPermissionDenied)
	}
	now := time.Now()
	m.AccessCount++
	m.LastAccessedAt = &now
	return nil
}

func (s *Store) Delete(ctx context.Context, id string, opts *storage.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return agmerr.New("memadapter.Delete", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if opts != nil && opts.TenantID != "" && m.TenantID != opts.TenantID {
		return agmerr.New("memadapter.Delete", agmerr.KindPermissionDenied, agmerr.ErrPermissionDenied)
	}
	delete(s.byID, id)
	return nil
}

func (s *Store) GetAll(ctx context.Context, opts *storage.GetAllOptions) ([]*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Memory
	for _, m := range s.byID {
		if opts != nil {
			if opts.TenantID != "" && m.TenantID != opts.TenantID {
				continue
			}
			if opts.ScopeTag != "" && m.ScopeTag != opts.ScopeTag {
				continue
			}
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if opts != nil {
		if opts.Offset > 0 && opts.Offset < len(out) {
			out = out[opts.Offset:]
		}
		if opts.Limit > 0 && opts.Limit < len(out) {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

func (s *Store) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.byID {
		if opts != nil {
			if opts.TenantID != "" && m.TenantID != opts.TenantID {
				continue
			}
			if opts.ScopeTag != "" && m.ScopeTag != opts.ScopeTag {
				continue
			}
		}
		delete(s.byID, id)
	}
	return nil
}

func (s *Store) CountVectors(ctx context.Context, scopeTag string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.byID {
		if scopeTag == "" || m.ScopeTag == scopeTag {
			n++
		}
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.byID {
		if tenantID == "" || m.TenantID == tenantID {
			delete(s.byID, id)
		}
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error { return nil }

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bytes int64
	for _, m := range s.byID {
		bytes += int64(len(m.Content))
	}
	return storage.Stats{TotalMemories: len(s.byID), TotalBytes: bytes}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// textScore is a coarse full-text relevance score: fraction of query tokens
// present in content, used by backends/tests with no embeddings at all.
func textScore(query, content string) float64 {
	qWords := strings.Fields(strings.ToLower(query))
	if len(qWords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, w := range qWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(qWords))
}
