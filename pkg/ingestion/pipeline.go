// Package ingestion implements the Ingestion Pipeline (C8): the path from
// raw conversational content to committed Memory records. It wires the Fact
// Extractor (C4), Importance Evaluator (C5), Conflict Resolver (C6) and
// Decision Engine (C7) together, then executes the resulting actions against
// both the Storage Abstraction (C1, persistence) and the Hierarchy Manager
// (C2, scope index). Follows an extract -> per-fact embed+search ->
// decide -> execute flow, with the per-fact analysis stage running under
// bounded concurrency ahead of a single deterministic, rule-ordered
// DecisionEngine pass.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentmem/agentmem/pkg/conflict"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/embedder"
	"github.com/agentmem/agentmem/pkg/hierarchy"
	"github.com/agentmem/agentmem/pkg/intelligence"
	"github.com/agentmem/agentmem/pkg/storage"
)

// DefaultConcurrency bounds how many facts are analyzed (embedded, searched,
// scored, checked for conflicts) at once.
const DefaultConcurrency = 4

// DefaultSimilarCandidates is how many existing memories are pulled per fact
// to feed conflict detection and best-match selection.
const DefaultSimilarCandidates = 5

// CacheInvalidator is the narrow capability the Retrieval Engine's result
// cache exposes (retrieval.Engine.NotifyWrite), consumed here structurally
// so this package never imports pkg/retrieval.
type CacheInvalidator interface {
	NotifyWrite(scopeTag string)
}

// Pipeline wires the analysis stages to the two places a committed memory
// must land: the persistent VectorStore and the in-memory hierarchy index.
type Pipeline struct {
	Store       storage.VectorStore
	Hierarchy   *hierarchy.Manager
	Embedder    embedder.Provider
	Extractor   *intelligence.FactExtractor
	Importance  *intelligence.ImportanceEvaluator
	Conflicts   *conflict.Resolver
	Decisions   *intelligence.DecisionEngine
	Concurrency int

	// EnableFactMerging gates ActionMerge: when false, a merge
	// recommendation falls back to updating the first merge target instead.
	EnableFactMerging bool
	// ProcessingTimeout bounds a single fact's execute step. Zero
	// means no per-fact timeout.
	ProcessingTimeout time.Duration
	// GlobalTimeout bounds an entire Ingest call. Zero means no call-wide
	// timeout.
	GlobalTimeout time.Duration

	// Cache is notified after every successful write so the Retrieval
	// Engine's result cache invalidates. May be left nil.
	Cache CacheInvalidator
}

// New builds a Pipeline from its component stages, defaulting Concurrency to
// DefaultConcurrency.
func New(store storage.VectorStore, hm *hierarchy.Manager, emb embedder.Provider, extractor *intelligence.FactExtractor, imp *intelligence.ImportanceEvaluator, cr *conflict.Resolver, de *intelligence.DecisionEngine) *Pipeline {
	return &Pipeline{
		Store:             store,
		Hierarchy:         hm,
		Embedder:          emb,
		Extractor:         extractor,
		Importance:        imp,
		Conflicts:         cr,
		Decisions:         de,
		Concurrency:       DefaultConcurrency,
		EnableFactMerging: true,
	}
}

// FactOutcome records what the pipeline decided and did for one extracted
// fact.
type FactOutcome struct {
	Fact     domain.StructuredFact
	Decision intelligence.DecisionResult
	Memory   *domain.Memory // the committed/updated/merged memory; nil for NoOp
}

// Result is the Ingestion Pipeline's output for one call to Ingest.
type Result struct {
	Outcomes []FactOutcome
}

// analyzed is the per-fact output of the bounded fan-out stage, everything
// the (sequential, order-sensitive) decision stage needs.
type analyzed struct {
	fact       domain.StructuredFact
	embedding  []float32
	candidate  intelligence.Candidate
	existingByID map[string]*domain.Memory
}

// Ingest extracts facts from messages, analyzes each one against the scope's
// accessible memories, decides what to do with it, and executes that
// decision against storage and the hierarchy index. tenantID and scope
// identify where new and updated memories land; messages is passed through
// to the Fact Extractor unchanged (string, single message map, or slice of
// message maps).
func (p *Pipeline) Ingest(ctx context.Context, tenantID string, scope domain.MemoryScope, messages interface{}) (*Result, error) {
	if p.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.GlobalTimeout)
		defer cancel()
	}

	facts, err := p.Extractor.ExtractFacts(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("ingestion: extract facts: %w", err)
	}
	if len(facts) == 0 {
		return &Result{}, nil
	}

	analyses, err := p.analyze(ctx, tenantID, scope, facts)
	if err != nil {
		return nil, err
	}

	candidates := make([]intelligence.Candidate, len(analyses))
	for i, a := range analyses {
		candidates[i] = a.candidate
	}

	// Higher-importance facts commit first, so a later, lower-priority fact
	// in the same batch sees the winner of an earlier merge/update rather
	// than racing it.
	order := intelligence.RankActions(candidates)

	outcomes := make([]FactOutcome, len(analyses))
	for _, idx := range order {
		a := analyses[idx]
		decision := p.Decisions.Decide(a.candidate)
		if decision.Action.Kind == intelligence.ActionMerge && !p.EnableFactMerging {
			decision = fallbackFromMerge(decision)
		}

		factCtx := ctx
		if p.ProcessingTimeout > 0 {
			var cancel context.CancelFunc
			factCtx, cancel = context.WithTimeout(ctx, p.ProcessingTimeout)
			defer cancel()
		}

		mem, err := p.execute(factCtx, tenantID, scope, a, decision)
		if err != nil {
			return nil, fmt.Errorf("ingestion: execute %s for fact %q: %w", decision.Action.Kind, a.fact.Description, err)
		}
		outcomes[idx] = FactOutcome{Fact: a.fact, Decision: decision, Memory: mem}
	}

	return &Result{Outcomes: outcomes}, nil
}

// fallbackFromMerge downgrades an ActionMerge recommendation to an Update
// against the first merge target, or NoOp if the decision carried no target,
// for callers that disabled fact merging.
func fallbackFromMerge(decision intelligence.DecisionResult) intelligence.DecisionResult {
	if len(decision.Action.MergeIDs) == 0 {
		return intelligence.DecisionResult{
			Action:     intelligence.RecommendedAction{Kind: intelligence.ActionNoOp, Rationale: "fact merging disabled, no merge target"},
			Confidence: decision.Confidence,
		}
	}
	return intelligence.DecisionResult{
		Action: intelligence.RecommendedAction{
			Kind:      intelligence.ActionUpdate,
			TargetID:  decision.Action.MergeIDs[0],
			Rationale: "fact merging disabled, updating first merge target instead",
		},
		Confidence: decision.Confidence,
	}
}

// analyze runs the embed/search/score/conflict-detect stage for every fact
// with bounded concurrency, returning results in input order.
func (p *Pipeline) analyze(ctx context.Context, tenantID string, scope domain.MemoryScope, facts []domain.StructuredFact) ([]analyzed, error) {
	out := make([]analyzed, len(facts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())

	for i, fact := range facts {
		i, fact := i, fact
		g.Go(func() error {
			a, err := p.analyzeOne(ctx, tenantID, scope, fact)
			if err != nil {
				return fmt.Errorf("analyzing fact %q: %w", fact.Description, err)
			}
			out[i] = a
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) analyzeOne(ctx context.Context, tenantID string, scope domain.MemoryScope, fact domain.StructuredFact) (analyzed, error) {
	embedding, err := p.embed(ctx, fact.Description)
	if err != nil {
		return analyzed{}, fmt.Errorf("embed: %w", err)
	}

	existing, err := p.Store.Search(ctx, embedding, &storage.SearchOptions{
		TenantID: tenantID,
		ScopeTag: scope.Tag(),
		Limit:    DefaultSimilarCandidates,
		Query:    fact.Description,
	})
	if err != nil {
		return analyzed{}, fmt.Errorf("search existing: %w", err)
	}

	existingByID := make(map[string]*domain.Memory, len(existing))
	for _, m := range existing {
		existingByID[m.ID] = m
	}

	eval := p.Importance.Evaluate(ctx, fact, embedding, scope.Tag())

	// A transient, unsaved memory standing in for the candidate fact so the
	// Conflict Resolver can compare it against existing content the same way
	// it compares two committed memories.
	probe := &domain.Memory{
		ID:        "candidate",
		TenantID:  tenantID,
		Scope:     scope,
		ScopeTag:  scope.Tag(),
		Content:   fact.Description,
		Embedding: embedding,
		Importance: eval.Score,
		CreatedAt: time.Now(),
	}
	conflicts := p.Conflicts.Detect(probe, existing)

	var bestMatch *domain.Memory
	var bestSimilarity float64
	if len(existing) > 0 {
		bestMatch = existing[0]
		bestSimilarity = existing[0].Score
	}

	return analyzed{
		fact:      fact,
		embedding: embedding,
		candidate: intelligence.Candidate{
			Fact:           fact,
			Importance:     eval.Score,
			BestMatch:      bestMatch,
			BestSimilarity: bestSimilarity,
			Conflicts:      conflicts,
		},
		existingByID: existingByID,
	}, nil
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return toFloat32(vec), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// execute carries out decision against storage and the hierarchy index,
// returning the resulting memory (nil for NoOp).
func (p *Pipeline) execute(ctx context.Context, tenantID string, scope domain.MemoryScope, a analyzed, decision intelligence.DecisionResult) (*domain.Memory, error) {
	switch decision.Action.Kind {
	case intelligence.ActionAdd:
		return p.add(ctx, tenantID, scope, a)
	case intelligence.ActionUpdate:
		return p.update(ctx, tenantID, scope, a, decision)
	case intelligence.ActionMerge:
		return p.merge(ctx, tenantID, scope, a, decision)
	case intelligence.ActionDelete:
		return nil, p.delete(ctx, tenantID, scope, decision)
	default: // ActionNoOp
		return nil, nil
	}
}

func (p *Pipeline) add(ctx context.Context, tenantID string, scope domain.MemoryScope, a analyzed) (*domain.Memory, error) {
	now := time.Now()
	mem := &domain.Memory{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Scope:       scope,
		ScopeTag:    scope.Tag(),
		Level:       levelFor(a.fact),
		Content:     a.fact.Description,
		ContentHash: contentHash(a.fact.Description),
		Embedding:   a.embedding,
		Metadata:    factMetadata(a.fact),
		Importance:  a.candidate.Importance,
		Type:        typeFor(a.fact),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Store.Insert(ctx, mem); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	if err := p.Hierarchy.AddMemory(mem, hierarchy.DefaultPermissions()); err != nil {
		_ = p.Store.Delete(ctx, mem.ID, &storage.DeleteOptions{TenantID: tenantID, ScopeTag: scope.Tag()})
		return nil, fmt.Errorf("add to hierarchy: %w", err)
	}
	p.notifyWrite(scope.Tag())
	return mem, nil
}

func (p *Pipeline) update(ctx context.Context, tenantID string, scope domain.MemoryScope, a analyzed, decision intelligence.DecisionResult) (*domain.Memory, error) {
	id := decision.Action.TargetID
	updated, err := p.Store.Update(ctx, id, a.fact.Description, a.embedding, &storage.UpdateOptions{TenantID: tenantID, ScopeTag: scope.Tag()})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	updated.ContentHash = contentHash(updated.Content)
	p.reindex(scope, id, updated)
	p.notifyWrite(scope.Tag())
	return updated, nil
}

func (p *Pipeline) merge(ctx context.Context, tenantID string, scope domain.MemoryScope, a analyzed, decision intelligence.DecisionResult) (*domain.Memory, error) {
	ids := decision.Action.MergeIDs
	if len(ids) < 2 {
		return nil, fmt.Errorf("merge requires two memory ids, got %d", len(ids))
	}
	primary, ok := a.existingByID[ids[0]]
	if !ok {
		fetched, err := p.Store.Get(ctx, ids[0], &storage.GetOptions{TenantID: tenantID, ScopeTag: scope.Tag()})
		if err != nil {
			return nil, fmt.Errorf("get merge target %s: %w", ids[0], err)
		}
		primary = fetched
	}
	secondary, ok := a.existingByID[ids[1]]
	if !ok {
		fetched, err := p.Store.Get(ctx, ids[1], &storage.GetOptions{TenantID: tenantID, ScopeTag: scope.Tag()})
		if err != nil {
			return nil, fmt.Errorf("get merge target %s: %w", ids[1], err)
		}
		secondary = fetched
	}

	merged := p.Conflicts.Resolve(conflict.MergeStrategy, primary, secondary)
	if merged == nil {
		return nil, fmt.Errorf("merge resolution produced no memory")
	}
	merged.ContentHash = contentHash(merged.Content)

	updated, err := p.Store.Update(ctx, primary.ID, merged.Content, merged.Embedding, &storage.UpdateOptions{TenantID: tenantID, ScopeTag: scope.Tag()})
	if err != nil {
		return nil, fmt.Errorf("update merged memory %s: %w", primary.ID, err)
	}
	updated.ContentHash = merged.ContentHash
	p.reindex(scope, primary.ID, updated)

	if secondary.ID != primary.ID {
		if err := p.Store.Delete(ctx, secondary.ID, &storage.DeleteOptions{TenantID: tenantID, ScopeTag: scope.Tag()}); err != nil {
			return nil, fmt.Errorf("delete merged-away memory %s: %w", secondary.ID, err)
		}
		_ = p.Hierarchy.DeleteMemory(scope, secondary.ID)
	}

	p.notifyWrite(scope.Tag())
	return updated, nil
}

func (p *Pipeline) delete(ctx context.Context, tenantID string, scope domain.MemoryScope, decision intelligence.DecisionResult) error {
	id := decision.Action.TargetID
	if id == "" {
		return nil
	}
	if err := p.Store.Delete(ctx, id, &storage.DeleteOptions{TenantID: tenantID, ScopeTag: scope.Tag()}); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	p.notifyWrite(scope.Tag())
	return p.Hierarchy.DeleteMemory(scope, id)
}

func (p *Pipeline) notifyWrite(scopeTag string) {
	if p.Cache != nil {
		p.Cache.NotifyWrite(scopeTag)
	}
}

// reindex keeps the hierarchy's scope bucket consistent after a storage-side
// mutation: the Manager exposes no in-place content update, so the stale
// entry is dropped and the fresh one re-added, matching how DeleteMemory and
// AddMemory are already composed elsewhere.
func (p *Pipeline) reindex(scope domain.MemoryScope, id string, mem *domain.Memory) {
	_ = p.Hierarchy.DeleteMemory(scope, id)
	// A re-add after a same-scope delete never grows the scope's count, so
	// the per-scope capacity check cannot reject it here.
	_ = p.Hierarchy.AddMemory(mem, hierarchy.DefaultPermissions())
}

func (p *Pipeline) concurrency() int {
	if p.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return p.Concurrency
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(content))))
	return hex.EncodeToString(sum[:])
}

func levelFor(fact domain.StructuredFact) domain.MemoryLevel {
	switch fact.Category {
	case domain.CategoryRelationship, domain.CategoryGoal:
		return domain.LevelStrategic
	case domain.CategoryPreference:
		return domain.LevelTactical
	case domain.CategoryEvent:
		return domain.LevelContextual
	default:
		return domain.LevelOperational
	}
}

// typeFor maps a fact's category onto the memory_type axis: procedural for
// skills/habits, episodic for time-anchored events/experiences, semantic for
// durable facts/knowledge/relationships, working for everything else
// (preferences, goals, in-flight intentions).
func typeFor(fact domain.StructuredFact) domain.MemoryType {
	switch fact.Category {
	case domain.CategorySkill:
		return domain.TypeProcedural
	case domain.CategoryEvent, domain.CategoryExperience:
		return domain.TypeEpisodic
	case domain.CategoryKnowledge, domain.CategoryFact, domain.CategoryRelationship,
		domain.CategoryPersonal, domain.CategoryProfessional, domain.CategoryFinancial,
		domain.CategoryLocation:
		return domain.TypeSemantic
	default:
		return domain.TypeWorking
	}
}

func factMetadata(fact domain.StructuredFact) map[string]interface{} {
	meta := map[string]interface{}{
		"category": string(fact.Category),
	}
	if fact.Temporal != nil {
		meta["temporal_expression"] = fact.Temporal.Expression
	}
	if len(fact.Entities) > 0 {
		meta["entities"] = fact.Entities
	}
	if len(fact.SourceMessageIDs) > 0 {
		meta["source_message_ids"] = fact.SourceMessageIDs
	}
	return meta
}
