// Package synthesis implements the Context Synthesizer (C10): given a set of
// retrieved memories and the original query, it groups, aggregates or
// conflict-resolves them into a compact SynthesisResult, never mutating
// underlying storage. Implements a ContextSynthesizer design
// (group-by-topic, aggregate-or-resolve, confidence penalty per conflict),
// reusing pkg/conflict at a lower detection threshold
// instead of reimplementing similarity scoring.
package synthesis

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentmem/agentmem/pkg/conflict"
	"github.com/agentmem/agentmem/pkg/domain"
)

// ConflictDetectionThreshold is the Jaccard similarity gate the synthesizer
// uses for its own conflict pass, lower than the Conflict Resolver's
// ingestion-time default (0.7) since retrieved sets are already narrowed by
// the Retrieval Engine and near-matches are worth surfacing even when not
// similar enough to flag during ingestion.
const ConflictDetectionThreshold = 0.5

// MaxAggregateGroup is the largest group of memories aggregated directly by
// concatenation before the synthesizer instead groups by topic, mirroring
// the original's max_synthesis_memories default of 5.
const MaxAggregateGroup = 5

// SynthesisKind classifies how one SynthesizedMemory was produced.
type SynthesisKind string

const (
	KindAggregation        SynthesisKind = "aggregation"
	KindTopicFusion         SynthesisKind = "topic_fusion"
	KindConflictResolution  SynthesisKind = "conflict_resolution"
)

// SynthesizedMemory is one entry of a SynthesisResult: either an
// aggregation/topic-fusion of several source memories, or the outcome of
// resolving a detected conflict among them.
type SynthesizedMemory struct {
	SourceMemoryIDs []string
	Content         string
	Confidence      float64
	Kind            SynthesisKind
	Topic           string
}

// SynthesisResult is the Context Synthesizer's output for one Synthesize
// call.
type SynthesisResult struct {
	SynthesizedMemories []SynthesizedMemory
	DetectedConflicts   []*domain.MemoryConflict
	Summary             string
	Confidence          float64
	RelevanceRanking    []string // memory IDs, most relevant first
}

// Synthesizer implements a five-step synthesis algorithm over an
// already-fused, already-scored memory set (C9's output).
type Synthesizer struct {
	resolver  *conflict.Resolver
	threshold float64
}

// New builds a Synthesizer with its own lower-threshold conflict detector.
func New() *Synthesizer {
	return &Synthesizer{
		resolver:  &conflict.Resolver{DetectionThreshold: ConflictDetectionThreshold},
		threshold: ConflictDetectionThreshold,
	}
}

// Synthesize runs the five steps over memories (already relevance-
// ranked by score, descending, from the Retrieval Engine): group by topic,
// detect conflicts, aggregate-or-resolve per group, and compute overall
// confidence. It never mutates memories or any backing store.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, memories []*domain.Memory) (*SynthesisResult, error) {
	if len(memories) == 0 {
		return &SynthesisResult{Summary: "no memories to synthesize"}, nil
	}

	ranking := rankByRelevance(memories)
	conflicts := s.detectConflicts(memories)

	var synthesized []SynthesizedMemory
	if len(memories) <= MaxAggregateGroup {
		synthesized = append(synthesized, aggregate(memories, ""))
	} else {
		for _, group := range groupByTopic(memories) {
			synthesized = append(synthesized, aggregate(group.memories, group.topic))
		}
	}
	for _, c := range conflicts {
		if resolved := s.resolveForSynthesis(c, memories); resolved != nil {
			synthesized = append(synthesized, *resolved)
		}
	}

	confidence := overallConfidence(synthesized, conflicts)

	return &SynthesisResult{
		SynthesizedMemories: synthesized,
		DetectedConflicts:   conflicts,
		Summary:             summarize(synthesized, conflicts),
		Confidence:          confidence,
		RelevanceRanking:    ranking,
	}, nil
}

func rankByRelevance(memories []*domain.Memory) []string {
	ranked := make([]*domain.Memory, len(memories))
	copy(ranked, memories)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	ids := make([]string, len(ranked))
	for i, m := range ranked {
		ids[i] = m.ID
	}
	return ids
}

// detectConflicts reuses the Conflict Resolver's pairwise classification at
// the synthesizer's own (lower) threshold over the whole retrieved set.
func (s *Synthesizer) detectConflicts(memories []*domain.Memory) []*domain.MemoryConflict {
	var conflicts []*domain.MemoryConflict
	for i, m := range memories {
		found := s.resolver.Detect(m, memories[i+1:])
		conflicts = append(conflicts, found...)
	}
	return conflicts
}

type topicGroup struct {
	topic    string
	memories []*domain.Memory
}

// groupByTopic buckets memories by MemoryLevel, the coarse topic key the
// spec prescribes in the absence of a dedicated topic field.
func groupByTopic(memories []*domain.Memory) []topicGroup {
	order := []string{}
	buckets := map[string][]*domain.Memory{}
	for _, m := range memories {
		topic := string(m.Level)
		if _, ok := buckets[topic]; !ok {
			order = append(order, topic)
		}
		buckets[topic] = append(buckets[topic], m)
	}
	groups := make([]topicGroup, 0, len(order))
	for _, topic := range order {
		groups = append(groups, topicGroup{topic: topic, memories: buckets[topic]})
	}
	return groups
}

func aggregate(memories []*domain.Memory, topic string) SynthesizedMemory {
	ids := make([]string, 0, len(memories))
	content := ""
	var totalScore float64
	for i, m := range memories {
		ids = append(ids, m.ID)
		if i > 0 {
			content += "\n\n"
		}
		content += m.Content
		totalScore += m.Importance
	}
	kind := KindAggregation
	if topic != "" {
		kind = KindTopicFusion
		content = fmt.Sprintf("[%s]\n\n%s", topic, content)
	}
	return SynthesizedMemory{
		SourceMemoryIDs: ids,
		Content:         content,
		Confidence:      totalScore / float64(len(memories)),
		Kind:            kind,
		Topic:           topic,
	}
}

// resolveForSynthesis applies the conflict's suggested resolution against
// the two memories it names, producing a synthesized entry (or nil for
// MarkConflict/ManualResolution, which surface the conflict without
// collapsing it).
func (s *Synthesizer) resolveForSynthesis(c *domain.MemoryConflict, memories []*domain.Memory) *SynthesizedMemory {
	if len(c.MemoryIDs) < 2 {
		return nil
	}
	a := findByID(memories, c.MemoryIDs[0])
	b := findByID(memories, c.MemoryIDs[1])
	if a == nil || b == nil {
		return nil
	}

	strategy := conflict.ResolutionStrategy(c.SuggestedResolution)
	winner := s.resolver.Resolve(strategy, a, b)
	if winner == nil {
		return nil
	}

	return &SynthesizedMemory{
		SourceMemoryIDs: []string{a.ID, b.ID},
		Content:         winner.Content,
		Confidence:      winner.Importance,
		Kind:            KindConflictResolution,
	}
}

func findByID(memories []*domain.Memory, id string) *domain.Memory {
	for _, m := range memories {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// overallConfidence is the mean synthesis confidence minus 0.1 per detected
// conflict, clamped to [0,1].
func overallConfidence(synthesized []SynthesizedMemory, conflicts []*domain.MemoryConflict) float64 {
	if len(synthesized) == 0 {
		return 0
	}
	var sum float64
	for _, s := range synthesized {
		sum += s.Confidence
	}
	mean := sum / float64(len(synthesized))
	mean -= 0.1 * float64(len(conflicts))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

func summarize(synthesized []SynthesizedMemory, conflicts []*domain.MemoryConflict) string {
	return fmt.Sprintf("synthesized %d memor%s from %d source%s, %d conflict%s detected",
		len(synthesized), plural(len(synthesized), "y", "ies"),
		totalSources(synthesized), plural(totalSources(synthesized), "", "s"),
		len(conflicts), plural(len(conflicts), "", "s"))
}

func totalSources(synthesized []SynthesizedMemory) int {
	seen := map[string]bool{}
	for _, s := range synthesized {
		for _, id := range s.SourceMemoryIDs {
			seen[id] = true
		}
	}
	return len(seen)
}

func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}
