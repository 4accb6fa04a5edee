package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/agentmem/agentmem/pkg/domain"
)

// DefaultDetectionThreshold is the token-Jaccard gate below which two
// memories are never considered for conflict classification.
const DefaultDetectionThreshold = 0.7

// DuplicateThreshold is the similarity above which a candidate is classified
// as a duplicate rather than some other conflict kind.
const DuplicateThreshold = 0.95

// ResolutionStrategy is one of the caller-selectable (or suggested) ways to
// reconcile a MemoryConflict.
type ResolutionStrategy string

const (
	KeepLatest         ResolutionStrategy = "keep_latest"
	KeepMostRelevant   ResolutionStrategy = "keep_most_relevant"
	KeepHighestConfidence ResolutionStrategy = "keep_highest_confidence"
	MergeStrategy      ResolutionStrategy = "merge"
	MarkConflict       ResolutionStrategy = "mark_conflict"
	ManualResolution   ResolutionStrategy = "manual_resolution"
)

// Resolver detects and resolves conflicts between a candidate memory and a
// set of existing memories in the same accessible scope.
type Resolver struct {
	DetectionThreshold float64
	// DefaultResolution is suggested for conflict kinds with no specific
	// rule (everything but Duplicate/Temporal/ContentContradiction below).
	// Empty means MarkConflict.
	DefaultResolution ResolutionStrategy
}

// New returns a Resolver using the default detection threshold and
// MarkConflict as the fallback suggestion.
func New() *Resolver {
	return &Resolver{DetectionThreshold: DefaultDetectionThreshold, DefaultResolution: MarkConflict}
}

// Detect compares candidate against each of existing and returns the
// conflicts found, one per existing memory whose Jaccard similarity clears
// the detection threshold.
func (r *Resolver) Detect(candidate *domain.Memory, existing []*domain.Memory) []*domain.MemoryConflict {
	var conflicts []*domain.MemoryConflict
	for _, e := range existing {
		sim := JaccardSimilarity(candidate.Content, e.Content)
		if sim < r.DetectionThreshold {
			continue
		}
		kind, severity := r.classify(candidate, e, sim)
		conflicts = append(conflicts, &domain.MemoryConflict{
			ID:                  fmt.Sprintf("conflict-%s-%s", candidate.ID, e.ID),
			MemoryIDs:           []string{candidate.ID, e.ID},
			Kind:                kind,
			Severity:            severity,
			SuggestedResolution: string(r.suggest(kind, candidate, e)),
			Status:              domain.ConflictStatusOpen,
			DetectedAt:          time.Now(),
		})
	}
	return conflicts
}

func (r *Resolver) classify(a, b *domain.Memory, sim float64) (domain.ConflictKind, domain.ConflictSeverity) {
	switch {
	case temporalContradiction(a, b):
		return domain.ConflictTemporal, domain.SeverityMedium
	case opposingPolarity(a.Content, b.Content):
		return domain.ConflictContentContradiction, domain.SeverityHigh
	case sim >= DuplicateThreshold:
		return domain.ConflictDuplicate, domain.SeverityLow
	default:
		return domain.ConflictFactualInconsistency, domain.SeverityMedium
	}
}

func temporalContradiction(a, b *domain.Memory) bool {
	at, aok := a.Metadata["temporal_expression"]
	bt, bok := b.Metadata["temporal_expression"]
	return aok && bok && at != bt
}

var negationWords = []string{"not", "no longer", "never", "stopped", "isn't", "doesn't"}

// opposingPolarity is a coarse heuristic: one statement carries a negation
// marker absent from the other while sharing most of its vocabulary --
// classic "X likes Y" vs "X no longer likes Y" shape.
func opposingPolarity(a, b string) bool {
	aHas, bHas := false, false
	for _, w := range negationWords {
		if contains(a, w) {
			aHas = true
		}
		if contains(b, w) {
			bHas = true
		}
	}
	return aHas != bHas
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if equalFold(s[i:i+len(sub)], sub) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (r *Resolver) suggest(kind domain.ConflictKind, a, b *domain.Memory) ResolutionStrategy {
	switch kind {
	case domain.ConflictDuplicate:
		return MergeStrategy
	case domain.ConflictTemporal:
		return KeepLatest
	case domain.ConflictContentContradiction:
		return KeepMostRelevant
	default:
		if r.DefaultResolution != "" {
			return r.DefaultResolution
		}
		return MarkConflict
	}
}

// Resolve applies strategy to the two memories named by the conflict and
// returns the winning (or synthesized) memory. MarkConflict and
// ManualResolution return nil since they do not produce a single winner.
func (r *Resolver) Resolve(strategy ResolutionStrategy, a, b *domain.Memory) *domain.Memory {
	switch strategy {
	case KeepLatest:
		if a.CreatedAt.After(b.CreatedAt) {
			return a
		}
		return b
	case KeepMostRelevant:
		if a.Score >= b.Score {
			return a
		}
		return b
	case KeepHighestConfidence:
		if a.Importance >= b.Importance {
			return a
		}
		return b
	case MergeStrategy:
		return merge(a, b)
	default:
		return nil
	}
}

func merge(a, b *domain.Memory) *domain.Memory {
	winner := *a
	winner.Content = fmt.Sprintf("%s\n[merged with %s]: %s", a.Content, b.ID, b.Content)
	winner.Embedding = AverageEmbeddings(a.Embedding, b.Embedding)
	if b.Importance > winner.Importance {
		winner.Importance = b.Importance
	}
	if b.Version > winner.Version {
		winner.Version = b.Version
	}
	winner.Version++
	winner.UpdatedAt = time.Now()
	return &winner
}

// SortBySeverity orders conflicts most-severe first, a convenience for
// callers surfacing a bounded list to a caller via ManualResolution.
func SortBySeverity(conflicts []*domain.MemoryConflict) {
	rank := map[domain.ConflictSeverity]int{
		domain.SeverityCritical: 0,
		domain.SeverityHigh:     1,
		domain.SeverityMedium:   2,
		domain.SeverityLow:      3,
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		return rank[conflicts[i].Severity] < rank[conflicts[j].Severity]
	})
}
