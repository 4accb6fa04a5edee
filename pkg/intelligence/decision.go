package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentmem/agentmem/pkg/conflict"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/llm"
)

// ActionKind is the closed set of actions the Decision Engine may recommend
// for a single fact.
type ActionKind string

const (
	ActionAdd    ActionKind = "add"
	ActionUpdate ActionKind = "update"
	ActionMerge  ActionKind = "merge"
	ActionDelete ActionKind = "delete"
	ActionNoOp   ActionKind = "no_op"
)

// DefaultMinCommitImportance is the floor below which a fact is dropped
// (NoOp) rather than committed, per spec rule 4.
const DefaultMinCommitImportance = 0.3

// RecommendedAction is one entry of a DecisionResult: what to do with a
// single candidate fact.
type RecommendedAction struct {
	Kind       ActionKind
	TargetID   string   // set for Update
	MergeIDs   []string // set for Merge
	Rationale  string
}

// DecisionResult is the Decision Engine's output for one candidate fact.
type DecisionResult struct {
	Action     RecommendedAction
	Confidence float64
}

// Candidate bundles everything Decide needs about one fact: its content,
// importance score, best-matching existing memory (if any), and any
// detected conflicts.
type Candidate struct {
	Fact           domain.StructuredFact
	Importance     float64
	BestMatch      *domain.Memory // nil if nothing matched
	BestSimilarity float64
	Conflicts      []*domain.MemoryConflict
}

// DecisionEngine implements a deterministic, rule-ordered set of decision
// rules in place of a purely LLM-driven decision path. An LLMAssistedDecider
// may still be used to synthesize
// merge text.
type DecisionEngine struct {
	MinCommitImportance float64
}

// NewDecisionEngine returns an engine using the default commit-importance
// floor.
func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{MinCommitImportance: DefaultMinCommitImportance}
}

// Decide applies five ordered rules to c, first match wins:
//  1. similarity > 0.9 and no contradictions -> NoOp
//  2. similarity in (0.7, 0.9] and higher importance -> Update
//  3. a detected conflict suggests Merge -> Merge
//  4. importance below the commit floor -> NoOp
//  5. otherwise -> Add
func (d *DecisionEngine) Decide(c Candidate) DecisionResult {
	hasContradiction := false
	var mergeConflict *domain.MemoryConflict
	for _, conf := range c.Conflicts {
		if conf.Kind == domain.ConflictContentContradiction || conf.Kind == domain.ConflictFactualInconsistency {
			hasContradiction = true
		}
		if conf.SuggestedResolution == string(conflict.MergeStrategy) && mergeConflict == nil {
			mergeConflict = conf
		}
	}

	switch {
	case c.BestMatch != nil && c.BestSimilarity > 0.9 && !hasContradiction:
		return DecisionResult{
			Action:     RecommendedAction{Kind: ActionNoOp, TargetID: c.BestMatch.ID, Rationale: "near-exact match with no contradictions"},
			Confidence: c.BestSimilarity,
		}
	case c.BestMatch != nil && c.BestSimilarity > 0.7 && c.BestSimilarity <= 0.9 && c.Importance > c.BestMatch.Importance:
		return DecisionResult{
			Action:     RecommendedAction{Kind: ActionUpdate, TargetID: c.BestMatch.ID, Rationale: "similar match superseded by higher-importance fact"},
			Confidence: c.BestSimilarity,
		}
	case mergeConflict != nil:
		return DecisionResult{
			Action:     RecommendedAction{Kind: ActionMerge, MergeIDs: mergeConflict.MemoryIDs, Rationale: "conflict resolver suggested merge"},
			Confidence: 1 - float64(severityRank(mergeConflict.Severity))*0.1,
		}
	case c.Importance < d.minCommitImportance():
		return DecisionResult{
			Action:     RecommendedAction{Kind: ActionNoOp, Rationale: "importance below commit threshold"},
			Confidence: 1 - c.Importance,
		}
	default:
		return DecisionResult{
			Action:     RecommendedAction{Kind: ActionAdd, Rationale: "novel fact"},
			Confidence: c.Importance,
		}
	}
}

func (d *DecisionEngine) minCommitImportance() float64 {
	if d.MinCommitImportance <= 0 {
		return DefaultMinCommitImportance
	}
	return d.MinCommitImportance
}

func severityRank(s domain.ConflictSeverity) int {
	switch s {
	case domain.SeverityCritical:
		return 0
	case domain.SeverityHigh:
		return 1
	case domain.SeverityMedium:
		return 2
	default:
		return 3
	}
}

// RankActions returns the indices of candidates in priority order: higher
// importance first; ties broken by the more recently created of the two
// best-matching memories, if both candidates matched one; remaining ties
// keep their original (stable) input order.
func RankActions(candidates []Candidate) []int {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := candidates[order[i]], candidates[order[j]]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.BestMatch != nil && b.BestMatch != nil && !a.BestMatch.CreatedAt.Equal(b.BestMatch.CreatedAt) {
			return a.BestMatch.CreatedAt.After(b.BestMatch.CreatedAt)
		}
		return false
	})
	return order
}

// --- LLM-assisted merge-text synthesis (optional) ---

// LLMAssistedDecider generates human-readable merge text for an
// ActionMerge recommendation. It never overrides the rule-based action
// itself.
type LLMAssistedDecider struct {
	llm llm.Provider
}

// NewLLMAssistedDecider wraps provider for merge-text synthesis.
func NewLLMAssistedDecider(provider llm.Provider) *LLMAssistedDecider {
	return &LLMAssistedDecider{llm: provider}
}

// SynthesizeMergeText asks the LLM to produce a single consolidated memory
// text from two conflicting contents.
func (d *LLMAssistedDecider) SynthesizeMergeText(ctx context.Context, a, b string) (string, error) {
	prompt := fmt.Sprintf(`You are a Personal Information Organizer. Merge these two memory texts into one
self-contained, non-redundant memory that preserves all distinct information and
time references from both:

Memory A: %s
Memory B: %s

Return JSON: {"merged": "..."}`, a, b)

	response, err := d.llm.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("merge synthesis failed: %w", err)
	}

	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	response = strings.TrimSpace(response)

	var result struct {
		Merged string `json:"merged"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return response, nil
	}
	return result.Merged, nil
}
