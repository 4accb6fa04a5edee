package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentmem/agentmem/pkg/conflict"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/llm"
)

// MinFactConfidence is the default floor below which an extracted fact is
// dropped rather than passed downstream to the Importance Evaluator.
const MinFactConfidence = 0.5

// NearDuplicateThreshold is the Jaccard similarity above which two facts
// extracted from the same batch are merged into one before being returned.
const NearDuplicateThreshold = 0.8

// FactExtractor extracts StructuredFacts from raw conversational content
// using an LLM, producing the richer structured shape the Ingestion
// Pipeline needs rather than a flat string summary.
type FactExtractor struct {
	llm              llm.Provider
	customPrompt     string
	minConfidence    float64
	dedupThreshold   float64
	validateCategory bool
}

// NewFactExtractor creates a FactExtractor with default thresholds and
// validation (confidence floor and category coercion) enabled.
func NewFactExtractor(provider llm.Provider) *FactExtractor {
	return &FactExtractor{
		llm:              provider,
		minConfidence:    MinFactConfidence,
		dedupThreshold:   NearDuplicateThreshold,
		validateCategory: true,
	}
}

// WithCustomPrompt overrides the default extraction prompt.
func (e *FactExtractor) WithCustomPrompt(prompt string) *FactExtractor {
	e.customPrompt = prompt
	return e
}

// WithCategoryValidation toggles post-parse validation: when enabled, facts
// below the minimum confidence are dropped and an unrecognized category
// string coerces to CategoryOther; when disabled, facts pass through with
// their confidence and category verbatim.
func (e *FactExtractor) WithCategoryValidation(enabled bool) *FactExtractor {
	e.validateCategory = enabled
	return e
}

// ExtractFacts extracts, filters and near-duplicate-merges StructuredFacts
// from messages (a string, a single message map, or a slice of message
// maps).
func (e *FactExtractor) ExtractFacts(ctx context.Context, messages interface{}) ([]domain.StructuredFact, error) {
	conversation := e.parseMessages(messages)

	llmMessages := []llm.Message{
		{Role: "system", Content: e.getSystemPrompt()},
		{Role: "user", Content: fmt.Sprintf("Input:\n%s", conversation)},
	}

	response, err := e.llm.GenerateWithMessages(ctx, llmMessages)
	if err != nil {
		return nil, fmt.Errorf("fact extraction failed: %w", err)
	}

	facts, err := e.parseFactsResponse(response)
	if err != nil {
		return nil, fmt.Errorf("parsing facts response: %w", err)
	}

	if e.validateCategory {
		facts = filterByConfidence(facts, e.minConfidence)
	}
	facts = mergeNearDuplicates(facts, e.dedupThreshold)
	return facts, nil
}

func filterByConfidence(facts []domain.StructuredFact, min float64) []domain.StructuredFact {
	out := make([]domain.StructuredFact, 0, len(facts))
	for _, f := range facts {
		if f.Confidence >= min {
			out = append(out, f)
		}
	}
	return out
}

// mergeNearDuplicates combines facts whose descriptions are near-identical
// (token Jaccard >= threshold), keeping the higher-confidence description
// and the union of entities/relations/source ids.
func mergeNearDuplicates(facts []domain.StructuredFact, threshold float64) []domain.StructuredFact {
	merged := make([]domain.StructuredFact, 0, len(facts))
	used := make([]bool, len(facts))
	for i := range facts {
		if used[i] {
			continue
		}
		cur := facts[i]
		for j := i + 1; j < len(facts); j++ {
			if used[j] {
				continue
			}
			if conflict.JaccardSimilarity(cur.Description, facts[j].Description) >= threshold {
				cur = mergeFacts(cur, facts[j])
				used[j] = true
			}
		}
		merged = append(merged, cur)
	}
	return merged
}

func mergeFacts(a, b domain.StructuredFact) domain.StructuredFact {
	winner := a
	if b.Confidence > a.Confidence {
		winner = b
	}
	winner.Entities = unionStrings(a.Entities, b.Entities)
	winner.Relations = unionStrings(a.Relations, b.Relations)
	winner.SourceMessageIDs = unionStrings(a.SourceMessageIDs, b.SourceMessageIDs)
	return winner
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (e *FactExtractor) parseMessages(messages interface{}) string {
	switch v := messages.(type) {
	case string:
		return v
	case []map[string]interface{}:
		var parts []string
		for _, msg := range v {
			role, _ := msg["role"].(string)
			content, _ := msg["content"].(string)
			if role != "" && content != "" && role != "system" {
				parts = append(parts, fmt.Sprintf("%s: %s", role, content))
			}
		}
		return strings.Join(parts, "\n")
	case map[string]interface{}:
		role, _ := v["role"].(string)
		content, _ := v["content"].(string)
		if role != "" && content != "" {
			return fmt.Sprintf("%s: %s", role, content)
		}
		return ""
	default:
		return fmt.Sprintf("%v", messages)
	}
}

func (e *FactExtractor) getSystemPrompt() string {
	if e.customPrompt != "" {
		return e.customPrompt
	}

	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You are a Personal Information Organizer. Extract relevant facts, memories, preferences, intentions, and needs from conversations into distinct, structured facts.

CRITICAL Rules:
1. TEMPORAL: ALWAYS extract time info (dates, relative refs like "yesterday", "last week") into the temporal_expression field.
2. COMPLETE: Extract self-contained facts with who/what/when/where when available.
3. SEPARATE: Extract distinct facts separately, especially when they have different time periods.
4. INTENTIONS & NEEDS: ALWAYS extract user intentions, needs, and requests even without time information.
5. CATEGORY: classify each fact as one of personal, professional, financial, preference, temporal, location, relationship, event, knowledge, skill, goal, experience, opinion, emotion, other.
6. CONFIDENCE: rate 0.0-1.0 how certain the fact is actually stated (not inferred).

Return JSON: {"facts": [{"description": "...", "category": "...", "entities": ["..."], "relations": ["..."], "temporal_expression": "", "confidence": 0.0}]}

Rules:
- Today: %s
- Extract from user/assistant messages only
- If no relevant facts, return {"facts": []}
- Preserve input language

Extract facts from the conversation below:`, today)
}

type rawFact struct {
	Description         string   `json:"description"`
	Category             string   `json:"category"`
	Entities             []string `json:"entities"`
	Relations            []string `json:"relations"`
	TemporalExpression   string   `json:"temporal_expression"`
	Confidence           float64  `json:"confidence"`
}

func (e *FactExtractor) parseFactsResponse(response string) ([]domain.StructuredFact, error) {
	response = e.removeCodeBlocks(response)

	var result struct {
		Facts []rawFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	facts := make([]domain.StructuredFact, 0, len(result.Facts))
	for _, rf := range result.Facts {
		if rf.Description == "" {
			continue
		}
		cat := domain.FactCategory(rf.Category)
		if e.validateCategory {
			switch cat {
			case domain.CategoryPersonal, domain.CategoryProfessional, domain.CategoryFinancial,
				domain.CategoryPreference, domain.CategoryTemporal, domain.CategoryLocation,
				domain.CategoryRelationship, domain.CategoryEvent, domain.CategoryKnowledge,
				domain.CategorySkill, domain.CategoryGoal, domain.CategoryExperience,
				domain.CategoryOpinion, domain.CategoryEmotion, domain.CategoryFact:
			default:
				cat = domain.CategoryOther
			}
		}
		sf := domain.StructuredFact{
			Description: rf.Description,
			Category:    cat,
			Entities:    rf.Entities,
			Relations:   rf.Relations,
			Confidence:  rf.Confidence,
		}
		if rf.TemporalExpression != "" {
			sf.Temporal = &domain.TemporalInfo{Expression: rf.TemporalExpression}
		}
		facts = append(facts, sf)
	}
	return facts, nil
}

func (e *FactExtractor) removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
