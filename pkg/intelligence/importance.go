package intelligence

import (
	"context"

	"github.com/agentmem/agentmem/pkg/domain"
)

// Weights holds the five tenant-configurable factor weights the Importance
// Evaluator combines; they must sum to 1.0.
type Weights struct {
	Confidence    float64
	CategoryPrior float64
	Novelty       float64
	Recency       float64
	EntityDensity float64
}

// DefaultWeights weights confidence highest and novelty second, spread
// across the five named importance factors.
func DefaultWeights() Weights {
	return Weights{
		Confidence:    0.3,
		CategoryPrior: 0.2,
		Novelty:       0.25,
		Recency:       0.15,
		EntityDensity: 0.1,
	}
}

// Sum returns the total of all five weights, used to validate configuration.
func (w Weights) Sum() float64 {
	return w.Confidence + w.CategoryPrior + w.Novelty + w.Recency + w.EntityDensity
}

// categoryPrior ranks fact categories by durability: more durable personal/
// relationship facts outrank transient ones.
var categoryPrior = map[domain.FactCategory]float64{
	domain.CategoryRelationship: 1.0,
	domain.CategoryPersonal:     0.9,
	domain.CategoryGoal:         0.85,
	domain.CategoryPreference:   0.7,
	domain.CategoryFact:         0.6,
	domain.CategoryEvent:        0.5,
	domain.CategoryOther:        0.3,
}

// Evaluation is the structured output of the Importance Evaluator.
type Evaluation struct {
	Score        float64
	Factors      map[string]float64
	Confidence   float64
	Explanations []string
}

// ImportanceEvaluator computes an Evaluation for a StructuredFact
// against the memories already accessible in its target scope, combining a
// five-factor weighted, monotone model instead of a single keyword
// heuristic.
type ImportanceEvaluator struct {
	weights  Weights
	searcher EmbeddingSearcher
}

// NewImportanceEvaluator builds an evaluator with the default weights.
// searcher may be nil, in which case novelty always scores 1.0 (nothing to
// compare against).
func NewImportanceEvaluator(searcher EmbeddingSearcher) *ImportanceEvaluator {
	return &ImportanceEvaluator{weights: DefaultWeights(), searcher: searcher}
}

// WithWeights overrides the factor weights as given. It does not check that
// Sum() == 1.0, and nothing else in the module (config.Validate included)
// checks it either.
func (e *ImportanceEvaluator) WithWeights(w Weights) *ImportanceEvaluator {
	e.weights = w
	return e
}

// Evaluate scores fact given its embedding and the scope it would land in.
func (e *ImportanceEvaluator) Evaluate(ctx context.Context, fact domain.StructuredFact, embedding []float32, scopeTag string) Evaluation {
	factors := map[string]float64{
		"confidence":     fact.Confidence,
		"category_prior": priorFor(fact.Category),
		"novelty":        e.novelty(ctx, embedding, scopeTag),
		"recency":        recencyBonus(fact),
		"entity_density": entityDensity(fact),
	}

	w := e.weights
	score := factors["confidence"]*w.Confidence +
		factors["category_prior"]*w.CategoryPrior +
		factors["novelty"]*w.Novelty +
		factors["recency"]*w.Recency +
		factors["entity_density"]*w.EntityDensity

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	return Evaluation{
		Score:      score,
		Factors:    factors,
		Confidence: fact.Confidence,
		Explanations: explain(factors),
	}
}

func priorFor(cat domain.FactCategory) float64 {
	if p, ok := categoryPrior[cat]; ok {
		return p
	}
	return categoryPrior[domain.CategoryOther]
}

// novelty is the inverse of the highest cosine similarity against existing
// memories in scope: a fact identical to something already stored has
// novelty 0, a wholly new fact has novelty close to 1.
func (e *ImportanceEvaluator) novelty(ctx context.Context, embedding []float32, scopeTag string) float64 {
	if e.searcher == nil || len(embedding) == 0 {
		return 1.0
	}
	similar, err := e.searcher.SearchSimilar(ctx, embedding, scopeTag, 1)
	if err != nil || len(similar) == 0 {
		return 1.0
	}
	maxSim := similar[0].Score
	novelty := 1 - maxSim
	if novelty < 0 {
		novelty = 0
	}
	if novelty > 1 {
		novelty = 1
	}
	return novelty
}

func recencyBonus(fact domain.StructuredFact) float64 {
	if fact.Temporal == nil || fact.Temporal.Expression == "" {
		return 0
	}
	return 1.0
}

func entityDensity(fact domain.StructuredFact) float64 {
	n := len(fact.Entities)
	if n == 0 {
		return 0
	}
	// Normalize against a saturation point of 5 entities; beyond that,
	// extra entities stop adding marginal importance.
	d := float64(n) / 5.0
	if d > 1 {
		d = 1
	}
	return d
}

func explain(factors map[string]float64) []string {
	explanations := make([]string, 0, 5)
	for _, name := range []string{"confidence", "category_prior", "novelty", "recency", "entity_density"} {
		explanations = append(explanations, name)
	}
	return explanations
}
