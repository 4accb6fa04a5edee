package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentmem/agentmem/pkg/config"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/lifecycle"
)

func TestRetentionHalvesAtHalfLife(t *testing.T) {
	policy := config.LifecyclePolicy{HalfLifeHours: 24, ReinforcementFactor: 0.3}
	mgr := lifecycle.New(policy, lifecycle.StrategyLRU)

	created := time.Now().Add(-24 * time.Hour)
	mem := &domain.Memory{CreatedAt: created}

	assert.InDelta(t, 0.5, mgr.Retention(mem), 0.01, "retention must halve after one half-life of inactivity")
}

func TestRetentionUsesLastAccessedWhenSet(t *testing.T) {
	policy := config.LifecyclePolicy{HalfLifeHours: 24, ReinforcementFactor: 0.3}
	mgr := lifecycle.New(policy, lifecycle.StrategyLRU)

	longAgo := time.Now().Add(-30 * 24 * time.Hour)
	recent := time.Now()
	mem := &domain.Memory{CreatedAt: longAgo, LastAccessedAt: &recent}

	assert.InDelta(t, 1.0, mgr.Retention(mem), 0.01, "a just-accessed memory retains near-full strength regardless of age")
}

func TestReinforceMonotonicallyApproachesOne(t *testing.T) {
	policy := config.LifecyclePolicy{HalfLifeHours: 24, ReinforcementFactor: 0.3}
	mgr := lifecycle.New(policy, lifecycle.StrategyLRU)

	r := 0.2
	for i := 0; i < 10; i++ {
		next := mgr.Reinforce(r)
		assert.Greater(t, next, r, "each reinforcement must strictly increase retention below 1")
		assert.LessOrEqual(t, next, 1.0)
		r = next
	}
}

func TestDecideDeletesLowImportanceLowAccess(t *testing.T) {
	policy := config.DefaultLifecyclePolicy()
	mgr := lifecycle.New(policy, lifecycle.StrategyHybrid)

	mem := &domain.Memory{
		CreatedAt:   time.Now(),
		Importance:  0.1,
		AccessCount: 0,
		Content:     "short",
	}
	assert.Equal(t, lifecycle.ActionDelete, mgr.Decide(mem))
}

func TestDecideArchivesOldMemory(t *testing.T) {
	policy := config.DefaultLifecyclePolicy()
	mgr := lifecycle.New(policy, lifecycle.StrategyHybrid)

	mem := &domain.Memory{
		CreatedAt:   time.Now().Add(-10 * 24 * time.Hour),
		Importance:  0.8,
		AccessCount: 5,
		Content:     "important fact that should not be deleted",
	}
	assert.Equal(t, lifecycle.ActionArchive, mgr.Decide(mem))
}

func TestDecideCompressesOversizedContent(t *testing.T) {
	policy := config.DefaultLifecyclePolicy()
	mgr := lifecycle.New(policy, lifecycle.StrategyHybrid)

	now := time.Now()
	mem := &domain.Memory{
		CreatedAt:      now,
		LastAccessedAt: &now,
		Importance:     0.9,
		AccessCount:    10,
		Content:        string(make([]byte, lifecycle.DefaultMaxMemorySize+1)),
	}
	assert.Equal(t, lifecycle.ActionCompress, mgr.Decide(mem))
}

func TestDecideKeepsFreshImportantMemory(t *testing.T) {
	policy := config.DefaultLifecyclePolicy()
	mgr := lifecycle.New(policy, lifecycle.StrategyHybrid)

	now := time.Now()
	mem := &domain.Memory{
		CreatedAt:      now,
		LastAccessedAt: &now,
		Importance:     0.9,
		AccessCount:    10,
		Content:        "recently accessed, important, short",
	}
	assert.Equal(t, lifecycle.ActionKeep, mgr.Decide(mem))
}

func TestCompressPreservesHeadAndTail(t *testing.T) {
	mem := &domain.Memory{Content: longContent(), Metadata: map[string]interface{}{}}

	cp := lifecycle.Compress(mem)
	assert.Contains(t, cp.Content, lifecycle.CompressMarker)
	assert.Less(t, len(cp.Content), len(mem.Content))
	assert.Equal(t, len(mem.Content), cp.Metadata["original_size"])
	assert.NotContains(t, mem.Content, lifecycle.CompressMarker, "Compress must not mutate the original memory")
}

func longContent() string {
	s := ""
	line := "this is a line of sample memory content used to exceed the compression threshold. "
	for len(s) <= lifecycle.DefaultMaxMemorySize+500 {
		s += line
	}
	return s
}

func TestEvictForCapacityReturnsLowestScoring(t *testing.T) {
	policy := config.DefaultLifecyclePolicy()
	mgr := lifecycle.New(policy, lifecycle.StrategyImportanceBased)

	low := &domain.Memory{ID: "low", Importance: 0.1}
	mid := &domain.Memory{ID: "mid", Importance: 0.5}
	high := &domain.Memory{ID: "high", Importance: 0.9}

	evicted := mgr.EvictForCapacity([]*domain.Memory{high, mid, low}, 2)
	assert.Len(t, evicted, 2)
	assert.Equal(t, "low", evicted[0].ID)
	assert.Equal(t, "mid", evicted[1].ID)
}

func TestEvictForCapacityClampsToLength(t *testing.T) {
	policy := config.DefaultLifecyclePolicy()
	mgr := lifecycle.New(policy, lifecycle.StrategyLRU)

	candidates := []*domain.Memory{{ID: "a"}, {ID: "b"}}
	evicted := mgr.EvictForCapacity(candidates, 10)
	assert.Len(t, evicted, 2)
}

func TestEvictForCapacityZeroReturnsNil(t *testing.T) {
	policy := config.DefaultLifecyclePolicy()
	mgr := lifecycle.New(policy, lifecycle.StrategyLRU)
	assert.Nil(t, mgr.EvictForCapacity([]*domain.Memory{{ID: "a"}}, 0))
}
