package synthesis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/synthesis"
)

func TestSynthesizeEmptyInputReturnsEmptySummary(t *testing.T) {
	s := synthesis.New()
	result, err := s.Synthesize(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, result.SynthesizedMemories)
	assert.Empty(t, result.DetectedConflicts)
	assert.NotEmpty(t, result.Summary)
}

func TestSynthesizeSmallGroupAggregatesDirectly(t *testing.T) {
	s := synthesis.New()
	now := time.Now()
	memories := []*domain.Memory{
		{ID: "1", Content: "User likes coffee", Importance: 0.8, Score: 0.9, Level: domain.LevelTactical, CreatedAt: now},
		{ID: "2", Content: "User works as an engineer", Importance: 0.6, Score: 0.7, Level: domain.LevelOperational, CreatedAt: now},
	}

	result, err := s.Synthesize(context.Background(), "tell me about the user", memories)
	require.NoError(t, err)
	require.Len(t, result.SynthesizedMemories, 1)
	assert.Equal(t, synthesis.KindAggregation, result.SynthesizedMemories[0].Kind)
	assert.ElementsMatch(t, []string{"1", "2"}, result.SynthesizedMemories[0].SourceMemoryIDs)
}

func TestSynthesizeRelevanceRankingFollowsScore(t *testing.T) {
	s := synthesis.New()
	now := time.Now()
	memories := []*domain.Memory{
		{ID: "low", Content: "a fact", Score: 0.2, CreatedAt: now},
		{ID: "high", Content: "a more relevant fact", Score: 0.9, CreatedAt: now},
	}

	result, err := s.Synthesize(context.Background(), "q", memories)
	require.NoError(t, err)
	require.Len(t, result.RelevanceRanking, 2)
	assert.Equal(t, "high", result.RelevanceRanking[0])
	assert.Equal(t, "low", result.RelevanceRanking[1])
}

func TestSynthesizeGroupsLargeSetByTopic(t *testing.T) {
	s := synthesis.New()
	now := time.Now()
	var memories []*domain.Memory
	for i := 0; i < 4; i++ {
		memories = append(memories, &domain.Memory{
			ID: fmtID("strategic", i), Content: fmtID("strategic content", i),
			Importance: 0.7, Score: 0.5, Level: domain.LevelStrategic, CreatedAt: now,
		})
	}
	for i := 0; i < 3; i++ {
		memories = append(memories, &domain.Memory{
			ID: fmtID("operational", i), Content: fmtID("operational content", i),
			Importance: 0.4, Score: 0.4, Level: domain.LevelOperational, CreatedAt: now,
		})
	}

	result, err := s.Synthesize(context.Background(), "q", memories)
	require.NoError(t, err)
	assert.Len(t, result.SynthesizedMemories, 2, "a set above MaxAggregateGroup must be split into one group per topic")
	for _, sm := range result.SynthesizedMemories {
		assert.Equal(t, synthesis.KindTopicFusion, sm.Kind)
	}
}

func fmtID(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}

func TestSynthesizeDetectsConflictingMemories(t *testing.T) {
	s := synthesis.New()
	now := time.Now()
	memories := []*domain.Memory{
		{ID: "1", Content: "User lives in New York", Score: 0.9, CreatedAt: now, UpdatedAt: now},
		{ID: "2", Content: "User lives in Boston", Score: 0.85, CreatedAt: now.Add(time.Hour), UpdatedAt: now.Add(time.Hour)},
	}

	result, err := s.Synthesize(context.Background(), "where does the user live", memories)
	require.NoError(t, err)
	assert.Len(t, result.DetectedConflicts, 1)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
}
