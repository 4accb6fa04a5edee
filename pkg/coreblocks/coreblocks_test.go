package coreblocks_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmem/agentmem/pkg/coreblocks"
)

func TestCreateAndGet(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	ctx := context.Background()

	b, err := mgr.Create(ctx, "agent-1", coreblocks.KindPersona, "helpful assistant")
	require.NoError(t, err)
	assert.Equal(t, "helpful assistant", b.Content)

	got, ok := mgr.Get("agent-1", coreblocks.KindPersona)
	require.True(t, ok)
	assert.Equal(t, b.Content, got.Content)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "agent-1", coreblocks.KindHuman, "first")
	require.NoError(t, err)

	_, err = mgr.Create(ctx, "agent-1", coreblocks.KindHuman, "second")
	assert.Error(t, err, "creating a block that already exists must fail")
}

func TestGetMissingReturnsFalse(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	_, ok := mgr.Get("nobody", coreblocks.KindPersona)
	assert.False(t, ok)
}

func TestAppendGrowsContent(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "agent-1", coreblocks.KindPersona, "line one")
	require.NoError(t, err)

	b, err := mgr.Append(ctx, "agent-1", coreblocks.KindPersona, "line two")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", b.Content)
}

func TestAppendMissingBlockFails(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	ctx := context.Background()
	_, err := mgr.Append(ctx, "agent-1", coreblocks.KindPersona, "text")
	assert.Error(t, err)
}

func TestUpdateReplacesContent(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "agent-1", coreblocks.KindHuman, "old")
	require.NoError(t, err)

	b, err := mgr.Update(ctx, "agent-1", coreblocks.KindHuman, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", b.Content)
}

func TestDeleteRemovesBlock(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "agent-1", coreblocks.KindPersona, "content")
	require.NoError(t, err)

	require.NoError(t, mgr.Delete("agent-1", coreblocks.KindPersona))
	_, ok := mgr.Get("agent-1", coreblocks.KindPersona)
	assert.False(t, ok)
}

func TestDeleteMissingFails(t *testing.T) {
	mgr := coreblocks.New(0, nil)
	assert.Error(t, mgr.Delete("agent-1", coreblocks.KindPersona))
}

func TestAppendTriggersAutoRewriteWithoutLLM(t *testing.T) {
	capacity := 200
	mgr := coreblocks.New(capacity, nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "agent-1", coreblocks.KindPersona, strings.Repeat("a", capacity/2))
	require.NoError(t, err)

	var last *coreblocks.Block
	for i := 0; i < 10; i++ {
		last, err = mgr.Append(ctx, "agent-1", coreblocks.KindPersona, strings.Repeat("b", 20))
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(last.Content), capacity, "block must never exceed capacity after settling")
	assert.Greater(t, last.Rewrites, 0, "overflowing content must trigger at least one auto-rewrite")
	assert.Contains(t, last.Content, coreblocks.RewriteMarker)
}

func TestCreateRewritesContentThatAlreadyOverflows(t *testing.T) {
	capacity := 100
	mgr := coreblocks.New(capacity, nil)
	ctx := context.Background()

	b, err := mgr.Create(ctx, "agent-1", coreblocks.KindPersona, strings.Repeat("x", capacity*2))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(b.Content), capacity)
	assert.Equal(t, 1, b.Rewrites)
}

func TestImportanceTaggerInfluencesHeuristicCondense(t *testing.T) {
	capacity := 120
	mgr := coreblocks.New(capacity, nil).WithImportanceTagger(func(line string) float64 {
		if strings.Contains(line, "KEEP") {
			return 1000
		}
		return 1
	})
	ctx := context.Background()

	content := "KEEP this critical line\n" + strings.Repeat("filler filler filler\n", 8)
	b, err := mgr.Create(ctx, "agent-1", coreblocks.KindPersona, content)
	require.NoError(t, err)
	assert.Contains(t, b.Content, "KEEP", "the tagged high-importance line must survive condensation")
}
