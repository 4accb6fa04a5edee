package hierarchy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/hierarchy"
)

func TestScopeCanAccess(t *testing.T) {
	global := domain.GlobalScope{}
	agent := domain.AgentScope{AgentID: "a1"}
	user := domain.UserScope{AgentID: "a1", UserID: "u1"}
	session := domain.SessionScope{AgentID: "a1", UserID: "u1", SessionID: "s1"}

	assert.True(t, session.CanAccess(global), "session can see global memories")
	assert.True(t, session.CanAccess(agent), "session can see its agent's memories")
	assert.True(t, session.CanAccess(user), "session can see its user's memories")
	assert.True(t, session.CanAccess(session), "session can see its own memories")

	assert.False(t, global.CanAccess(agent), "global cannot see agent-scoped memories")
	assert.False(t, agent.CanAccess(user), "agent cannot see descendant user memories")

	otherUser := domain.UserScope{AgentID: "a1", UserID: "u2"}
	assert.False(t, user.CanAccess(otherUser), "sibling user scopes are isolated")
}

func TestMemoryInheritanceDecay(t *testing.T) {
	mgr, err := hierarchy.New(0)
	require.NoError(t, err)
	mgr.WithDecayFactor(0.8)

	agentScope := domain.AgentScope{AgentID: "agent-1"}
	mem := &domain.Memory{
		ID:    "m1",
		Scope: agentScope,
		Level: domain.LevelStrategic,
		Content: "team prefers Go",
		Importance: 0.8,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	mgr.AddMemory(mem, hierarchy.DefaultPermissions())

	sessionScope := domain.SessionScope{AgentID: "agent-1", UserID: "user-1", SessionID: "sess-1"}
	inherited := mgr.GetInheritedMemories(sessionScope)

	require.Len(t, inherited, 1)
	// agent -> user is level 1, user -> session querying from session means
	// level counts hops from session to agent: session->user (1) ->agent (2).
	assert.InDelta(t, 0.8*0.8*0.8, inherited[0].Importance, 0.001)
}

func TestDeleteMemoryRespectsPermissions(t *testing.T) {
	mgr, err := hierarchy.New(0)
	require.NoError(t, err)

	scope := domain.AgentScope{AgentID: "a1"}
	mem := &domain.Memory{ID: "m1", Scope: scope}
	mgr.AddMemory(mem, hierarchy.Permissions{Writable: true, Deletable: false})

	err = mgr.DeleteMemory(scope, "m1")
	assert.Error(t, err, "non-deletable memory must reject delete")
}

func TestScopeStatsMinImportanceNotClampedToZero(t *testing.T) {
	mgr, err := hierarchy.New(0)
	require.NoError(t, err)

	scope := domain.AgentScope{AgentID: "a1"}
	mgr.AddMemory(&domain.Memory{ID: "m1", Scope: scope, Importance: 0.6}, hierarchy.DefaultPermissions())
	mgr.AddMemory(&domain.Memory{ID: "m2", Scope: scope, Importance: 0.9}, hierarchy.DefaultPermissions())

	stats := mgr.ScopeStats(scope)
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 0.6, stats.MinImportance, 0.0001, "min importance must reflect the true minimum, not a zero default")
	assert.InDelta(t, 0.9, stats.MaxImportance, 0.0001)
}
