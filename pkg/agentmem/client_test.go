package agentmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmem/agentmem/pkg/agentmem"
	"github.com/agentmem/agentmem/pkg/config"
	"github.com/agentmem/agentmem/pkg/coreblocks"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/retrieval"
	"github.com/agentmem/agentmem/pkg/tenant"
)

func testConfig() *config.Config {
	return &config.Config{
		LLM:         config.LLMConfig{Provider: "openai", APIKey: "test-key", Model: "gpt-4o-mini"},
		Embedder:    config.EmbedderConfig{Provider: "openai", APIKey: "test-key", Model: "text-embedding-3-small"},
		VectorStore: config.VectorStoreConfig{Provider: "memory"},
		Tenant:      config.DefaultTenantDefaults(),
		Lifecycle:   config.DefaultLifecyclePolicy(),
		Retrieval:   config.DefaultRetrievalConfig(),
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := agentmem.New(&config.Config{})
	assert.Error(t, err, "a config missing required providers must fail validation")
}

func TestNewRejectsUnknownVectorStoreProvider(t *testing.T) {
	cfg := testConfig()
	cfg.VectorStore.Provider = "not-a-real-backend"
	_, err := agentmem.New(cfg)
	assert.Error(t, err)
}

func TestNewBuildsClientWithInMemoryStore(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()
}

func TestListIsEmptyAfterRegisterTenant(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.RegisterTenant(tenant.NewConfig("acme", "Acme Corp")))

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	// List doesn't authorize (it reads the in-memory hierarchy index
	// directly), so it must return an empty, non-nil result for a freshly
	// registered tenant with no memories yet.
	assert.Empty(t, client.List(scope))
}

func TestSearchRejectsUnregisteredTenant(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	defer client.Close()

	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}
	_, err = client.Search(context.Background(), "unregistered", scope, retrieval.SearchQuery{Text: "anything"})
	assert.Error(t, err, "operations against an unregistered tenant must be rejected by the Tenant Plane")
}

func TestCoreBlockLifecycleThroughClient(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	block, err := client.CoreBlockCreate(ctx, "agent-1", coreblocks.KindPersona, "helpful and concise")
	require.NoError(t, err)
	assert.Equal(t, "helpful and concise", block.Content)

	got, ok := client.CoreBlockGet("agent-1", coreblocks.KindPersona)
	require.True(t, ok)
	assert.Equal(t, "helpful and concise", got.Content)

	appended, err := client.CoreBlockAppend(ctx, "agent-1", coreblocks.KindPersona, "also terse")
	require.NoError(t, err)
	assert.Contains(t, appended.Content, "also terse")

	updated, err := client.CoreBlockUpdate(ctx, "agent-1", coreblocks.KindPersona, "replaced entirely")
	require.NoError(t, err)
	assert.Equal(t, "replaced entirely", updated.Content)

	require.NoError(t, client.CoreBlockDelete("agent-1", coreblocks.KindPersona))
	_, ok = client.CoreBlockGet("agent-1", coreblocks.KindPersona)
	assert.False(t, ok)
}

func TestGetStatsForFreshTenant(t *testing.T) {
	client, err := agentmem.New(testConfig())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.RegisterTenant(tenant.NewConfig("acme", "Acme Corp")))
	scope := domain.UserScope{AgentID: "assistant", UserID: "u1"}

	scopeStats, usage := client.GetStats("acme", scope)
	assert.Equal(t, 0, scopeStats.Count)
	assert.Equal(t, 0, usage.MemoryCount)
}
