// Package agentmem is the module's main entry point: it wires the Storage
// Abstraction (C1), Hierarchy Manager (C2), Tenant Plane (C3), Fact
// Extractor (C4), Importance Evaluator (C5), Conflict Resolver (C6),
// Decision Engine (C7), Ingestion Pipeline (C8), Retrieval Engine (C9),
// Context Synthesizer (C10), Adaptive Lifecycle (C11) and Core Memory
// Blocks (C12) behind one Client, using the same
// New/initStorage/initLLM/initEmbedder factory-switch idiom
// throughout.
package agentmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/coreblocks"
	"github.com/agentmem/agentmem/pkg/config"
	"github.com/agentmem/agentmem/pkg/conflict"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/embedder"
	openaiEmbedder "github.com/agentmem/agentmem/pkg/embedder/openai"
	qwenEmbedder "github.com/agentmem/agentmem/pkg/embedder/qwen"
	"github.com/agentmem/agentmem/pkg/hierarchy"
	"github.com/agentmem/agentmem/pkg/ingestion"
	"github.com/agentmem/agentmem/pkg/intelligence"
	"github.com/agentmem/agentmem/pkg/lifecycle"
	"github.com/agentmem/agentmem/pkg/llm"
	anthropicLLM "github.com/agentmem/agentmem/pkg/llm/anthropic"
	deepseekLLM "github.com/agentmem/agentmem/pkg/llm/deepseek"
	ollamaLLM "github.com/agentmem/agentmem/pkg/llm/ollama"
	openaiLLM "github.com/agentmem/agentmem/pkg/llm/openai"
	qwenLLM "github.com/agentmem/agentmem/pkg/llm/qwen"
	"github.com/agentmem/agentmem/pkg/llmretry"
	"github.com/agentmem/agentmem/pkg/retrieval"
	"github.com/agentmem/agentmem/pkg/storage"
	"github.com/agentmem/agentmem/pkg/storage/memadapter"
	"github.com/agentmem/agentmem/pkg/storage/oceanbaseadapter"
	"github.com/agentmem/agentmem/pkg/storage/postgresadapter"
	"github.com/agentmem/agentmem/pkg/storage/sqliteadapter"
	"github.com/agentmem/agentmem/pkg/synthesis"
	"github.com/agentmem/agentmem/pkg/tenant"
	"github.com/agentmem/agentmem/pkg/user_memory/query_rewrite"
)

// Client is the main AgentMem client. It is safe for concurrent use; its
// single RWMutex guards the component wiring rather than individual
// storage calls (every component below already does its own locking).
type Client struct {
	config *config.Config

	store    storage.VectorStore
	llm      llm.Provider
	embedder embedder.Provider

	plane      *tenant.Plane
	hierarchy  *hierarchy.Manager
	pipeline   *ingestion.Pipeline
	retriever  *retrieval.Engine
	synthesizer *synthesis.Synthesizer
	lifecycle  *lifecycle.Manager
	blocks     *coreblocks.Manager

	mu sync.RWMutex
}

// New builds a Client wiring every component behind cfg via the
// initStorage/initLLM/initEmbedder factory trio below.
func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := initStorage(cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	llmProvider, err := initLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}
	embedderProvider, err := initEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	llmProvider = llmretry.NewLLM(llmProvider, llmretry.DefaultPolicy())
	embedderProvider = llmretry.NewEmbedder(embedderProvider, llmretry.DefaultPolicy())

	plane, err := tenant.NewPlane()
	if err != nil {
		return nil, agmerr.New("agentmem.New", agmerr.KindInternal, err)
	}

	hm, err := hierarchy.New(0)
	if err != nil {
		return nil, agmerr.New("agentmem.New", agmerr.KindInternal, err)
	}
	hm.WithMaxPerScope(cfg.Ingestion.MaxMemoriesPerScope)

	extractor := intelligence.NewFactExtractor(llmProvider).WithCategoryValidation(cfg.Ingestion.EnableFactValidation)
	importance := intelligence.NewImportanceEvaluator(storage.SimilarSearcher{Store: store})
	resolver := conflict.New()
	if cfg.Ingestion.ConflictDetectionThreshold > 0 {
		resolver.DetectionThreshold = cfg.Ingestion.ConflictDetectionThreshold
	}
	if cfg.Ingestion.DefaultConflictResolution != "" {
		resolver.DefaultResolution = conflict.ResolutionStrategy(cfg.Ingestion.DefaultConflictResolution)
	}
	decisions := intelligence.NewDecisionEngine()

	retriever := retrieval.New(store, embedderProvider, cfg.Retrieval)
	retriever.WithRewriter(query_rewrite.NewQueryRewriter(llmProvider, &query_rewrite.Config{Enabled: true}))

	pipeline := ingestion.New(store, hm, embedderProvider, extractor, importance, resolver, decisions)
	pipeline.Cache = retriever
	pipeline.Concurrency = cfg.Ingestion.ParallelThreads
	pipeline.EnableFactMerging = cfg.Ingestion.EnableFactMerging
	pipeline.ProcessingTimeout = time.Duration(cfg.Ingestion.ProcessingTimeoutSeconds) * time.Second
	pipeline.GlobalTimeout = time.Duration(cfg.Ingestion.GlobalTimeoutSeconds) * time.Second

	lifecycleMgr := lifecycle.New(cfg.Lifecycle, lifecycle.StrategyHybrid)
	blocksCapacity := cfg.CoreBlocks.Capacity
	if blocksCapacity <= 0 {
		blocksCapacity = coreblocks.DefaultCapacity
	}
	blocksMgr := coreblocks.New(blocksCapacity, llmProvider)
	blocksMgr.WithRewriteTuning(cfg.CoreBlocks.AutoRewriteThreshold, cfg.CoreBlocks.RewriteRetentionRatio)

	return &Client{
		config:      cfg,
		store:       store,
		llm:         llmProvider,
		embedder:    embedderProvider,
		plane:       plane,
		hierarchy:   hm,
		pipeline:    pipeline,
		retriever:   retriever,
		synthesizer: synthesis.New(),
		lifecycle:   lifecycleMgr,
		blocks:      blocksMgr,
	}, nil
}

// RegisterTenant adds or replaces a tenant's resource/security
// configuration. Every Add/Search/Get/Update/Delete call authorizes against
// the Tenant Plane first; List and Synthesize do not.
func (c *Client) RegisterTenant(cfg *tenant.Config) error {
	return c.plane.Register(cfg)
}

// Add ingests raw conversational content for tenantID/scope through the
// full Ingestion Pipeline (extract facts, evaluate importance, detect
// conflicts, decide and commit).
func (c *Client) Add(ctx context.Context, tenantID string, scope domain.MemoryScope, messages interface{}) (*ingestion.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.plane.Authorize(ctx, tenantID, tenant.OpWrite); err != nil {
		return nil, err
	}

	result, err := c.pipeline.Ingest(ctx, tenantID, scope, messages)
	if err != nil {
		return nil, agmerr.New("agentmem.Add", agmerr.KindInternal, err)
	}

	delta := 0
	for _, o := range result.Outcomes {
		if o.Memory != nil && o.Decision.Action.Kind == intelligence.ActionAdd {
			delta++
		}
	}
	if delta != 0 {
		c.plane.RecordUsage(tenantID, delta, 0)
	}
	return result, nil
}

// Search runs q against tenantID's memories accessible from scope through
// the Retrieval Engine (C9).
func (c *Client) Search(ctx context.Context, tenantID string, scope domain.MemoryScope, q retrieval.SearchQuery) ([]*domain.Memory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.plane.Authorize(ctx, tenantID, tenant.OpRead); err != nil {
		return nil, err
	}
	results, err := c.retriever.Search(ctx, tenantID, scope, q)
	if err != nil {
		return nil, err
	}
	c.recordAccess(ctx, tenantID, scope, results...)
	return results, nil
}

// Synthesize runs the Context Synthesizer (C10) over a set of already
// retrieved memories for query. Callers
// typically pass the result of a prior Search call.
func (c *Client) Synthesize(ctx context.Context, query string, memories []*domain.Memory) (*synthesis.SynthesisResult, error) {
	return c.synthesizer.Synthesize(ctx, query, memories)
}

// Get retrieves a single memory by id within tenantID/scope.
func (c *Client) Get(ctx context.Context, tenantID string, scope domain.MemoryScope, id string) (*domain.Memory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.plane.Authorize(ctx, tenantID, tenant.OpRead); err != nil {
		return nil, err
	}
	mem, err := c.store.Get(ctx, id, &storage.GetOptions{TenantID: tenantID, ScopeTag: scope.Tag()})
	if err != nil {
		return nil, err
	}
	c.recordAccess(ctx, tenantID, scope, mem)
	return mem, nil
}

// recordAccess bumps AccessCount/LastAccessedAt for every successfully read
// memory. Best-effort: a bookkeeping failure never fails the read that
// triggered it.
func (c *Client) recordAccess(ctx context.Context, tenantID string, scope domain.MemoryScope, mems ...*domain.Memory) {
	opts := &storage.GetOptions{TenantID: tenantID, ScopeTag: scope.Tag()}
	for _, mem := range mems {
		if mem == nil {
			continue
		}
		_ = c.store.RecordAccess(ctx, mem.ID, opts)
	}
}

// Update replaces a memory's content outright, bypassing the pipeline's
// decision stage (the caller already decided), re-embedding and reindexing
// it in the Hierarchy Manager.
func (c *Client) Update(ctx context.Context, tenantID string, scope domain.MemoryScope, id, content string) (*domain.Memory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.plane.Authorize(ctx, tenantID, tenant.OpWrite); err != nil {
		return nil, err
	}

	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, agmerr.New("agentmem.Update", agmerr.KindUpstreamUnavailable, err)
	}
	mem, err := c.store.Update(ctx, id, content, toFloat32(embedding), &storage.UpdateOptions{TenantID: tenantID, ScopeTag: scope.Tag()})
	if err != nil {
		return nil, agmerr.New("agentmem.Update", agmerr.KindInternal, err)
	}

	_ = c.hierarchy.DeleteMemory(scope, id)
	// A re-add after a same-scope delete never grows the scope's count, so
	// the per-scope capacity check cannot reject it here.
	_ = c.hierarchy.AddMemory(mem, hierarchy.DefaultPermissions())
	c.retriever.NotifyWrite(scope.Tag())

	return mem, nil
}

// Delete removes a memory by id from both the persistent store and the
// hierarchy index.
func (c *Client) Delete(ctx context.Context, tenantID string, scope domain.MemoryScope, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.plane.Authorize(ctx, tenantID, tenant.OpWrite); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, id, &storage.DeleteOptions{TenantID: tenantID, ScopeTag: scope.Tag()}); err != nil {
		return agmerr.New("agentmem.Delete", agmerr.KindInternal, err)
	}
	_ = c.hierarchy.DeleteMemory(scope, id)
	c.retriever.NotifyWrite(scope.Tag())
	c.plane.RecordUsage(tenantID, -1, 0)
	return nil
}

// List returns every memory accessible from scope (own plus inherited),
// via the Hierarchy Manager.
func (c *Client) List(scope domain.MemoryScope) []*domain.Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hierarchy.GetAccessibleMemories(scope)
}

// GetStats returns scope's own-memory statistics and the tenant's resource
// usage snapshot.
func (c *Client) GetStats(tenantID string, scope domain.MemoryScope) (hierarchy.ScopeStatistics, tenant.ResourceUsage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hierarchy.ScopeStats(scope), c.plane.Usage(tenantID)
}

// Sweep runs the Adaptive Lifecycle (C11) over candidates and applies each
// resulting action: compressing in place, or deleting/archiving through the
// Storage Abstraction and Hierarchy Manager. Returns the number of memories
// deleted, archived and compressed.
func (c *Client) Sweep(ctx context.Context, tenantID string, scope domain.MemoryScope, candidates []*domain.Memory) (deleted, archived, compressed int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, mem := range candidates {
		switch c.lifecycle.Decide(mem) {
		case lifecycle.ActionDelete:
			if dErr := c.store.Delete(ctx, mem.ID, &storage.DeleteOptions{TenantID: tenantID, ScopeTag: scope.Tag()}); dErr != nil {
				return deleted, archived, compressed, agmerr.New("agentmem.Sweep", agmerr.KindInternal, dErr)
			}
			_ = c.hierarchy.DeleteMemory(scope, mem.ID)
			deleted++
		case lifecycle.ActionArchive:
			mem.Archived = true
			if _, uErr := c.store.Update(ctx, mem.ID, mem.Content, mem.Embedding, &storage.UpdateOptions{TenantID: tenantID, ScopeTag: scope.Tag()}); uErr != nil {
				return deleted, archived, compressed, agmerr.New("agentmem.Sweep", agmerr.KindInternal, uErr)
			}
			archived++
		case lifecycle.ActionCompress:
			cp := lifecycle.Compress(mem)
			if _, uErr := c.store.Update(ctx, cp.ID, cp.Content, cp.Embedding, &storage.UpdateOptions{TenantID: tenantID, ScopeTag: scope.Tag()}); uErr != nil {
				return deleted, archived, compressed, agmerr.New("agentmem.Sweep", agmerr.KindInternal, uErr)
			}
			compressed++
		}
	}
	if deleted > 0 || archived > 0 {
		c.retriever.NotifyWrite(scope.Tag())
	}
	return deleted, archived, compressed, nil
}

// CoreBlockCreate creates agentID's Persona or Human block.
func (c *Client) CoreBlockCreate(ctx context.Context, agentID string, kind coreblocks.Kind, content string) (*coreblocks.Block, error) {
	return c.blocks.Create(ctx, agentID, kind, content)
}

// CoreBlockGet returns agentID's block of the given kind.
func (c *Client) CoreBlockGet(agentID string, kind coreblocks.Kind) (*coreblocks.Block, bool) {
	return c.blocks.Get(agentID, kind)
}

// CoreBlockAppend appends text to agentID's block of the given kind,
// auto-rewriting if the append brings it to capacity.
func (c *Client) CoreBlockAppend(ctx context.Context, agentID string, kind coreblocks.Kind, text string) (*coreblocks.Block, error) {
	return c.blocks.Append(ctx, agentID, kind, text)
}

// CoreBlockUpdate replaces agentID's block content outright.
func (c *Client) CoreBlockUpdate(ctx context.Context, agentID string, kind coreblocks.Kind, content string) (*coreblocks.Block, error) {
	return c.blocks.Update(ctx, agentID, kind, content)
}

// CoreBlockDelete removes agentID's block of the given kind.
func (c *Client) CoreBlockDelete(agentID string, kind coreblocks.Kind) error {
	return c.blocks.Delete(agentID, kind)
}

// Close releases every resource the client owns.
func (c *Client) Close() error {
	var errs []error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func initStorage(cfg config.VectorStoreConfig) (storage.VectorStore, error) {
	switch cfg.Provider {
	case "memory":
		return memadapter.New(), nil
	case "sqlite":
		dbPath, _ := cfg.Config["db_path"].(string)
		collection, _ := cfg.Config["collection_name"].(string)
		dims, _ := cfg.Config["embedding_model_dims"].(int)
		return sqliteadapter.NewClient(sqliteadapter.Config{
			DBPath:         dbPath,
			CollectionName: collection,
			Dimensions:     dims,
		})
	case "postgres":
		host, _ := cfg.Config["host"].(string)
		port, _ := cfg.Config["port"].(int)
		user, _ := cfg.Config["user"].(string)
		password, _ := cfg.Config["password"].(string)
		dbName, _ := cfg.Config["db_name"].(string)
		collection, _ := cfg.Config["collection_name"].(string)
		dims, _ := cfg.Config["embedding_model_dims"].(int)
		sslMode, _ := cfg.Config["ssl_mode"].(string)
		return postgresadapter.NewClient(&postgresadapter.Config{
			Host: host, Port: port, User: user, Password: password,
			DBName: dbName, CollectionName: collection, EmbeddingModelDims: dims,
			SSLMode: sslMode,
		})
	case "oceanbase":
		host, _ := cfg.Config["host"].(string)
		port, _ := cfg.Config["port"].(int)
		user, _ := cfg.Config["user"].(string)
		password, _ := cfg.Config["password"].(string)
		dbName, _ := cfg.Config["db_name"].(string)
		collection, _ := cfg.Config["collection_name"].(string)
		dims, _ := cfg.Config["embedding_model_dims"].(int)
		return oceanbaseadapter.NewClient(&oceanbaseadapter.Config{
			Host: host, Port: port, User: user, Password: password,
			DBName: dbName, CollectionName: collection, EmbeddingModelDims: dims,
		})
	default:
		return nil, agmerr.New("agentmem.initStorage", agmerr.KindInvalidInput, fmt.Errorf("unknown vector store provider %q", cfg.Provider))
	}
}

func initLLM(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiLLM.NewClient(&openaiLLM.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	case "qwen":
		return qwenLLM.NewClient(&qwenLLM.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	case "deepseek":
		return deepseekLLM.NewClient(&deepseekLLM.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	case "ollama":
		return ollamaLLM.NewClient(&ollamaLLM.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	case "anthropic":
		return anthropicLLM.NewClient(&anthropicLLM.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	default:
		return nil, agmerr.New("agentmem.initLLM", agmerr.KindInvalidInput, fmt.Errorf("unknown llm provider %q", cfg.Provider))
	}
}

func initEmbedder(cfg config.EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Dimensions: cfg.Dimensions})
	case "qwen":
		return qwenEmbedder.NewClient(&qwenEmbedder.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Dimensions: cfg.Dimensions})
	default:
		return nil, agmerr.New("agentmem.initEmbedder", agmerr.KindInvalidInput, fmt.Errorf("unknown embedder provider %q", cfg.Provider))
	}
}
