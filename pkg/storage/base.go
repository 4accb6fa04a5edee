// Package storage defines the Storage Abstraction (C1): a single contract
// every backend (in-memory, SQLite, PostgreSQL, OceanBase) implements, so
// every component above it (hierarchy, ingestion, retrieval, lifecycle)
// depends on the interface, not a concrete backend: string memory ids,
// scope-tag/tenant based filtering instead of UserID/AgentID, dimension
// validation, batch operations and health/stat reporting.
package storage

import (
	"context"

	"github.com/agentmem/agentmem/pkg/domain"
)

// VectorStore is the capability every storage backend exposes.
type VectorStore interface {
	Insert(ctx context.Context, mem *domain.Memory) error
	InsertBatch(ctx context.Context, mems []*domain.Memory) error

	Search(ctx context.Context, embedding []float32, opts *SearchOptions) ([]*domain.Memory, error)

	Get(ctx context.Context, id string, opts *GetOptions) (*domain.Memory, error)
	Update(ctx context.Context, id string, content string, embedding []float32, opts *UpdateOptions) (*domain.Memory, error)
	Delete(ctx context.Context, id string, opts *DeleteOptions) error

	// RecordAccess bumps a memory's access bookkeeping (AccessCount,
	// LastAccessedAt) without touching its content or Version. Callers on a
	// read path use this instead of Update, which would bump Version.
	RecordAccess(ctx context.Context, id string, opts *GetOptions) error

	GetAll(ctx context.Context, opts *GetAllOptions) ([]*domain.Memory, error)
	DeleteAll(ctx context.Context, opts *DeleteAllOptions) error
	CountVectors(ctx context.Context, scopeTag string) (int, error)
	Clear(ctx context.Context, tenantID string) error

	HealthCheck(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)

	Close() error
	CreateIndex(ctx context.Context, config *VectorIndexConfig) error
}

// Stats summarizes a backend's current population.
type Stats struct {
	TotalMemories int
	TotalBytes    int64
}

// VectorIndexType names the kind of vector index a backend may build.
type VectorIndexType string

const (
	IndexTypeHNSW    VectorIndexType = "HNSW"
	IndexTypeIVFFlat VectorIndexType = "IVF_FLAT"
	IndexTypeIVFPQ   VectorIndexType = "IVF_PQ"
)

// MetricType names a distance metric used for similarity scoring.
type MetricType string

const (
	MetricCosine MetricType = "cosine"
	MetricL2     MetricType = "l2"
	MetricIP     MetricType = "ip"
)

// HNSWParams configures an HNSW index.
type HNSWParams struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// IVFParams configures an IVF index.
type IVFParams struct {
	Nlist  int
	Nprobe int
}

// VectorIndexConfig describes an index to create.
type VectorIndexConfig struct {
	IndexName   string
	TableName   string
	VectorField string
	IndexType   VectorIndexType
	MetricType  MetricType
	HNSWParams  *HNSWParams
	IVFParams   *IVFParams
}

// SearchOptions controls a Search call.
type SearchOptions struct {
	TenantID string
	ScopeTag string

	Limit     int
	Threshold float64

	// Query is the raw query text; when set, backends that support it
	// perform a full-text/hybrid search alongside the vector search.
	Query string

	Filters map[string]interface{}
}

// GetOptions restricts Get to a tenant/scope.
type GetOptions struct {
	TenantID string
	ScopeTag string
}

// UpdateOptions restricts Update to a tenant/scope.
type UpdateOptions struct {
	TenantID string
	ScopeTag string
}

// DeleteOptions restricts Delete to a tenant/scope.
type DeleteOptions struct {
	TenantID string
	ScopeTag string
}

// GetAllOptions controls GetAll.
type GetAllOptions struct {
	TenantID string
	ScopeTag string
	Limit    int
	Offset   int
}

// DeleteAllOptions controls DeleteAll.
type DeleteAllOptions struct {
	TenantID string
	ScopeTag string
}
