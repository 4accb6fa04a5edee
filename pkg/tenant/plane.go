package tenant

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/agentmem/agentmem/pkg/agmerr"
)

// BillingSink receives billing-relevant events; a concrete sink (invoicing,
// metering export) is outside this module's scope, matching the Non-goal on
// concrete telemetry backends.
type BillingSink interface {
	RecordEvent(ctx context.Context, event BillingEvent)
}

// BillingEvent is one billable occurrence, sequenced with a snowflake id so
// consumers can order events within a tight time window without a central
// counter.
type BillingEvent struct {
	SeqID    int64
	TenantID string
	Kind     string
	Units    int64
}

// NopBillingSink drops every event; used when no sink is configured.
type NopBillingSink struct{}

func (NopBillingSink) RecordEvent(context.Context, BillingEvent) {}

// Operation identifies the kind of call a caller is attempting, for
// resource-limit accounting.
type Operation string

const (
	OpWrite  Operation = "write"
	OpRead   Operation = "read"
	OpBatch  Operation = "batch"
)

// Authorization is the result of a successful Plane.Authorize call.
type Authorization struct {
	TenantID      string
	PartitionKey  string
	Warning       string
}

// Plane is the multi-tenant resource plane: it owns every tenant's Config,
// tracks ResourceUsage, and gates operations through the IsolationEngine.
// Its single RWMutex guards the whole registry rather than per-tenant
// fields, the same coarse-lock-first approach used elsewhere in this
// codebase before splitting hot paths out.
type Plane struct {
	mu       sync.RWMutex
	tenants  map[string]*Config
	usage    map[string]*ResourceUsage
	isolation *IsolationEngine
	billing  BillingSink
	seq      *snowflake.Node
}

// NewPlane builds a Plane with the stock isolation engine and no billing
// sink.
func NewPlane() (*Plane, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("tenant: init sequence node: %w", err)
	}
	return &Plane{
		tenants:   map[string]*Config{},
		usage:     map[string]*ResourceUsage{},
		isolation: NewIsolationEngine(),
		billing:   NopBillingSink{},
		seq:       node,
	}, nil
}

// WithBillingSink replaces the plane's billing sink.
func (p *Plane) WithBillingSink(sink BillingSink) *Plane {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.billing = sink
	return p
}

// Register adds or replaces a tenant's configuration.
func (p *Plane) Register(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return agmerr.New("tenant.Register", agmerr.KindInvalidInput, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants[cfg.TenantID] = cfg
	if _, ok := p.usage[cfg.TenantID]; !ok {
		p.usage[cfg.TenantID] = &ResourceUsage{}
	}
	return nil
}

// Get returns a tenant's config.
func (p *Plane) Get(tenantID string) (*Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.tenants[tenantID]
	if !ok {
		return nil, agmerr.New("tenant.Get", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return cfg, nil
}

// Authorize checks that tenantID exists, is active, and is within its
// resource limits for op, returning the partition key the caller should use
// for storage. agentmem.Client calls it on Add, Search, Get, Update and
// Delete; List and Synthesize do not pass through it.
func (p *Plane) Authorize(ctx context.Context, tenantID string, op Operation) (*Authorization, error) {
	p.mu.RLock()
	cfg, ok := p.tenants[tenantID]
	if !ok {
		p.mu.RUnlock()
		return nil, agmerr.New("tenant.Authorize", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if !cfg.Active {
		p.mu.RUnlock()
		return nil, agmerr.New("tenant.Authorize", agmerr.KindPermissionDenied, fmt.Errorf("tenant %s is not active", tenantID))
	}
	usage := p.usage[tenantID]
	p.mu.RUnlock()

	warning, err := p.isolation.CheckResourceLimits(*usage, cfg.ResourceLimits)
	if err != nil {
		return nil, agmerr.New("tenant.Authorize", agmerr.KindResourceExhausted, err)
	}

	p.billing.RecordEvent(ctx, BillingEvent{SeqID: p.seq.Generate().Int64(), TenantID: tenantID, Kind: string(op), Units: 1})

	return &Authorization{
		TenantID:     tenantID,
		PartitionKey: p.isolation.PartitionKey(tenantID),
		Warning:      warning,
	}, nil
}

// RecordUsage updates a tenant's tracked memory count / storage bytes delta
// after a write commits.
func (p *Plane) RecordUsage(tenantID string, memoryDelta int, storageBytesDelta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.usage[tenantID]
	if !ok {
		u = &ResourceUsage{}
		p.usage[tenantID] = u
	}
	u.MemoryCount += memoryDelta
	u.StorageBytes += storageBytesDelta
	if u.MemoryCount < 0 {
		u.MemoryCount = 0
	}
	if u.StorageBytes < 0 {
		u.StorageBytes = 0
	}
}

// Usage returns a tenant's current resource usage snapshot.
func (p *Plane) Usage(tenantID string) ResourceUsage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if u, ok := p.usage[tenantID]; ok {
		return *u
	}
	return ResourceUsage{}
}
