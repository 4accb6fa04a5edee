package tenant_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmem/agentmem/pkg/tenant"
)

func TestTenantBasedPartitioningNamesByTenant(t *testing.T) {
	p := tenant.TenantBasedPartitioning{}
	assert.Equal(t, "tenant_acme", p.PartitionKey("acme"))
	assert.Equal(t, "tenant_globex", p.PartitionKey("globex"))
}

func TestHashBasedPartitioningIsStableAndBounded(t *testing.T) {
	p := tenant.HashBasedPartitioning{Partitions: 4}
	key := p.PartitionKey("acme")
	assert.Equal(t, key, p.PartitionKey("acme"), "same tenant must always land on the same partition")

	seen := map[string]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		seen[p.PartitionKey(id)] = true
	}
	for k := range seen {
		assert.Contains(t, []string{"partition_0", "partition_1", "partition_2", "partition_3"}, k)
	}
}

func TestHashBasedPartitioningZeroPartitionsFallsBackToOne(t *testing.T) {
	p := tenant.HashBasedPartitioning{}
	assert.Equal(t, "partition_0", p.PartitionKey("acme"))
}

func TestConsistentHashPartitioningPicksFromRing(t *testing.T) {
	ring := []string{"node_a", "node_b", "node_c"}
	p := tenant.ConsistentHashPartitioning{Ring: ring}

	key := p.PartitionKey("acme")
	assert.Contains(t, ring, key)
	assert.Equal(t, key, p.PartitionKey("acme"), "same tenant must always land on the same ring member")
}

func TestConsistentHashPartitioningEmptyRingReturnsDefault(t *testing.T) {
	p := tenant.ConsistentHashPartitioning{}
	assert.Equal(t, "default", p.PartitionKey("acme"))
}

func TestIsolationEnginePartitionKeyDelegatesToStrategy(t *testing.T) {
	engine := &tenant.IsolationEngine{Partitioning: tenant.TenantBasedPartitioning{}}
	assert.Equal(t, "tenant_acme", engine.PartitionKey("acme"))
}

func TestNewIsolationEngineDefaultsToTenantBasedHardLimits(t *testing.T) {
	engine := tenant.NewIsolationEngine()
	assert.Equal(t, tenant.HardLimits, engine.ResourceIsolation)
	assert.Equal(t, "tenant_acme", engine.PartitionKey("acme"))
}

func TestCheckResourceLimitsSoftLimitsWarnsButNeverErrors(t *testing.T) {
	engine := &tenant.IsolationEngine{ResourceIsolation: tenant.SoftLimits}
	limits := tenant.ResourceLimits{MaxMemories: 100, MaxStorageBytes: 1000}

	warning, err := engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 150, StorageBytes: 1}, limits)
	assert.NoError(t, err)
	assert.Contains(t, warning, "memory count 150 exceeds limit 100")

	warning, err = engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 50, StorageBytes: 1}, limits)
	assert.NoError(t, err)
	assert.Empty(t, warning)
}

func TestCheckResourceLimitsHardLimitsRejectsAtOrOverMemoryCount(t *testing.T) {
	engine := &tenant.IsolationEngine{ResourceIsolation: tenant.HardLimits}
	limits := tenant.ResourceLimits{MaxMemories: 100, MaxStorageBytes: 1_000_000}

	_, err := engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 100, StorageBytes: 0}, limits)
	assert.Error(t, err)

	_, err = engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 99, StorageBytes: 0}, limits)
	assert.NoError(t, err)
}

func TestCheckResourceLimitsHardLimitsRejectsAtOrOverStorage(t *testing.T) {
	engine := &tenant.IsolationEngine{ResourceIsolation: tenant.HardLimits}
	limits := tenant.ResourceLimits{MaxMemories: 100, MaxStorageBytes: 1000}

	_, err := engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 0, StorageBytes: 1000}, limits)
	assert.Error(t, err)
}

func TestCheckResourceLimitsDynamicLimitsScalesDownBeforeEnforcing(t *testing.T) {
	engine := &tenant.IsolationEngine{ResourceIsolation: tenant.DynamicLimits, LoadFactor: 0.5}
	limits := tenant.ResourceLimits{MaxMemories: 100, MaxStorageBytes: 1_000_000}

	// 60 is under the nominal 100 limit but over the load-adjusted 50.
	_, err := engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 60, StorageBytes: 0}, limits)
	assert.Error(t, err, "dynamic limits must enforce against the load-adjusted ceiling, not the nominal one")

	_, err = engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 40, StorageBytes: 0}, limits)
	assert.NoError(t, err)
}

func TestCheckResourceLimitsDynamicLimitsZeroLoadFactorKeepsNominal(t *testing.T) {
	engine := &tenant.IsolationEngine{ResourceIsolation: tenant.DynamicLimits, LoadFactor: 0}
	limits := tenant.ResourceLimits{MaxMemories: 100, MaxStorageBytes: 1_000_000}

	_, err := engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 99, StorageBytes: 0}, limits)
	assert.NoError(t, err)

	_, err = engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 100, StorageBytes: 0}, limits)
	assert.Error(t, err)
}

func TestCheckResourceLimitsUnknownStrategyNeverErrors(t *testing.T) {
	engine := &tenant.IsolationEngine{ResourceIsolation: tenant.ResourceIsolationStrategy("unknown")}
	_, err := engine.CheckResourceLimits(tenant.ResourceUsage{MemoryCount: 1_000_000}, tenant.ResourceLimits{MaxMemories: 1})
	assert.NoError(t, err)
}
