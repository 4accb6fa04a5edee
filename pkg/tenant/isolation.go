package tenant

import (
	"fmt"
	"hash/fnv"
)

// PartitioningStrategy derives the physical partition/collection key a
// tenant's data lives under.
type PartitioningStrategy interface {
	PartitionKey(tenantID string) string
}

// TenantBasedPartitioning gives every tenant its own partition, named after
// its id. This is the default, matching the original's default strategy.
type TenantBasedPartitioning struct{}

func (TenantBasedPartitioning) PartitionKey(tenantID string) string {
	return fmt.Sprintf("tenant_%s", tenantID)
}

// HashBasedPartitioning buckets tenants across a fixed number of partitions
// by hashing their id, trading per-tenant isolation for fewer physical
// partitions.
type HashBasedPartitioning struct {
	Partitions uint32
}

func (h HashBasedPartitioning) PartitionKey(tenantID string) string {
	f := fnv.New32a()
	_, _ = f.Write([]byte(tenantID))
	n := h.Partitions
	if n == 0 {
		n = 1
	}
	return fmt.Sprintf("partition_%d", f.Sum32()%n)
}

// ConsistentHashPartitioning assigns a tenant to one of a fixed ring of
// named partitions by FNV hash modulo the ring length. This is not a
// consistent-hash ring: changing the number of ring members can move most
// tenants to a different partition.
type ConsistentHashPartitioning struct {
	Ring []string
}

func (c ConsistentHashPartitioning) PartitionKey(tenantID string) string {
	if len(c.Ring) == 0 {
		return "default"
	}
	f := fnv.New32a()
	_, _ = f.Write([]byte(tenantID))
	return c.Ring[int(f.Sum32())%len(c.Ring)]
}

// ResourceIsolationStrategy decides how strictly ResourceLimits are
// enforced.
type ResourceIsolationStrategy string

const (
	// SoftLimits only warns when a tenant exceeds its limits.
	SoftLimits ResourceIsolationStrategy = "soft_limits"
	// HardLimits rejects operations once a limit is reached.
	HardLimits ResourceIsolationStrategy = "hard_limits"
	// DynamicLimits scales limits down under system load before enforcing
	// them as hard limits.
	DynamicLimits ResourceIsolationStrategy = "dynamic_limits"
)

// ResourceUsage is a tenant's current consumption, compared against
// ResourceLimits by the IsolationEngine.
type ResourceUsage struct {
	MemoryCount  int
	StorageBytes int64
}

// IsolationEngine applies a PartitioningStrategy and a
// ResourceIsolationStrategy uniformly across tenants.
type IsolationEngine struct {
	Partitioning      PartitioningStrategy
	ResourceIsolation ResourceIsolationStrategy
	// LoadFactor scales limits down under DynamicLimits, e.g. 0.8 means
	// "operate at 80% of nominal capacity".
	LoadFactor float64
}

// NewIsolationEngine returns an engine using the original's defaults:
// tenant-based partitioning and hard resource limits.
func NewIsolationEngine() *IsolationEngine {
	return &IsolationEngine{
		Partitioning:      TenantBasedPartitioning{},
		ResourceIsolation: HardLimits,
		LoadFactor:        0.8,
	}
}

// PartitionKey returns the physical partition key for tenantID.
func (e *IsolationEngine) PartitionKey(tenantID string) string {
	return e.Partitioning.PartitionKey(tenantID)
}

// CheckResourceLimits validates usage against limits per the configured
// isolation strategy, returning an error only when HardLimits/DynamicLimits
// are violated. SoftLimits never errors; callers should log the returned
// warning instead.
func (e *IsolationEngine) CheckResourceLimits(usage ResourceUsage, limits ResourceLimits) (warning string, err error) {
	switch e.ResourceIsolation {
	case SoftLimits:
		if usage.MemoryCount > limits.MaxMemories {
			return fmt.Sprintf("memory count %d exceeds limit %d", usage.MemoryCount, limits.MaxMemories), nil
		}
		return "", nil
	case DynamicLimits:
		limits = e.adjustForLoad(limits)
		fallthrough
	case HardLimits:
		if usage.MemoryCount >= limits.MaxMemories {
			return "", fmt.Errorf("memory count limit exceeded: %d >= %d", usage.MemoryCount, limits.MaxMemories)
		}
		if usage.StorageBytes >= limits.MaxStorageBytes {
			return "", fmt.Errorf("storage limit exceeded: %d >= %d", usage.StorageBytes, limits.MaxStorageBytes)
		}
		return "", nil
	default:
		return "", nil
	}
}

func (e *IsolationEngine) adjustForLoad(limits ResourceLimits) ResourceLimits {
	f := e.LoadFactor
	if f <= 0 {
		f = 1
	}
	return ResourceLimits{
		MaxMemories:            int(float64(limits.MaxMemories) * f),
		MaxStorageBytes:        int64(float64(limits.MaxStorageBytes) * f),
		MaxConcurrentRequests:  int(float64(limits.MaxConcurrentRequests) * f),
		MaxRequestsPerSecond:   int(float64(limits.MaxRequestsPerSecond) * f),
		MaxEmbeddingDimensions: limits.MaxEmbeddingDimensions,
		MaxBatchSize:           limits.MaxBatchSize,
	}
}
