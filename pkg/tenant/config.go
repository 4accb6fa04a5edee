// Package tenant implements the multi-tenant resource plane: per-tenant
// configuration, resource quota enforcement and data-partition key
// derivation. It is grounded on the original agent-mem project's
// tenant.rs, ported from Rust structs/enums to Go structs and a small
// closed interface for the partitioning strategy.
package tenant

import (
	"fmt"
	"time"
)

// ResourceLimits bounds how much of the system a single tenant may consume.
// Defaults favor a small team tenant, not a heavy production workload.
type ResourceLimits struct {
	MaxMemories            int
	MaxStorageBytes        int64
	MaxConcurrentRequests  int
	MaxRequestsPerSecond   int
	MaxEmbeddingDimensions int
	MaxBatchSize           int
}

// DefaultResourceLimits returns the stock limits new tenants get.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemories:            10_000,
		MaxStorageBytes:        1_000_000_000,
		MaxConcurrentRequests:  100,
		MaxRequestsPerSecond:   1000,
		MaxEmbeddingDimensions: 1536,
		MaxBatchSize:           100,
	}
}

// SecurityPolicy governs the security posture applied to a tenant's data.
type SecurityPolicy struct {
	EncryptionEnabled        bool
	AuditLoggingEnabled      bool
	AccessControlEnabled     bool
	DataRetentionDays        int
	CrossTenantAccessAllowed bool
	AllowedIPRanges          []string
}

// DefaultSecurityPolicy returns the stock security posture.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		EncryptionEnabled:        true,
		AuditLoggingEnabled:      true,
		AccessControlEnabled:     true,
		DataRetentionDays:        365,
		CrossTenantAccessAllowed: false,
		AllowedIPRanges:          []string{"0.0.0.0/0"},
	}
}

// EncryptionConfig describes how a tenant's data at rest and in transit is
// encrypted.
type EncryptionConfig struct {
	Algorithm        string
	KeyID            string
	EncryptInTransit bool
	EncryptAtRest    bool
}

// DefaultEncryptionConfig returns the stock encryption configuration.
func DefaultEncryptionConfig() EncryptionConfig {
	return EncryptionConfig{
		Algorithm:        "AES-256-GCM",
		KeyID:            "default",
		EncryptInTransit: true,
		EncryptAtRest:    true,
	}
}

// Config is the full per-tenant configuration record.
type Config struct {
	TenantID        string
	Name            string
	Namespace       string
	ResourceLimits  ResourceLimits
	SecurityPolicy  SecurityPolicy
	Encryption      EncryptionConfig
	CreatedAt       time.Time
	Active          bool
	Metadata        map[string]string
}

// NewConfig builds a Config with stock limits/policy/encryption for a new
// tenant, the way the original TenantConfig::new did.
func NewConfig(tenantID, name string) *Config {
	return &Config{
		TenantID:       tenantID,
		Name:           name,
		Namespace:      fmt.Sprintf("tenant-%s", tenantID),
		ResourceLimits: DefaultResourceLimits(),
		SecurityPolicy: DefaultSecurityPolicy(),
		Encryption:     DefaultEncryptionConfig(),
		CreatedAt:      time.Now(),
		Active:         true,
		Metadata:       map[string]string{},
	}
}

// Validate checks the config is internally consistent.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("tenant name cannot be empty")
	}
	if c.Namespace == "" {
		return fmt.Errorf("tenant namespace cannot be empty")
	}
	if c.ResourceLimits.MaxMemories <= 0 {
		return fmt.Errorf("max memories must be greater than 0")
	}
	return nil
}
