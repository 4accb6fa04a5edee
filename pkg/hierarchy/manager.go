// Package hierarchy implements the hierarchical memory manager (C2):
// scope-aware storage of memories, access filtering along the
// Global/Agent/User/Session lattice, and importance decay on inheritance.
// Implements the HierarchicalMemoryManager design: scope-tagged storage
// with importance decay applied as memories are read across levels.
package hierarchy

import (
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentmem/agentmem/pkg/domain"
)

// Permissions controls whether a scope's memories may be updated or deleted
// by the scope that owns them, mirroring the original's MemoryPermissions.
type Permissions struct {
	Writable  bool
	Deletable bool
	Inheritable bool
}

// DefaultPermissions grants full rights and makes memories inheritable by
// descendant scopes.
func DefaultPermissions() Permissions {
	return Permissions{Writable: true, Deletable: true, Inheritable: true}
}

// Entry pairs a Memory with its Permissions inside the manager.
type Entry struct {
	Memory      *domain.Memory
	Permissions Permissions
}

// DefaultDecayFactor is the per-ancestor-hop importance decay applied when a
// memory is inherited by a descendant scope, matching the original's
// MemoryInheritance.decay_factor default.
const DefaultDecayFactor = 0.9

// ScopeStatistics summarizes one scope's memory population.
type ScopeStatistics struct {
	Count         int
	ByLevel       map[domain.MemoryLevel]int
	ByType        map[domain.MemoryType]int
	MinImportance float64
	AvgImportance float64
	MaxImportance float64
}

// Manager owns all memories for one tenant, bucketed by scope tag.
type Manager struct {
	mu          sync.RWMutex
	byScope     map[string][]*Entry
	decayFactor float64
	cache       *lru.Cache[string, []*domain.Memory]
	maxPerScope int // 0 means unbounded
}

// New builds a Manager with the default decay factor and a bounded
// inheritance cache (capacity cacheSize; pass 0 for the default of 1024
// entries).
func New(cacheSize int) (*Manager, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, err := lru.New[string, []*domain.Memory](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: init cache: %w", err)
	}
	return &Manager{
		byScope:     map[string][]*Entry{},
		decayFactor: DefaultDecayFactor,
		cache:       c,
	}, nil
}

// WithDecayFactor overrides the inheritance decay factor.
func (m *Manager) WithDecayFactor(f float64) *Manager {
	m.decayFactor = f
	return m
}

// WithMaxPerScope caps how many memories a single scope's own bucket may
// hold; AddMemory rejects anything past the cap. max <= 0 means unbounded.
func (m *Manager) WithMaxPerScope(max int) *Manager {
	m.maxPerScope = max
	return m
}

// AddMemory stores mem under its own scope with the given permissions and
// invalidates any cached inheritance results for scopes descending from it.
// Returns an error without storing mem if scope is already at the configured
// per-scope capacity.
func (m *Manager) AddMemory(mem *domain.Memory, perm Permissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag := mem.Scope.Tag()
	if m.maxPerScope > 0 && len(m.byScope[tag]) >= m.maxPerScope {
		return fmt.Errorf("hierarchy: scope %s at capacity (%d memories)", tag, m.maxPerScope)
	}
	m.byScope[tag] = append(m.byScope[tag], &Entry{Memory: mem, Permissions: perm})
	m.cache.Purge()
	return nil
}

// GetAccessibleMemories returns every memory visible to scope: its own plus
// everything inherited from ancestors, with inherited importance decayed.
func (m *Manager) GetAccessibleMemories(scope domain.MemoryScope) []*domain.Memory {
	own := m.ownMemories(scope)
	inherited := m.GetInheritedMemories(scope)
	return append(own, inherited...)
}

func (m *Manager) ownMemories(scope domain.MemoryScope) []*domain.Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.byScope[scope.Tag()]
	out := make([]*domain.Memory, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Memory)
	}
	return out
}

// GetInheritedMemories walks scope's ancestor chain and returns copies of
// each inheritable ancestor memory with importance decayed by
// decayFactor^level, where level is the number of hops from scope to the
// ancestor that owns the memory (the immediate parent is level 1). This is
// a direct port of get_inherited_memories, validated against the original's
// unit test (decay_factor 0.8, base importance 0.8 -> inherited 0.512 at
// level 2).
func (m *Manager) GetInheritedMemories(scope domain.MemoryScope) []*domain.Memory {
	if cached, ok := m.cache.Get(scope.Tag()); ok {
		return cached
	}

	var result []*domain.Memory
	level := 0
	cur := scope
	for {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		level++

		m.mu.RLock()
		entries := m.byScope[parent.Tag()]
		m.mu.RUnlock()

		decay := math.Pow(m.decayFactor, float64(level))
		for _, e := range entries {
			if !e.Permissions.Inheritable {
				continue
			}
			cp := *e.Memory
			cp.Importance = e.Memory.Importance * decay
			result = append(result, &cp)
		}
		cur = parent
	}

	m.cache.Add(scope.Tag(), result)
	return result
}

// AccessibleScopes returns scope itself followed by every ancestor, the set
// of scope tags get_accessible_memories considers.
func (m *Manager) AccessibleScopes(scope domain.MemoryScope) []domain.MemoryScope {
	return domain.AncestorChain(scope)
}

// UpdatePermissions updates the permissions of the memory with id owned
// directly by scope (inherited memories cannot have their permissions
// changed from a descendant scope).
func (m *Manager) UpdatePermissions(scope domain.MemoryScope, id string, perm Permissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.byScope[scope.Tag()]
	for _, e := range entries {
		if e.Memory.ID == id {
			e.Permissions = perm
			m.cache.Purge()
			return nil
		}
	}
	return fmt.Errorf("hierarchy: memory %s not found in scope %s", id, scope.Tag())
}

// DeleteMemory removes the memory with id from scope's own bucket if it is
// deletable, scope-local only (matching the original: a descendant cannot
// delete an ancestor's memory, per I1).
func (m *Manager) DeleteMemory(scope domain.MemoryScope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.byScope[scope.Tag()]
	for i, e := range entries {
		if e.Memory.ID == id {
			if !e.Permissions.Deletable {
				return fmt.Errorf("hierarchy: memory %s is not deletable", id)
			}
			m.byScope[scope.Tag()] = append(entries[:i], entries[i+1:]...)
			m.cache.Purge()
			return nil
		}
	}
	return fmt.Errorf("hierarchy: memory %s not found in scope %s", id, scope.Tag())
}

// ScopeStats computes a ScopeStatistics snapshot for scope's own memories.
// Unlike the original Rust implementation (whose MinImportance defaults to
//0.0 via #[derive(Default)] and can therefore never reflect a true minimum
// above zero), this seeds the running minimum from the first observed value.
func (m *Manager) ScopeStats(scope domain.MemoryScope) ScopeStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.byScope[scope.Tag()]

	stats := ScopeStatistics{ByLevel: map[domain.MemoryLevel]int{}, ByType: map[domain.MemoryType]int{}}
	if len(entries) == 0 {
		return stats
	}

	stats.MinImportance = entries[0].Memory.Importance
	for _, e := range entries {
		imp := e.Memory.Importance
		stats.Count++
		stats.ByLevel[e.Memory.Level]++
		stats.ByType[e.Memory.Type]++
		stats.AvgImportance += imp
		if imp < stats.MinImportance {
			stats.MinImportance = imp
		}
		if imp > stats.MaxImportance {
			stats.MaxImportance = imp
		}
	}
	stats.AvgImportance /= float64(stats.Count)
	return stats
}
