// Package lifecycle implements the Adaptive Lifecycle (C11): periodic-sweep
// and on-write decisions about whether a memory should be kept, archived,
// compressed or deleted, plus the Ebbinghaus-style retention curve those
// decisions use (the Importance Evaluator's recency factor does not use it).
// Retention/Reinforce keep the same exponential-decay curve math
// as before, now combined with strategy-based archive rules replacing a
// map[string]interface{}-typed ShouldPromote/ShouldForget/ShouldArchive with
// one strategy-driven Decide over domain.Memory.
package lifecycle

import (
	"math"
	"sort"
	"time"

	"github.com/agentmem/agentmem/pkg/config"
	"github.com/agentmem/agentmem/pkg/domain"
)

// Hard-rule thresholds, evaluated before any strategy.
const (
	DefaultDeleteAgeThreshold  = 30 * 24 * time.Hour
	DefaultArchiveAgeThreshold = 7 * 24 * time.Hour
	DefaultMaxMemorySize       = 10 * 1024 // bytes
	DefaultMinImportance       = 0.3
	DefaultMinAccessCount      = 2
)

// Strategy is one of the four archive-decision strategies.
type Strategy string

const (
	StrategyLRU             Strategy = "lru"
	StrategyLFU             Strategy = "lfu"
	StrategyImportanceBased Strategy = "importance_based"
	StrategyHybrid          Strategy = "hybrid"
)

// Action is the outcome of a lifecycle decision for one memory.
type Action string

const (
	ActionKeep     Action = "keep"
	ActionArchive  Action = "archive"
	ActionDelete   Action = "delete"
	ActionCompress Action = "compress"
)

// Manager evaluates lifecycle decisions for memories under one tenant's
// policy and strategy.
type Manager struct {
	policy    config.LifecyclePolicy
	decayRate float64
	strategy  Strategy
}

// New builds a Manager from policy (see config.DefaultLifecyclePolicy) and
// strategy, deriving the Ebbinghaus decay rate from HalfLifeHours so that
// Retention returns exactly 0.5 after that many hours of inactivity.
func New(policy config.LifecyclePolicy, strategy Strategy) *Manager {
	halfLife := policy.HalfLifeHours
	if halfLife <= 0 {
		halfLife = config.DefaultLifecyclePolicy().HalfLifeHours
	}
	return &Manager{
		policy:    policy,
		decayRate: 24 * math.Ln2 / halfLife,
		strategy:  strategy,
	}
}

// Retention computes mem's current retention strength via the Ebbinghaus
// forgetting curve R = e^(-decayRate * hoursSinceLastAccess / 24), ported
// from EbbinghausManager.CalculateRetention.
func (m *Manager) Retention(mem *domain.Memory) float64 {
	var since time.Time
	if mem.LastAccessedAt != nil {
		since = *mem.LastAccessedAt
	} else {
		since = mem.CreatedAt
	}
	hours := time.Since(since).Hours()
	r := math.Exp(-m.decayRate * hours / 24.0)
	return clamp01(r)
}

// Reinforce strengthens a retention value on access, ported from
// EbbinghausManager.Reinforce: new = min(1, current + factor*(1-current)).
func (m *Manager) Reinforce(currentStrength float64) float64 {
	factor := m.policy.ReinforcementFactor
	if factor <= 0 {
		factor = config.DefaultLifecyclePolicy().ReinforcementFactor
	}
	return clamp01(currentStrength + factor*(1-currentStrength))
}

// Decide returns the lifecycle action for mem: hard rules first, then
// retention-strength thresholds, then the Manager's configured strategy.
func (m *Manager) Decide(mem *domain.Memory) Action {
	age := time.Since(mem.CreatedAt)
	idle := idleDuration(mem)

	if age > m.deleteAgeThreshold() || (mem.Importance < DefaultMinImportance && mem.AccessCount < DefaultMinAccessCount) {
		return ActionDelete
	}
	if mem.Archived && m.Retention(mem) < m.purgeThreshold() {
		return ActionDelete
	}
	if age > m.archiveAgeThreshold() || idle > m.archiveAgeThreshold()/2 || m.Retention(mem) < m.archiveThreshold() {
		return ActionArchive
	}
	if len(mem.Content) > m.maxMemorySize() {
		return ActionCompress
	}

	if m.archiveByStrategy(mem, age, idle) {
		return ActionArchive
	}
	return ActionKeep
}

func (m *Manager) archiveThreshold() float64 {
	if m.policy.ArchiveThreshold <= 0 {
		return config.DefaultLifecyclePolicy().ArchiveThreshold
	}
	return m.policy.ArchiveThreshold
}

func (m *Manager) purgeThreshold() float64 {
	if m.policy.PurgeThreshold <= 0 {
		return config.DefaultLifecyclePolicy().PurgeThreshold
	}
	return m.policy.PurgeThreshold
}

func (m *Manager) archiveAgeThreshold() time.Duration {
	if m.policy.ArchiveAgeThresholdSeconds <= 0 {
		return DefaultArchiveAgeThreshold
	}
	return time.Duration(m.policy.ArchiveAgeThresholdSeconds) * time.Second
}

func (m *Manager) deleteAgeThreshold() time.Duration {
	if m.policy.DeleteAgeThresholdSeconds <= 0 {
		return DefaultDeleteAgeThreshold
	}
	return time.Duration(m.policy.DeleteAgeThresholdSeconds) * time.Second
}

func (m *Manager) maxMemorySize() int {
	if m.policy.MaxMemorySize <= 0 {
		return DefaultMaxMemorySize
	}
	return m.policy.MaxMemorySize
}

func (m *Manager) retentionPeriod() time.Duration {
	if m.policy.RetentionPeriodSeconds > 0 {
		return time.Duration(m.policy.RetentionPeriodSeconds) * time.Second
	}
	return time.Duration(m.halfLifeHours()) * time.Hour
}

func (m *Manager) archiveByStrategy(mem *domain.Memory, age, idle time.Duration) bool {
	retentionPeriod := m.retentionPeriod()

	switch m.strategy {
	case StrategyLRU:
		return idle > retentionPeriod/4
	case StrategyLFU:
		return mem.AccessCount < 2 && age > retentionPeriod/7
	case StrategyImportanceBased:
		return mem.Importance < 0.3
	case StrategyHybrid:
		return m.hybridScore(mem) < 0.3
	default:
		return false
	}
}

// hybridScore implements the weighted Hybrid strategy formula:
// 0.5*importance + 0.3*recency + 0.2*log(1+access_count), recency taken
// from the Ebbinghaus retention curve.
func (m *Manager) hybridScore(mem *domain.Memory) float64 {
	recency := m.Retention(mem)
	return 0.5*mem.Importance + 0.3*recency + 0.2*math.Log(1+float64(mem.AccessCount))
}

func (m *Manager) halfLifeHours() float64 {
	if m.policy.HalfLifeHours <= 0 {
		return config.DefaultLifecyclePolicy().HalfLifeHours
	}
	return m.policy.HalfLifeHours
}

func idleDuration(mem *domain.Memory) time.Duration {
	if mem.LastAccessedAt != nil {
		return time.Since(*mem.LastAccessedAt)
	}
	return time.Since(mem.CreatedAt)
}

// CompressMarker separates the kept head/tail from the elided middle of a
// compressed memory's content.
const CompressMarker = "\n...[compressed]...\n"

// Compress keeps the head and tail of mem's content, replacing the middle
// with CompressMarker, records the original size in metadata, and refreshes
// UpdatedAt. When content exceeds DefaultMaxMemorySize it returns a new
// Memory and leaves mem untouched; otherwise it returns mem itself.
func Compress(mem *domain.Memory) *domain.Memory {
	if len(mem.Content) <= DefaultMaxMemorySize {
		return mem
	}
	cp := *mem
	half := (DefaultMaxMemorySize - len(CompressMarker)) / 2
	cp.Content = mem.Content[:half] + CompressMarker + mem.Content[len(mem.Content)-half:]
	cp.Metadata = copyMetadata(mem.Metadata)
	cp.Metadata["original_size"] = len(mem.Content)
	cp.UpdatedAt = time.Now()
	return &cp
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EvictForCapacity scores candidates the same way Decide's strategy would
// and returns the n lowest-scoring, the set a capacity-overflow sweep
// should delete first. Deletion itself must go through storage.VectorStore
// and hierarchy.Manager (which enforce I1). Scoring only ranks, it does not
// filter: non-deletable or inherited memories among candidates can be
// returned here.
func (m *Manager) EvictForCapacity(candidates []*domain.Memory, n int) []*domain.Memory {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	scored := make([]*domain.Memory, len(candidates))
	copy(scored, candidates)
	sort.SliceStable(scored, func(i, j int) bool { return m.score(scored[i]) < m.score(scored[j]) })
	if n > len(scored) {
		n = len(scored)
	}
	return scored[:n]
}

func (m *Manager) score(mem *domain.Memory) float64 {
	switch m.strategy {
	case StrategyLFU:
		return decayedAccessCount(mem, m.halfLifeHours())
	case StrategyImportanceBased:
		return mem.Importance
	case StrategyHybrid:
		return m.hybridScore(mem)
	default: // LRU
		return -float64(idleDuration(mem))
	}
}

// decayedAccessCount implements the chosen approach for weighting old
// accesses less than recent ones:
// LFU eviction uses a half-life-decayed access count
// (access_count * 0.5^(age/halfLife)) instead of the raw counter, so a
// memory accessed heavily long ago doesn't outrank one accessed moderately
// but recently.
func decayedAccessCount(mem *domain.Memory, halfLifeHours float64) float64 {
	ageHours := time.Since(mem.CreatedAt).Hours()
	decay := math.Pow(0.5, ageHours/halfLifeHours)
	return float64(mem.AccessCount) * decay
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
