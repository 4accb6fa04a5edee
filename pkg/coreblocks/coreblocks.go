// Package coreblocks implements the Core Memory Blocks (C12): small,
// per-agent Persona/Human blocks that never exceed a configured capacity,
// auto-rewriting their content when a write brings them near the limit.
// Generalized from a single unbounded per-user profile blob to two typed,
// capacity-bounded blocks per agent, with LLM-assisted condensation
// following pkg/user_memory/query_rewrite's LLM-plus-fallback pattern
// (Rewrite tries the LLM, falls back to a deterministic heuristic on error
// or when no provider is configured).
package coreblocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/llm"
)

// Kind is one of the two block types a Manager holds per agent.
type Kind string

const (
	KindPersona Kind = "persona"
	KindHuman   Kind = "human"
)

// DefaultCapacity bounds a block's content length in bytes, leaving
// the literal capacity unspecified (only the rewrite thresholds are given);
// 4000 bytes comfortably fits a few paragraphs of extracted persona or
// human characteristics while leaving room for the
// rewrite cycle to have real headroom to work with.
const DefaultCapacity = 4000

// DefaultRewriteThreshold is the fraction of capacity that triggers
// auto-rewrite.
const DefaultRewriteThreshold = 0.9

// DefaultRetentionRatio is the fraction of capacity content is condensed to
// on rewrite.
const DefaultRetentionRatio = 0.7

// RewriteMarker is appended after every auto-rewrite so callers can see a
// block has been condensed at least once.
const RewriteMarker = "\n[... condensed by auto-rewrite ...]"

// Block is one Persona or Human block belonging to one agent.
type Block struct {
	AgentID   string
	Kind      Kind
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
	Rewrites  int
}

func (b *Block) full(capacity int, rewriteThreshold float64) bool {
	return len(b.Content) >= int(float64(capacity)*rewriteThreshold)
}

// ImportanceTagger scores a single line of block content; higher scores are
// kept preferentially during rewrite. A nil tagger falls back to line
// length.
type ImportanceTagger func(line string) float64

// Manager holds every agent's Persona/Human blocks in memory, bucketed the
// same way hierarchy.Manager buckets memories by scope tag.
type Manager struct {
	mu               sync.RWMutex
	blocks           map[string]*Block
	capacity         int
	rewriteThreshold float64
	retentionRatio   float64
	llm              llm.Provider // optional; nil falls back to the heuristic rewriter
	tagger           ImportanceTagger
}

// New builds a Manager with the given capacity (DefaultCapacity if <= 0),
// the default rewrite tuning, and an optional LLM provider for rewrite
// condensation.
func New(capacity int, provider llm.Provider) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		blocks:           map[string]*Block{},
		capacity:         capacity,
		rewriteThreshold: DefaultRewriteThreshold,
		retentionRatio:   DefaultRetentionRatio,
		llm:              provider,
	}
}

// WithImportanceTagger overrides the line-scoring function used during
// rewrite.
func (m *Manager) WithImportanceTagger(t ImportanceTagger) *Manager {
	m.tagger = t
	return m
}

// WithRewriteTuning overrides the fraction-of-capacity that triggers
// auto-rewrite and the fraction content is condensed to. Values <= 0 keep
// the default.
func (m *Manager) WithRewriteTuning(rewriteThreshold, retentionRatio float64) *Manager {
	if rewriteThreshold > 0 {
		m.rewriteThreshold = rewriteThreshold
	}
	if retentionRatio > 0 {
		m.retentionRatio = retentionRatio
	}
	return m
}

func key(agentID string, kind Kind) string {
	return agentID + ":" + string(kind)
}

// Create creates a block for agentID/kind with initial content, rewriting
// immediately if the initial content already exceeds the rewrite
// threshold, so blocks never overflow capacity even on create.
func (m *Manager) Create(ctx context.Context, agentID string, kind Kind, content string) (*Block, error) {
	m.mu.Lock()
	k := key(agentID, kind)
	if _, exists := m.blocks[k]; exists {
		m.mu.Unlock()
		return nil, agmerr.New("coreblocks.Create", agmerr.KindInvalidInput, fmt.Errorf("block %s already exists", k))
	}
	now := time.Now()
	b := &Block{AgentID: agentID, Kind: kind, Content: content, Metadata: map[string]interface{}{}, CreatedAt: now, UpdatedAt: now}
	m.blocks[k] = b
	m.mu.Unlock()

	return m.settle(ctx, b)
}

// Get returns the block for agentID/kind, or (nil, false) if none exists.
func (m *Manager) Get(agentID string, kind Kind) (*Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[key(agentID, kind)]
	return b, ok
}

// Append adds text to the end of the block's content (separated by a
// newline if the block is non-empty) and settles it against capacity.
func (m *Manager) Append(ctx context.Context, agentID string, kind Kind, text string) (*Block, error) {
	b, err := m.mutate(agentID, kind, func(content string) string {
		if content == "" {
			return text
		}
		return content + "\n" + text
	})
	if err != nil {
		return nil, err
	}
	return m.settle(ctx, b)
}

// Update replaces the block's content outright and settles it against
// capacity.
func (m *Manager) Update(ctx context.Context, agentID string, kind Kind, content string) (*Block, error) {
	b, err := m.mutate(agentID, kind, func(string) string { return content })
	if err != nil {
		return nil, err
	}
	return m.settle(ctx, b)
}

func (m *Manager) mutate(agentID string, kind Kind, f func(current string) string) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[key(agentID, kind)]
	if !ok {
		return nil, agmerr.New("coreblocks.mutate", agmerr.KindNotFound, fmt.Errorf("no %s block for agent %s", kind, agentID))
	}
	b.Content = f(b.Content)
	b.UpdatedAt = time.Now()
	return b, nil
}

// Delete removes the block for agentID/kind.
func (m *Manager) Delete(agentID string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(agentID, kind)
	if _, ok := m.blocks[k]; !ok {
		return agmerr.New("coreblocks.Delete", agmerr.KindNotFound, fmt.Errorf("no block %s", k))
	}
	delete(m.blocks, k)
	return nil
}

// settle runs the auto-rewrite cycle if b is at or above the rewrite
// threshold, guaranteeing the returned block never exceeds capacity.
func (m *Manager) settle(ctx context.Context, b *Block) (*Block, error) {
	if !b.full(m.capacity, m.rewriteThreshold) {
		return b, nil
	}

	target := int(float64(m.capacity) * m.retentionRatio)
	condensed, err := m.condense(ctx, b.Content, target)
	if err != nil {
		condensed = m.heuristicCondense(b.Content, target)
	}

	m.mu.Lock()
	b.Content = condensed + RewriteMarker
	b.Rewrites++
	b.UpdatedAt = time.Now()
	m.mu.Unlock()

	// A single rewrite cycle must be enough: capacity overflow from one
	// write must never require a second cycle; if the condensed text plus
	// the rewrite marker still exceeds capacity (the LLM ignored the target
	// length), condense again with the heuristic to capacity minus the
	// marker's length, so the marked result fits.
	if len(b.Content) > m.capacity {
		limit := m.capacity - len(RewriteMarker)
		if limit < 0 {
			limit = 0
		}
		m.mu.Lock()
		b.Content = m.heuristicCondense(condensed, limit) + RewriteMarker
		m.mu.Unlock()
	}

	return b, nil
}

// condense asks the configured LLM to rewrite content down to roughly
// target bytes, preserving the most important information. Returns an
// error (triggering the heuristic fallback) if no LLM is configured or the
// call fails.
func (m *Manager) condense(ctx context.Context, content string, target int) (string, error) {
	if m.llm == nil {
		return "", fmt.Errorf("coreblocks: no LLM configured")
	}
	prompt := fmt.Sprintf(`Condense the following memory block to at most %d characters, preserving the most important facts and dropping redundant or stale detail. Return only the condensed text, no commentary.

%s`, target, content)

	messages := []llm.Message{
		{Role: "system", Content: "You are a precise content condenser for an AI agent's memory block."},
		{Role: "user", Content: prompt},
	}
	resp, err := m.llm.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", err
	}
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return "", fmt.Errorf("coreblocks: empty condensation response")
	}
	return resp, nil
}

// heuristicCondense keeps the highest-scoring lines (by m.tagger, or line
// length if none is set) in original order until the target length is
// reached; this is the deterministic fallback used when LLM condensation
// is unavailable, fails, or overshoots capacity.
func (m *Manager) heuristicCondense(content string, target int) string {
	lines := strings.Split(content, "\n")
	type scored struct {
		idx   int
		line  string
		score float64
	}
	tagger := m.tagger
	if tagger == nil {
		tagger = func(line string) float64 { return float64(len(line)) }
	}

	ranked := make([]scored, len(lines))
	for i, l := range lines {
		ranked[i] = scored{idx: i, line: l, score: tagger(l)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	kept := map[int]bool{}
	total := 0
	for _, r := range ranked {
		if total+len(r.line)+1 > target && total > 0 {
			continue
		}
		kept[r.idx] = true
		total += len(r.line) + 1
	}

	out := make([]string, 0, len(lines))
	for i, l := range lines {
		if kept[i] {
			out = append(out, l)
		}
	}
	result := strings.Join(out, "\n")
	if len(result) > target {
		result = result[:target]
	}
	return result
}
