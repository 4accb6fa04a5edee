package domain

import "time"

// MemoryType classifies what kind of recollection a Memory holds, orthogonal
// to its MemoryLevel (how long it stays relevant) and to its scope.
// The zero value means the memory predates type classification or the
// extractor could not determine one.
type MemoryType string

const (
	TypeEpisodic  MemoryType = "episodic"
	TypeSemantic  MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
	TypeWorking   MemoryType = "working"
)

// Memory is a single stored memory record, owned by exactly one MemoryScope
// within exactly one tenant.
type Memory struct {
	ID       string      `json:"id"`
	TenantID string      `json:"tenant_id"`
	Scope    MemoryScope `json:"-"`
	// ScopeTag mirrors Scope.Tag() for storage backends that persist scope
	// as a flat string rather than a Go interface value.
	ScopeTag string      `json:"scope_tag"`
	Level    MemoryLevel `json:"level"`
	Type     MemoryType  `json:"memory_type,omitempty"`

	Content     string                 `json:"content"`
	ContentHash string                 `json:"content_hash"`
	Embedding   []float32              `json:"embedding,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Importance float64 `json:"importance"`

	// Version increments on every committed write (add/update/merge); it
	// never decreases.
	Version int64 `json:"version"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    int64      `json:"access_count"`

	// Score is populated by search/retrieval operations; zero otherwise.
	Score float64 `json:"score,omitempty"`

	// Archived marks a memory moved out of active working set by the
	// lifecycle manager; archived memories are excluded from retrieval by
	// default but not deleted.
	Archived bool `json:"archived"`
}

// FactCategory closes the set of categories a StructuredFact can carry.
type FactCategory string

const (
	CategoryPersonal      FactCategory = "personal"
	CategoryProfessional  FactCategory = "professional"
	CategoryFinancial     FactCategory = "financial"
	CategoryPreference    FactCategory = "preference"
	CategoryTemporal      FactCategory = "temporal"
	CategoryLocation      FactCategory = "location"
	CategoryRelationship  FactCategory = "relationship"
	CategoryEvent         FactCategory = "event"
	CategoryKnowledge     FactCategory = "knowledge"
	CategorySkill         FactCategory = "skill"
	CategoryGoal          FactCategory = "goal"
	CategoryExperience    FactCategory = "experience"
	CategoryOpinion       FactCategory = "opinion"
	CategoryEmotion       FactCategory = "emotion"
	CategoryOther         FactCategory = "other"

	// CategoryFact is a separate category value "fact", kept for extractor
	// prompts/fixtures written before the category set closed; it is not
	// mapped to CategoryKnowledge.
	CategoryFact FactCategory = "fact"
)

// TemporalInfo captures a fact's time reference, when the extractor could
// identify one ("yesterday", "starting next month", an explicit date).
type TemporalInfo struct {
	Expression string     `json:"expression"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// StructuredFact is one atomic claim pulled out of raw conversational
// content by the Fact Extractor, prior to becoming a Memory.
type StructuredFact struct {
	Description     string       `json:"description"`
	Category        FactCategory `json:"category"`
	Entities        []string     `json:"entities,omitempty"`
	Relations       []string     `json:"relations,omitempty"`
	Temporal        *TemporalInfo `json:"temporal,omitempty"`
	Confidence      float64      `json:"confidence"`
	Importance      float64      `json:"importance"`
	SourceMessageIDs []string    `json:"source_message_ids,omitempty"`
}

// ConflictKind classifies why two or more memories were flagged as
// conflicting.
type ConflictKind string

const (
	ConflictContentContradiction ConflictKind = "content_contradiction"
	ConflictTemporal             ConflictKind = "temporal_conflict"
	ConflictDuplicate            ConflictKind = "duplicate_information"
	ConflictFactualInconsistency ConflictKind = "factual_inconsistency"
)

// ConflictSeverity orders conflicts by how urgently they need resolution.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// ConflictStatus tracks a conflict's lifecycle once detected.
type ConflictStatus string

const (
	ConflictStatusOpen     ConflictStatus = "open"
	ConflictStatusResolved ConflictStatus = "resolved"
	ConflictStatusManual   ConflictStatus = "manual_review"
)

// MemoryConflict records that two or more memories disagree and how the
// Conflict Resolver proposes (or already decided) to reconcile them.
type MemoryConflict struct {
	ID                  string           `json:"id"`
	MemoryIDs           []string         `json:"memory_ids"`
	Kind                ConflictKind     `json:"kind"`
	Severity            ConflictSeverity `json:"severity"`
	SuggestedResolution string           `json:"suggested_resolution"`
	Status              ConflictStatus   `json:"status"`
	DetectedAt          time.Time        `json:"detected_at"`
}
