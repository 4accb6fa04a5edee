// Package sqliteadapter implements storage.VectorStore on SQLite: a
// schema-as-JSON-blob layout with in-memory cosine-similarity scoring,
// extended with an in-process keyword-overlap text score (filling in a
// previously TODO-marked "add full-text search support" gap) and
// dimension validation against the
// tenant-configured embedding size.
package sqliteadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/storage"
)

// Config configures a Client.
type Config struct {
	DBPath         string
	CollectionName string
	Dimensions     int
}

// Client implements storage.VectorStore on SQLite.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// NewClient opens (creating if needed) a SQLite-backed store.
func NewClient(cfg Config) (*Client, error) {
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("sqliteadapter: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqliteadapter: ping: %w", err)
	}

	c := &Client{db: db, collectionName: cfg.CollectionName, dimensions: cfg.Dimensions}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			scope_tag TEXT NOT NULL,
			level TEXT,
			memory_type TEXT,
			content TEXT NOT NULL,
			content_hash TEXT,
			embedding TEXT,
			metadata TEXT,
			importance REAL DEFAULT 0,
			version INTEGER DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at DATETIME,
			access_count INTEGER DEFAULT 0,
			archived INTEGER DEFAULT 0
		)
	`, c.collectionName)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqliteadapter: init tables: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tenant_scope ON %s(tenant_id, scope_tag)`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("sqliteadapter: init index: %w", err)
	}
	return nil
}

var _ storage.VectorStore = (*Client)(nil)

func (c *Client) Insert(ctx context.Context, mem *domain.Memory) error {
	if c.dimensions > 0 && len(mem.Embedding) > 0 && len(mem.Embedding) != c.dimensions {
		return agmerr.New("sqliteadapter.Insert", agmerr.KindInvalidInput, fmt.Errorf("embedding dimension %d != configured %d", len(mem.Embedding), c.dimensions))
	}

	embeddingJSON, err := json.Marshal(mem.Embedding)
	if err != nil {
		return fmt.Errorf("sqliteadapter: marshal embedding: %w", err)
	}
	metadataJSON, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("sqliteadapter: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata, importance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	version := mem.Version
	if version == 0 {
		version = 1
	}
	now := time.Now()
	_, err = c.db.ExecContext(ctx, query,
		mem.ID, mem.TenantID, mem.ScopeTag, string(mem.Level), string(mem.Type), mem.Content, mem.ContentHash,
		string(embeddingJSON), string(metadataJSON), mem.Importance, version, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqliteadapter: insert: %w", err)
	}
	return nil
}

func (c *Client) InsertBatch(ctx context.Context, mems []*domain.Memory) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqliteadapter: begin batch: %w", err)
	}
	for _, m := range mems {
		if err := c.Insert(ctx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *Client) Search(ctx context.Context, embedding []float32, opts *storage.SearchOptions) ([]*domain.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	where, args := buildWhere(opts.TenantID, opts.ScopeTag)
	query := fmt.Sprintf(`
		SELECT id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata,
		       importance, version, created_at, updated_at, last_accessed_at, access_count, archived
		FROM %s %s ORDER BY id
	`, c.collectionName, where)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}

		var score float64
		if len(embedding) > 0 && len(m.Embedding) > 0 {
			score = cosineSimilarity(embedding, m.Embedding)
		}
		// Full-text fallback: when the caller supplied query text, blend in
		// a keyword-overlap score so callers with no embeddings (or a text-
		// only query) still get ranked results. Fills the previously
		// reserved-but-unimplemented hybrid-search slot.
		if opts.Query != "" {
			textS := textOverlapScore(opts.Query, m.Content)
			if score == 0 {
				score = textS
			} else {
				score = (score + textS) / 2
			}
		}
		m.Score = score

		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string, opts *storage.GetOptions) (*domain.Memory, error) {
	if opts == nil {
		opts = &storage.GetOptions{}
	}
	where := "WHERE id = ?"
	args := []interface{}{id}
	if opts.TenantID != "" {
		where += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if opts.ScopeTag != "" {
		where += " AND scope_tag = ?"
		args = append(args, opts.ScopeTag)
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata,
		       importance, version, created_at, updated_at, last_accessed_at, access_count, archived
		FROM %s %s
	`, c.collectionName, where)

	row := c.db.QueryRowContext(ctx, query, args...)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, agmerr.New("sqliteadapter.Get", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: get: %w", err)
	}
	return m, nil
}

func (c *Client) Update(ctx context.Context, id string, content string, embedding []float32, opts *storage.UpdateOptions) (*domain.Memory, error) {
	if opts == nil {
		opts = &storage.UpdateOptions{}
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: marshal embedding: %w", err)
	}

	where := "WHERE id = ?"
	args := []interface{}{content, string(embeddingJSON), time.Now(), id}
	if opts.TenantID != "" {
		where += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if opts.ScopeTag != "" {
		where += " AND scope_tag = ?"
		args = append(args, opts.ScopeTag)
	}
	query := fmt.Sprintf(`UPDATE %s SET content = ?, embedding = ?, updated_at = ?, version = version + 1 %s`, c.collectionName, where)

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, agmerr.New("sqliteadapter.Update", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return c.Get(ctx, id, &storage.GetOptions{TenantID: opts.TenantID, ScopeTag: opts.ScopeTag})
}

func (c *Client) RecordAccess(ctx context.Context, id string, opts *storage.GetOptions) error {
	if opts == nil {
		opts = &storage.GetOptions{}
	}
	where := "WHERE id = ?"
	args := []interface{}{time.Now(), id}
	if opts.TenantID != "" {
		where += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if opts.ScopeTag != "" {
		where += " AND scope_tag = ?"
		args = append(args, opts.ScopeTag)
	}
	query := fmt.Sprintf(`UPDATE %s SET last_accessed_at = ?, access_count = access_count + 1 %s`, c.collectionName, where)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqliteadapter: record access: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agmerr.New("sqliteadapter.RecordAccess", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id string, opts *storage.DeleteOptions) error {
	if opts == nil {
		opts = &storage.DeleteOptions{}
	}
	where := "WHERE id = ?"
	args := []interface{}{id}
	if opts.TenantID != "" {
		where += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if opts.ScopeTag != "" {
		where += " AND scope_tag = ?"
		args = append(args, opts.ScopeTag)
	}
	query := fmt.Sprintf("DELETE FROM %s %s", c.collectionName, where)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqliteadapter: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agmerr.New("sqliteadapter.Delete", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return nil
}

func (c *Client) GetAll(ctx context.Context, opts *storage.GetAllOptions) ([]*domain.Memory, error) {
	if opts == nil {
		opts = &storage.GetAllOptions{}
	}
	where, args := buildWhere(opts.TenantID, opts.ScopeTag)
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata,
		       importance, version, created_at, updated_at, last_accessed_at, access_count, archived
		FROM %s %s ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, c.collectionName, where)
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: getall: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) error {
	if opts == nil {
		opts = &storage.DeleteAllOptions{}
	}
	where, args := buildWhere(opts.TenantID, opts.ScopeTag)
	_, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", c.collectionName, where), args...)
	if err != nil {
		return fmt.Errorf("sqliteadapter: deleteall: %w", err)
	}
	return nil
}

func (c *Client) CountVectors(ctx context.Context, scopeTag string) (int, error) {
	where, args := "", []interface{}{}
	if scopeTag != "" {
		where, args = "WHERE scope_tag = ?", []interface{}{scopeTag}
	}
	var n int
	err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s %s", c.collectionName, where), args...).Scan(&n)
	return n, err
}

func (c *Client) Clear(ctx context.Context, tenantID string) error {
	where, args := "", []interface{}{}
	if tenantID != "" {
		where, args = "WHERE tenant_id = ?", []interface{}{tenantID}
	}
	_, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", c.collectionName, where), args...)
	return err
}

func (c *Client) HealthCheck(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Client) Stats(ctx context.Context) (storage.Stats, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", c.collectionName)).Scan(&n); err != nil {
		return storage.Stats{}, err
	}
	return storage.Stats{TotalMemories: n}, nil
}

func (c *Client) Close() error { return c.db.Close() }

// CreateIndex is a no-op: SQLite has no native vector index.
func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error { return nil }

func buildWhere(tenantID, scopeTag string) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if tenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, tenantID)
	}
	if scopeTag != "" {
		clauses = append(clauses, "scope_tag = ?")
		args = append(args, scopeTag)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanMemory(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.Memory, error) {
	var m domain.Memory
	var level, embeddingStr, metadataStr string
	var memType sql.NullString
	var lastAccessed sql.NullTime
	var archived int

	if err := scanner.Scan(
		&m.ID, &m.TenantID, &m.ScopeTag, &level, &memType, &m.Content, &m.ContentHash,
		&embeddingStr, &metadataStr, &m.Importance, &m.Version, &m.CreatedAt, &m.UpdatedAt,
		&lastAccessed, &m.AccessCount, &archived,
	); err != nil {
		return nil, err
	}

	m.Level = domain.MemoryLevel(level)
	if memType.Valid {
		m.Type = domain.MemoryType(memType.String)
	}
	if embeddingStr != "" {
		_ = json.Unmarshal([]byte(embeddingStr), &m.Embedding)
	}
	if metadataStr != "" {
		_ = json.Unmarshal([]byte(metadataStr), &m.Metadata)
	}
	if lastAccessed.Valid {
		m.LastAccessedAt = &lastAccessed.Time
	}
	m.Archived = archived != 0
	return &m, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func textOverlapScore(query, content string) float64 {
	qWords := strings.Fields(strings.ToLower(query))
	if len(qWords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, w := range qWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(qWords))
}
