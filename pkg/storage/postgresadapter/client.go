// Package postgresadapter implements storage.VectorStore on PostgreSQL +
// pgvector, using a "$N placeholder + pgvector <=> operator" idiom,
// extended with tenant/scope
// columns, a content_hash column, and an in-process keyword-overlap score
// (textOverlapScore) blended with the vector score when the caller supplies
// query text.
package postgresadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/storage"
)

// Config contains PostgreSQL connection configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// Client is a PostgreSQL + pgvector backed VectorStore.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// NewClient opens a PostgreSQL connection and ensures the schema exists.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgresadapter: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgresadapter: ping: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}
	c := &Client{db: db, collectionName: collection, dimensions: cfg.EmbeddingModelDims}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgresadapter: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			scope_tag TEXT NOT NULL,
			level TEXT,
			memory_type TEXT,
			content TEXT NOT NULL,
			content_hash TEXT,
			embedding vector(%d),
			metadata JSONB,
			importance DOUBLE PRECISION DEFAULT 0,
			version INTEGER DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at TIMESTAMP,
			access_count INTEGER DEFAULT 0,
			archived BOOLEAN DEFAULT FALSE
		)
	`, c.collectionName, c.dimensions)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgresadapter: create table: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tenant_scope ON %s(tenant_id, scope_tag)`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("postgresadapter: create index: %w", err)
	}
	return nil
}

var _ storage.VectorStore = (*Client)(nil)

func (c *Client) Insert(ctx context.Context, mem *domain.Memory) error {
	if c.dimensions > 0 && len(mem.Embedding) > 0 && len(mem.Embedding) != c.dimensions {
		return agmerr.New("postgresadapter.Insert", agmerr.KindInvalidInput, fmt.Errorf("embedding dimension %d != configured %d", len(mem.Embedding), c.dimensions))
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata, importance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.collectionName)

	metadataJSON, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("postgresadapter: marshal metadata: %w", err)
	}
	version := mem.Version
	if version == 0 {
		version = 1
	}
	now := time.Now()
	_, err = c.db.ExecContext(ctx, query,
		mem.ID, mem.TenantID, mem.ScopeTag, string(mem.Level), string(mem.Type), mem.Content, mem.ContentHash,
		vectorToString(mem.Embedding), string(metadataJSON), mem.Importance, version, now, now,
	)
	if err != nil {
		return fmt.Errorf("postgresadapter: insert: %w", err)
	}
	return nil
}

func (c *Client) InsertBatch(ctx context.Context, mems []*domain.Memory) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgresadapter: begin batch: %w", err)
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
	whereClause, args := buildWhereClauseWithOffset(opts.TenantID, opts.ScopeTag, 2)

	orderBy := "created_at DESC"
	selectScore := "0 AS similarity"
	argIdx := len(args) + 2
	if len(embedding) > 0 {
		orderBy = "embedding <=> $1"
		selectScore = "1 - (embedding <=> $1) AS similarity"
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata,
		       importance, version, created_at, updated_at, last_accessed_at, access_count, archived, %s
		FROM %s
		%s
		ORDER BY %s
		LIMIT $%d
	`, selectScore, c.collectionName, whereClause, orderBy, argIdx)

	allArgs := []interface{}{vectorToString(embedding)}
	allArgs = append(allArgs, args...)
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	allArgs = append(allArgs, limit)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("postgresadapter: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out, err := c.scanMemories(rows)
	if err != nil {
		return nil, err
	}

	if opts.Query != "" {
		for _, m := range out {
			textS := textOverlapScore(opts.Query, m.Content)
			if m.Score == 0 {
				m.Score = textS
			} else {
				m.Score = (m.Score + textS) / 2
			}
		}
	}
	if opts.Threshold > 0 {
		filtered := out[:0]
		for _, m := range out {
			if m.Score >= opts.Threshold {
				filtered = append(filtered, m)
			}
		}
		out = filtered
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string, opts *storage.GetOptions) (*domain.Memory, error) {
	if opts == nil {
		opts = &storage.GetOptions{}
	}
	where := "WHERE id = $1"
	args := []interface{}{id}
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.ScopeTag != "" {
		args = append(args, opts.ScopeTag)
		where += fmt.Sprintf(" AND scope_tag = $%d", len(args))
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata,
		       importance, version, created_at, updated_at, last_accessed_at, access_count, archived, 0
		FROM %s %s
	`, c.collectionName, where)

	row := c.db.QueryRowContext(ctx, query, args...)
	m, err := c.scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, agmerr.New("postgresadapter.Get", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgresadapter: get: %w", err)
	}
	return m, nil
}

func (c *Client) Update(ctx context.Context, id string, content string, embedding []float32, opts *storage.UpdateOptions) (*domain.Memory, error) {
	if opts == nil {
		opts = &storage.UpdateOptions{}
	}
	args := []interface{}{content, vectorToString(embedding), time.Now(), id}
	where := "WHERE id = $4"
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.ScopeTag != "" {
		args = append(args, opts.ScopeTag)
		where += fmt.Sprintf(" AND scope_tag = $%d", len(args))
	}
	query := fmt.Sprintf(`UPDATE %s SET content = $1, embedding = $2, updated_at = $3, version = version + 1 %s`, c.collectionName, where)

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgresadapter: update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, agmerr.New("postgresadapter.Update", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return c.Get(ctx, id, &storage.GetOptions{TenantID: opts.TenantID, ScopeTag: opts.ScopeTag})
}

func (c *Client) RecordAccess(ctx context.Context, id string, opts *storage.GetOptions) error {
	if opts == nil {
		opts = &storage.GetOptions{}
	}
	args := []interface{}{time.Now(), id}
	where := "WHERE id = $2"
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.ScopeTag != "" {
		args = append(args, opts.ScopeTag)
		where += fmt.Sprintf(" AND scope_tag = $%d", len(args))
	}
	query := fmt.Sprintf(`UPDATE %s SET last_accessed_at = $1, access_count = access_count + 1 %s`, c.collectionName, where)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgresadapter: record access: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agmerr.New("postgresadapter.RecordAccess", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id string, opts *storage.DeleteOptions) error {
	if opts == nil {
		opts = &storage.DeleteOptions{}
	}
	args := []interface{}{id}
	where := "WHERE id = $1"
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.ScopeTag != "" {
		args = append(args, opts.ScopeTag)
		where += fmt.Sprintf(" AND scope_tag = $%d", len(args))
	}
	res, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", c.collectionName, where), args...)
	if err != nil {
		return fmt.Errorf("postgresadapter: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agmerr.New("postgresadapter.Delete", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return nil
}

func (c *Client) GetAll(ctx context.Context, opts *storage.GetAllOptions) ([]*domain.Memory, error) {
	if opts == nil {
		opts = &storage.GetAllOptions{}
	}
	where, args := buildWhereClause(opts.TenantID, opts.ScopeTag)
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit, opts.Offset)
	query := fmt.Sprintf(`
		SELECT id, tenant_id, scope_tag, level, memory_type, content, content_hash, embedding, metadata,
		       importance, version, created_at, updated_at, last_accessed_at, access_count, archived, 0
		FROM %s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, c.collectionName, where, len(args)-1, len(args))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgresadapter: getall: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return c.scanMemories(rows)
}

func (c *Client) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) error {
	if opts == nil {
		opts = &storage.DeleteAllOptions{}
	}
	where, args := buildWhereClause(opts.TenantID, opts.ScopeTag)
	_, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", c.collectionName, where), args...)
	return err
}

func (c *Client) CountVectors(ctx context.Context, scopeTag string) (int, error) {
	where, args := "", []interface{}{}
	if scopeTag != "" {
		where, args = "WHERE scope_tag = $1", []interface{}{scopeTag}
	}
	var n int
	err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s %s", c.collectionName, where), args...).Scan(&n)
	return n, err
}

func (c *Client) Clear(ctx context.Context, tenantID string) error {
	where, args := "", []interface{}{}
	if tenantID != "" {
		where, args = "WHERE tenant_id = $1", []interface{}{tenantID}
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

func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	switch config.IndexType {
	case storage.IndexTypeHNSW:
		query := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s
			USING hnsw (%s vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)
		`, config.IndexName, config.TableName, config.VectorField, config.HNSWParams.M, config.HNSWParams.EfConstruction)
		_, err := c.db.ExecContext(ctx, query)
		return err
	case storage.IndexTypeIVFFlat:
		query := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s
			USING ivfflat (%s vector_cosine_ops)
			WITH (lists = %d)
		`, config.IndexName, config.TableName, config.VectorField, config.IVFParams.Nlist)
		_, err := c.db.ExecContext(ctx, query)
		return err
	default:
		return fmt.Errorf("postgresadapter: unsupported index type: %s", config.IndexType)
	}
}

func buildWhereClause(tenantID, scopeTag string) (string, []interface{}) {
	return buildWhereClauseWithOffset(tenantID, scopeTag, 1)
}

func buildWhereClauseWithOffset(tenantID, scopeTag string, startIndex int) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	idx := startIndex
	if tenantID != "" {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", idx))
		args = append(args, tenantID)
		idx++
	}
	if scopeTag != "" {
		conditions = append(conditions, fmt.Sprintf("scope_tag = $%d", idx))
		args = append(args, scopeTag)
		idx++
	}
	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func vectorToString(vector []float32) string {
	if len(vector) == 0 {
		return "[]"
	}
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVectorString(s string) ([]float32, error) {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	result := make([]float32, len(parts))
	for i, part := range parts {
		var val float32
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &val); err != nil {
			return nil, err
		}
		result[i] = val
	}
	return result, nil
}

func (c *Client) scanMemory(row *sql.Row) (*domain.Memory, error) {
	return scanOne(row)
}

func (c *Client) scanMemories(rows *sql.Rows) ([]*domain.Memory, error) {
	var out []*domain.Memory
	for rows.Next() {
		m, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanOne(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.Memory, error) {
	var m domain.Memory
	var level string
	var memType sql.NullString
	var embeddingStr sql.NullString
	var metadataStr []byte
	var lastAccessed sql.NullTime
	var archived bool
	var similarity float64

	if err := scanner.Scan(
		&m.ID, &m.TenantID, &m.ScopeTag, &level, &memType, &m.Content, &m.ContentHash,
		&embeddingStr, &metadataStr, &m.Importance, &m.Version, &m.CreatedAt, &m.UpdatedAt,
		&lastAccessed, &m.AccessCount, &archived, &similarity,
	); err != nil {
		return nil, err
	}

	m.Level = domain.MemoryLevel(level)
	if memType.Valid {
		m.Type = domain.MemoryType(memType.String)
	}
	if embeddingStr.Valid {
		emb, err := parseVectorString(embeddingStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		m.Embedding = emb
	}
	if len(metadataStr) > 0 {
		if err := json.Unmarshal(metadataStr, &m.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if lastAccessed.Valid {
		m.LastAccessedAt = &lastAccessed.Time
	}
	m.Archived = archived
	m.Score = similarity
	return &m, nil
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
