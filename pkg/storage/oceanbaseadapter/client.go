// Package oceanbaseadapter implements storage.VectorStore on OceanBase,
// using a cosine_distance()-ordered MySQL-protocol idiom, extended to fill
// in a previously reserved "full-text search using opts.Query" extension
// point with a fulltext_content LIKE fallback, and re-keyed to tenant/scope
// columns and string memory ids.
package oceanbaseadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/domain"
	"github.com/agentmem/agentmem/pkg/storage"
)

// Config contains OceanBase connection configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
}

// Client is an OceanBase-backed VectorStore.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// NewClient opens an OceanBase connection (MySQL wire protocol) and ensures
// the schema exists.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("oceanbaseadapter: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("oceanbaseadapter: ping: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}
	c := &Client{db: db, config: cfg, collectionName: collection}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(128) NOT NULL,
			scope_tag VARCHAR(255) NOT NULL,
			level VARCHAR(32),
			memory_type VARCHAR(32),
			embedding VECTOR(%d),
			document LONGTEXT,
			fulltext_content LONGTEXT,
			metadata JSON,
			content_hash VARCHAR(64),
			importance DOUBLE DEFAULT 0,
			version INT DEFAULT 1,
			created_at VARCHAR(128),
			updated_at VARCHAR(128),
			last_accessed_at VARCHAR(128),
			access_count INT DEFAULT 0,
			archived TINYINT DEFAULT 0,
			INDEX idx_tenant_scope (tenant_id, scope_tag)
		)
	`, c.collectionName, c.config.EmbeddingModelDims)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("oceanbaseadapter: init tables: %w", err)
	}
	return nil
}

var _ storage.VectorStore = (*Client)(nil)

func (c *Client) Insert(ctx context.Context, mem *domain.Memory) error {
	if c.config.EmbeddingModelDims > 0 && len(mem.Embedding) > 0 && len(mem.Embedding) != c.config.EmbeddingModelDims {
		return agmerr.New("oceanbaseadapter.Insert", agmerr.KindInvalidInput, fmt.Errorf("embedding dimension %d != configured %d", len(mem.Embedding), c.config.EmbeddingModelDims))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, tenant_id, scope_tag, level, memory_type, document, fulltext_content, embedding, metadata, content_hash, importance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	metadataJSON, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("oceanbaseadapter: marshal metadata: %w", err)
	}
	version := mem.Version
	if version == 0 {
		version = 1
	}
	now := time.Now().Format(time.RFC3339)

	_, err = c.db.ExecContext(ctx, query,
		mem.ID, mem.TenantID, mem.ScopeTag, string(mem.Level), string(mem.Type), mem.Content, mem.Content,
		vectorToString(mem.Embedding), metadataJSON, mem.ContentHash, mem.Importance, version, now, now,
	)
	if err != nil {
		return fmt.Errorf("oceanbaseadapter: insert: %w", err)
	}
	return nil
}

func (c *Client) InsertBatch(ctx context.Context, mems []*domain.Memory) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("oceanbaseadapter: begin batch: %w", err)
	}
	for _, m := range mems {
		if err := c.Insert(ctx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Search runs cosine_distance ordered vector search, blended with an
// in-process text-overlap score when opts.Query is set. The
// fulltext_content LIKE match filters rows only when no tenant/scope
// clause is present, so it never widens a tenant-scoped search.
func (c *Client) Search(ctx context.Context, embedding []float32, opts *storage.SearchOptions) ([]*domain.Memory, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	queryVectorStr := vectorToString(embedding)
	whereClause, args := buildWhereClause(opts.TenantID, opts.ScopeTag)

	if opts.Query != "" && whereClause == "" {
		whereClause = "WHERE fulltext_content LIKE ?"
		args = append(args, "%"+opts.Query+"%")
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, scope_tag, level, memory_type, document, embedding, metadata,
		       content_hash, importance, version, created_at, updated_at, last_accessed_at, access_count, archived,
		       cosine_distance(embedding, ?) as distance
		FROM %s
		%s
		ORDER BY distance ASC
		LIMIT ?
	`, c.collectionName, whereClause)

	allArgs := []interface{}{queryVectorStr}
	allArgs = append(allArgs, args...)
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	allArgs = append(allArgs, limit)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("oceanbaseadapter: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out, err := c.scanMemories(rows, true)
	if err != nil {
		return nil, err
	}
	if opts.Query != "" {
		for _, m := range out {
			textS := textOverlapScore(opts.Query, m.Content)
			m.Score = (m.Score + textS) / 2
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
		SELECT id, tenant_id, scope_tag, level, memory_type, document, embedding, metadata,
		       content_hash, importance, version, created_at, updated_at, last_accessed_at, access_count, archived
		FROM %s %s
	`, c.collectionName, where)

	row := c.db.QueryRowContext(ctx, query, args...)
	m, err := c.scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, agmerr.New("oceanbaseadapter.Get", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("oceanbaseadapter: get: %w", err)
	}
	return m, nil
}

func (c *Client) Update(ctx context.Context, id string, content string, embedding []float32, opts *storage.UpdateOptions) (*domain.Memory, error) {
	if opts == nil {
		opts = &storage.UpdateOptions{}
	}
	now := time.Now().Format(time.RFC3339)
	where := "WHERE id = ?"
	args := []interface{}{content, content, vectorToString(embedding), now, id}
	if opts.TenantID != "" {
		where += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if opts.ScopeTag != "" {
		where += " AND scope_tag = ?"
		args = append(args, opts.ScopeTag)
	}
	query := fmt.Sprintf(`UPDATE %s SET document = ?, fulltext_content = ?, embedding = ?, updated_at = ?, version = version + 1 %s`, c.collectionName, where)

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("oceanbaseadapter: update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, agmerr.New("oceanbaseadapter.Update", agmerr.KindNotFound, agmerr.ErrNotFound)
	}
	return c.Get(ctx, id, &storage.GetOptions{TenantID: opts.TenantID, ScopeTag: opts.ScopeTag})
}

func (c *Client) RecordAccess(ctx context.Context, id string, opts *storage.GetOptions) error {
	if opts == nil {
		opts = &storage.GetOptions{}
	}
	now := time.Now().Format(time.RFC3339)
	where := "WHERE id = ?"
	args := []interface{}{now, id}
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
		return fmt.Errorf("oceanbaseadapter: record access: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agmerr.New("oceanbaseadapter.RecordAccess", agmerr.KindNotFound, agmerr.ErrNotFound)
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
	res, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", c.collectionName, where), args...)
	if err != nil {
		return fmt.Errorf("oceanbaseadapter: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agmerr.New("oceanbaseadapter.Delete", agmerr.KindNotFound, agmerr.ErrNotFound)
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
		SELECT id, tenant_id, scope_tag, level, memory_type, document, embedding, metadata,
		       content_hash, importance, version, created_at, updated_at, last_accessed_at, access_count, archived
		FROM %s %s ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, c.collectionName, where)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("oceanbaseadapter: getall: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return c.scanMemories(rows, false)
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

func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	var query string
	switch config.IndexType {
	case storage.IndexTypeHNSW:
		query = fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (%s) WITH (
				index_type = HNSW, M = %d, efConstruction = %d, metric_type = %s
			)`, config.IndexName, config.TableName, config.VectorField,
			config.HNSWParams.M, config.HNSWParams.EfConstruction, config.MetricType)
	case storage.IndexTypeIVFFlat:
		query = fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (%s) WITH (
				index_type = IVF_FLAT, nlist = %d, metric_type = %s
			)`, config.IndexName, config.TableName, config.VectorField,
			config.IVFParams.Nlist, config.MetricType)
	default:
		return fmt.Errorf("oceanbaseadapter: unsupported index type: %s", config.IndexType)
	}
	_, err := c.db.ExecContext(ctx, query)
	return err
}

func buildWhereClause(tenantID, scopeTag string) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if tenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, tenantID)
	}
	if scopeTag != "" {
		conditions = append(conditions, "scope_tag = ?")
		args = append(args, scopeTag)
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

func stringToVector(s string) ([]float32, error) {
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

func (c *Client) scanMemory(row *sql.Row) (*domain.Memory, error) { return scanOne(row, false) }

func (c *Client) scanMemories(rows *sql.Rows, hasScore bool) ([]*domain.Memory, error) {
	var out []*domain.Memory
	for rows.Next() {
		m, err := scanOne(rows, hasScore)
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
}, hasScore bool) (*domain.Memory, error) {
	var m domain.Memory
	var level, embeddingStr string
	var memType sql.NullString
	var metadataJSON []byte
	var contentHash, createdAt, updatedAt sql.NullString
	var lastAccessedAt sql.NullString
	var archived int
	var distance float64

	dest := []interface{}{
		&m.ID, &m.TenantID, &m.ScopeTag, &level, &memType, &m.Content, &embeddingStr, &metadataJSON,
		&contentHash, &m.Importance, &m.Version, &createdAt, &updatedAt, &lastAccessedAt, &m.AccessCount, &archived,
	}
	if hasScore {
		dest = append(dest, &distance)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	m.Level = domain.MemoryLevel(level)
	if memType.Valid {
		m.Type = domain.MemoryType(memType.String)
	}
	if contentHash.Valid {
		m.ContentHash = contentHash.String
	}
	if embeddingStr != "" {
		emb, err := stringToVector(embeddingStr)
		if err != nil {
			return nil, err
		}
		m.Embedding = emb
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, err
		}
	}
	if createdAt.Valid {
		if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
			m.CreatedAt = t
		}
	}
	if updatedAt.Valid {
		if t, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
			m.UpdatedAt = t
		}
	}
	if lastAccessedAt.Valid {
		if t, err := time.Parse(time.RFC3339, lastAccessedAt.String); err == nil {
			m.LastAccessedAt = &t
		}
	}
	m.Archived = archived != 0
	if hasScore {
		m.Score = 1.0 - distance
	}
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
