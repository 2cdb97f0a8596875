// Package pg implements store.VectorStore on PostgreSQL with the
// pgvector extension. Similarity ranking and dockey filters are pushed
// down into SQL.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/sweetpotato0/policyqa/document"
	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/store"
)

// Config holds pgvector configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int // Embedding dimension (default: 1536)
}

// DefaultConfig returns default pgvector configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:      "127.0.0.1",
		Port:      5432,
		User:      "postgres",
		Password:  "123456",
		DBName:    "policyqa",
		SSLMode:   "disable",
		Dimension: 1536,
	}
}

// Store implements store.VectorStore using PostgreSQL with pgvector.
type Store struct {
	db        *sql.DB
	dimension int
}

// New connects and prepares the schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := &Store{db: db, dimension: config.Dimension}
	if err := s.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to setup pgvector: %w", err)
	}
	return s, nil
}

func (s *Store) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createDocs := `
	CREATE TABLE IF NOT EXISTS documents (
		dockey VARCHAR(255) PRIMARY KEY,
		docname TEXT NOT NULL,
		citation TEXT NOT NULL,
		filepath TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := s.db.ExecContext(ctx, createDocs); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	createChunks := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS chunks (
		id VARCHAR(255) PRIMARY KEY,
		dockey VARCHAR(255) NOT NULL REFERENCES documents(dockey),
		name TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.dimension)
	if _, err := s.db.ExecContext(ctx, createChunks); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS chunks_dockey_idx ON chunks (dockey)"); err != nil {
		return fmt.Errorf("failed to create dockey index: %w", err)
	}
	return nil
}

// Add implements store.VectorStore.
func (s *Store) Add(ctx context.Context, chunks ...*document.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if c == nil || c.ID == "" || c.Doc == nil {
			return fmt.Errorf("chunk must have an id and a document")
		}
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s dimension mismatch: expected %d, got %d",
				c.ID, s.dimension, len(c.Embedding))
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (dockey, docname, citation, filepath)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (dockey) DO NOTHING`,
			c.Doc.Dockey, c.Doc.Docname, c.Doc.Citation, c.Doc.Filepath); err != nil {
			return fmt.Errorf("failed to upsert document: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, dockey, name, text, embedding)
			VALUES ($1, $2, $3, $4, $5::vector)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.Doc.Dockey, c.Name, c.Text, vectorToString(c.Embedding)); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

// SimilaritySearch implements store.VectorStore using the pgvector
// cosine distance operator. An empty corpus returns empty results
// without embedding the query.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int, embedder llm.Embedder, filter *store.Filter) ([]*document.Chunk, []float64, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	empty, err := s.isEmpty(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	if empty {
		return nil, nil, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil, fmt.Errorf("embedder returned no vector for query")
	}
	queryVec := vectorToString(vectors[0])

	sqlQuery := `
		SELECT c.id, c.name, c.text, c.embedding, 1 - (c.embedding <=> $1::vector) AS similarity,
			d.dockey, d.docname, d.citation, d.filepath
		FROM chunks c JOIN documents d ON c.dockey = d.dockey`
	args := []any{queryVec}
	if filter != nil && len(filter.Dockeys) > 0 {
		sqlQuery += " WHERE c.dockey = ANY($2)"
		args = append(args, pq.Array(filter.Dockeys))
	}
	sqlQuery += fmt.Sprintf(" ORDER BY c.embedding <=> $1::vector LIMIT %d", k)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*document.Chunk
	var scores []float64
	for rows.Next() {
		chunk, score, err := scanChunk(rows, true)
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, chunk)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, scores, nil
}

// BulkFetch implements store.VectorStore.
func (s *Store) BulkFetch(ctx context.Context, filter *store.Filter) ([]*document.Chunk, error) {
	sqlQuery := `
		SELECT c.id, c.name, c.text, c.embedding,
			d.dockey, d.docname, d.citation, d.filepath
		FROM chunks c JOIN documents d ON c.dockey = d.dockey`
	var args []any
	if filter != nil && len(filter.Dockeys) > 0 {
		sqlQuery += " WHERE c.dockey = ANY($1)"
		args = append(args, pq.Array(filter.Dockeys))
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*document.Chunk
	for rows.Next() {
		chunk, _, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

// Clear implements store.VectorStore.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE chunks, documents"); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

// ExistingDockeys returns the dockeys already ingested, for dedup
// before re-uploading.
func (s *Store) ExistingDockeys(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT dockey FROM documents")
	if err != nil {
		return nil, fmt.Errorf("failed to list dockeys: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var dockey string
		if err := rows.Scan(&dockey); err != nil {
			return nil, fmt.Errorf("failed to scan dockey: %w", err)
		}
		out[dockey] = true
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) isEmpty(ctx context.Context, filter *store.Filter) (bool, error) {
	sqlQuery := "SELECT EXISTS (SELECT 1 FROM chunks"
	var args []any
	if filter != nil && len(filter.Dockeys) > 0 {
		sqlQuery += " WHERE dockey = ANY($1)"
		args = append(args, pq.Array(filter.Dockeys))
	}
	sqlQuery += ")"

	var exists bool
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check corpus: %w", err)
	}
	return !exists, nil
}

func scanChunk(rows *sql.Rows, withScore bool) (*document.Chunk, float64, error) {
	var id, name, text, vectorStr string
	var dockey, docname, citation string
	var filepath sql.NullString
	var score float64

	var err error
	if withScore {
		err = rows.Scan(&id, &name, &text, &vectorStr, &score, &dockey, &docname, &citation, &filepath)
	} else {
		err = rows.Scan(&id, &name, &text, &vectorStr, &dockey, &docname, &citation, &filepath)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan chunk: %w", err)
	}

	vec, err := stringToVector(vectorStr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse vector for chunk %s: %w", id, err)
	}

	chunk := &document.Chunk{
		ID:   id,
		Name: name,
		Text: text,
		Doc: &document.Document{
			Dockey:   dockey,
			Docname:  docname,
			Citation: citation,
			Filepath: filepath.String,
		},
		Embedding: vec,
	}
	return chunk.WithPages(), score, nil
}

func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func stringToVector(str string) ([]float32, error) {
	str = strings.TrimPrefix(str, "[")
	str = strings.TrimSuffix(str, "]")
	parts := strings.Split(str, ",")

	vec := make([]float32, 0, len(parts))
	for i, part := range parts {
		var v float32
		n, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &v)
		if err != nil || n != 1 {
			return nil, fmt.Errorf("failed to parse vector component at index %d: %q", i, part)
		}
		vec = append(vec, v)
	}
	return vec, nil
}
