package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGVectorConfig configures the PostgreSQL-backed dense index.
// The database must have the extension installed:
//
//	CREATE EXTENSION IF NOT EXISTS vector;
type PGVectorConfig struct {
	DSN        string `yaml:"dsn" json:"dsn"`
	Table      string `yaml:"table" json:"table"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Metric     string `yaml:"metric" json:"metric"`
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorIndex implements DenseIndex over a pgvector table
// (idx INTEGER PRIMARY KEY, embedding vector(d)).
type PGVectorIndex struct {
	pool     *pgxpool.Pool
	table    string
	metric   string
	dim      int
	operator string

	mu    sync.RWMutex
	count int
}

// NewPGVectorIndex connects and ensures the table exists.
func NewPGVectorIndex(ctx context.Context, cfg PGVectorConfig) (*PGVectorIndex, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	table := cfg.Table
	if table == "" {
		table = "frame_embeddings"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	metric := cfg.Metric
	if metric == "" {
		metric = MetricCosine
	}
	op, err := distanceOperator(metric)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}

	idx := &PGVectorIndex{pool: pool, table: table, metric: metric, dim: cfg.Dimensions, operator: op}
	if err := idx.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := idx.refreshCount(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func distanceOperator(metric string) (string, error) {
	switch metric {
	case MetricCosine:
		return "<=>", nil
	case MetricL2:
		return "<->", nil
	default:
		return "", fmt.Errorf("unknown metric %q (valid: cos, l2)", metric)
	}
}

func (s *PGVectorIndex) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			idx INTEGER PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, s.table, s.dim),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGVectorIndex) refreshCount(ctx context.Context) error {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return fmt.Errorf("count vectors: %w", err)
	}
	s.mu.Lock()
	s.count = n
	s.mu.Unlock()
	return nil
}

// Add upserts vectors in a single batch.
func (s *PGVectorIndex) Add(ctx context.Context, indices []int, vectors [][]float32) error {
	if len(indices) != len(vectors) {
		return fmt.Errorf("indices and vectors length mismatch: %d vs %d", len(indices), len(vectors))
	}
	if len(indices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := fmt.Sprintf(`INSERT INTO %s (idx, embedding) VALUES ($1, $2)
		ON CONFLICT (idx) DO UPDATE SET embedding = EXCLUDED.embedding`, s.table)
	for i, idx := range indices {
		if idx < 0 {
			return fmt.Errorf("invalid index position %d", idx)
		}
		if len(vectors[i]) != s.dim {
			return ErrDimensionMismatch{Expected: s.dim, Got: len(vectors[i])}
		}
		batch.Queue(query, idx, pgvector.NewVector(vectors[i]))
	}

	results := s.pool.SendBatch(ctx, batch)
	for range indices {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert vector: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return s.refreshCount(ctx)
}

// Search orders by the metric's distance operator.
func (s *PGVectorIndex) Search(ctx context.Context, query []float32, k int) ([]float32, []int, error) {
	if len(query) != s.dim {
		return nil, nil, ErrDimensionMismatch{Expected: s.dim, Got: len(query)}
	}
	size := s.Len()
	if k <= 0 || size == 0 {
		return nil, nil, nil
	}
	k = min(k, size)

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT idx, embedding %[2]s $1 AS distance
			FROM %[1]s
			ORDER BY embedding %[2]s $1, idx
			LIMIT $2`, s.table, s.operator),
		pgvector.NewVector(query), k)
	if err != nil {
		return nil, nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	distances := make([]float32, 0, k)
	indices := make([]int, 0, k)
	for rows.Next() {
		var (
			idx  int
			dist float64
		)
		if err := rows.Scan(&idx, &dist); err != nil {
			return nil, nil, fmt.Errorf("scan search row: %w", err)
		}
		if math.IsNaN(dist) {
			dist = math.Inf(1)
		}
		indices = append(indices, idx)
		distances = append(distances, float32(dist))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	distances, indices = padResults(distances, indices, k, size)
	return distances, indices, nil
}

// Vector fetches the stored embedding at a position.
func (s *PGVectorIndex) Vector(ctx context.Context, index int) ([]float32, bool, error) {
	var v pgvector.Vector
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT embedding FROM %s WHERE idx = $1`, s.table), index).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch vector: %w", err)
	}
	return v.Slice(), true, nil
}

// Len returns the row count observed at open or after the last Add.
func (s *PGVectorIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *PGVectorIndex) Dimensions() int { return s.dim }

// Truncate removes every stored vector; used by forced rebuilds.
func (s *PGVectorIndex) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table)); err != nil {
		return fmt.Errorf("truncate %s: %w", s.table, err)
	}
	slog.Info("pgvector_table_truncated", slog.String("table", s.table))
	return s.refreshCount(ctx)
}

// Info describes the table.
func (s *PGVectorIndex) Info() IndexInfo {
	return IndexInfo{
		Backend:    "pgvector",
		Location:   s.table,
		Dimensions: s.dim,
		Metric:     s.metric,
		Count:      s.Len(),
	}
}

func (s *PGVectorIndex) Close() error {
	s.pool.Close()
	return nil
}

var _ DenseIndex = (*PGVectorIndex)(nil)
