package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// zeroResultLimit bounds the persisted zero-result buffer.
const zeroResultLimit = 100

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS query_type_stats (
	date       TEXT NOT NULL,
	query_type TEXT NOT NULL,
	count      INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, query_type)
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	query     TEXT NOT NULL,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteMetricsStore implements Store on SQLite. Daily counters are keyed
// by date (YYYY-MM-DD) and only ever incremented.
type SQLiteMetricsStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteMetricsStore wraps an existing connection. The caller keeps
// ownership of db and must have run InitTelemetrySchema.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// OpenSQLiteMetricsStore opens or creates the telemetry database at path.
// Close releases the connection.
func OpenSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if err := InitTelemetrySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteMetricsStore{db: db, owned: true}, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	if _, err := db.Exec(telemetrySchema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// inTx runs fn with a statement prepared inside one transaction.
func (s *SQLiteMetricsStore) inTx(query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// scanCounts reads (key, count) rows into a map.
func scanCounts[K ~string](rows *sql.Rows, err error) (map[K]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[K]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[K(key)] = n
	}
	return out, rows.Err()
}

// SaveQueryTypeCounts adds daily search and failure counts per modality mix.
func (s *SQLiteMetricsStore) SaveQueryTypeCounts(date string, counts, failed map[QueryType]int64) error {
	return s.inTx(`
		INSERT INTO query_type_stats (date, query_type, count, failed) VALUES (?, ?, ?, ?)
		ON CONFLICT(date, query_type) DO UPDATE SET
			count = count + excluded.count,
			failed = failed + excluded.failed`,
		func(stmt *sql.Stmt) error {
			for qt, n := range counts {
				if _, err := stmt.Exec(date, string(qt), n, failed[qt]); err != nil {
					return fmt.Errorf("add %s searches: %w", qt, err)
				}
			}
			return nil
		})
}

// GetQueryTypeCounts sums searches per modality mix over [from, to].
func (s *SQLiteMetricsStore) GetQueryTypeCounts(from, to string) (map[QueryType]int64, error) {
	counts, err := scanCounts[QueryType](s.db.Query(`
		SELECT query_type, SUM(count) FROM query_type_stats
		WHERE date BETWEEN ? AND ? GROUP BY query_type`, from, to))
	if err != nil {
		return nil, fmt.Errorf("query type counts: %w", err)
	}
	return counts, nil
}

// GetFailureCounts sums failed searches per modality mix over [from, to].
// Mixes that never failed are omitted.
func (s *SQLiteMetricsStore) GetFailureCounts(from, to string) (map[QueryType]int64, error) {
	counts, err := scanCounts[QueryType](s.db.Query(`
		SELECT query_type, SUM(failed) FROM query_type_stats
		WHERE date BETWEEN ? AND ? GROUP BY query_type HAVING SUM(failed) > 0`, from, to))
	if err != nil {
		return nil, fmt.Errorf("failure counts: %w", err)
	}
	return counts, nil
}

// UpsertTermCounts adds to the lifetime frequency of each term.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.inTx(`
		INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP`,
		func(stmt *sql.Stmt) error {
			for term, n := range terms {
				if _, err := stmt.Exec(term, n); err != nil {
					return fmt.Errorf("add term %q: %w", term, err)
				}
			}
			return nil
		})
}

// GetTopTerms returns the most frequent terms, most frequent first.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery appends a query and drops all but the newest
// zeroResultLimit entries.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	if _, err := s.db.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`,
		query, timestamp); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	// the subquery is NULL, and nothing is deleted, below the limit
	if _, err := s.db.Exec(`
		DELETE FROM zero_result_queries WHERE id <= (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT 1 OFFSET ?
		)`, zeroResultLimit); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// GetZeroResultQueries returns the newest zero-result queries first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// SaveLatencyCounts adds daily latency histogram counts.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	return s.inTx(`
		INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
		func(stmt *sql.Stmt) error {
			for bucket, n := range counts {
				if _, err := stmt.Exec(date, string(bucket), n); err != nil {
					return fmt.Errorf("add %s latency: %w", bucket, err)
				}
			}
			return nil
		})
}

// GetLatencyCounts sums the latency histogram over [from, to].
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	counts, err := scanCounts[LatencyBucket](s.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date BETWEEN ? AND ? GROUP BY bucket`, from, to))
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	return counts, nil
}

// Close closes the connection if this store opened it.
func (s *SQLiteMetricsStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
