// Package database persists the history of study loads.
//
// Each load attempt of a viewer session is one row in loads; the datasets
// it produced, with their DICOM header metadata, are rows in datasets. The
// schema is applied from embedded migrations. DBService is the SQLite
// implementation of Store.
package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a load id does not exist.
var ErrNotFound = errors.New("not found")

// Load states as stored.
const (
	StateLoading   = "loading"
	StateLoaded    = "loaded"
	StateError     = "error"
	StateCancelled = "cancelled"
)

// Store defines load history persistence.
type Store interface {
	// InsertLoad records the start of a load attempt.
	InsertLoad(load *LoadRecord) error
	// FinishLoad sets the terminal state of a load.
	FinishLoad(loadID string, result LoadResult) error
	// InsertDatasets stores the datasets of a load in one transaction.
	InsertDatasets(loadID string, datasets []*Dataset) error

	// QueryLoads returns loads matching filter, most recent first.
	QueryLoads(filter LoadFilter) ([]*LoadRecord, error)
	// GetLoad returns one load or ErrNotFound.
	GetLoad(loadID string) (*LoadRecord, error)
	// GetDatasets returns the datasets of a load in load order.
	GetDatasets(loadID string) ([]*Dataset, error)
	// SearchMetadata finds datasets whose metadata contains query.
	SearchMetadata(query string, limit int) ([]*Dataset, error)
	// GetStats aggregates the whole history.
	GetStats() (*HistoryStats, error)
	// PruneBefore deletes loads started before the cutoff (unix nanos).
	PruneBefore(cutoff int64) (int64, error)

	Close() error
}

// ============================================================
// Domain Models
// ============================================================

// LoadRecord is one load attempt.
type LoadRecord struct {
	LoadID       string  `json:"load_id"`
	Generation   int64   `json:"generation"`
	ContainerID  string  `json:"container_id"`
	FileCount    int     `json:"file_count"`
	TotalBytes   int64   `json:"total_bytes"`
	State        string  `json:"state"`
	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	StartTime    int64   `json:"start_time"`
	EndTime      *int64  `json:"end_time,omitempty"`
	DatasetCount int     `json:"dataset_count"`
}

// DurationMs is the load time, or 0 while the load is unfinished.
func (l *LoadRecord) DurationMs() int64 {
	if l.EndTime == nil {
		return 0
	}
	return (*l.EndTime - l.StartTime) / 1e6
}

// Finished reports whether the load reached a terminal state.
func (l *LoadRecord) Finished() bool {
	return l.State != StateLoading
}

// LoadResult is the terminal outcome passed to FinishLoad.
type LoadResult struct {
	State        string
	ErrorCode    string
	ErrorMessage string
	EndTime      int64
	DatasetCount int
}

// Dataset is one dataset produced by a load.
type Dataset struct {
	LoadID    string            `json:"load_id"`
	DataID    string            `json:"data_id"`
	Position  int               `json:"position"`
	Modality  string            `json:"modality"`
	SeriesUID string            `json:"series_uid"`
	Metadata  map[string]string `json:"metadata"`
}

// LoadFilter defines query parameters for load listing.
type LoadFilter struct {
	State  *string `json:"state,omitempty"`
	Since  *int64  `json:"since,omitempty"` // Unix nanoseconds
	Until  *int64  `json:"until,omitempty"` // Unix nanoseconds
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// HistoryStats aggregates all recorded loads.
type HistoryStats struct {
	TotalLoads    int            `json:"total_loads"`
	ByState       map[string]int `json:"by_state"`
	TotalFiles    int            `json:"total_files"`
	TotalDatasets int            `json:"total_datasets"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	ByModality    map[string]int `json:"by_modality"`
}

// ============================================================
// DBService Implementation
// ============================================================

// DBService implements Store on SQLite. Writes are serialized by mu;
// reads share it.
type DBService struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	stmtInsertLoad    *sql.Stmt
	stmtFinishLoad    *sql.Stmt
	stmtInsertDataset *sql.Stmt
}

// NewDBService opens path, applies migrations and prepares statements.
// Use ":memory:" in tests.
func NewDBService(path string) (*DBService, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_cache_size=-64000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and ":memory:" databases
	// live only as long as their connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	svc := &DBService{db: db, path: path}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := svc.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}
	return svc, nil
}

func (s *DBService) prepareStatements() error {
	var err error

	s.stmtInsertLoad, err = s.db.Prepare(`
		INSERT INTO loads (load_id, generation, container_id, file_count, total_bytes,
			state, error_code, error_message, start_time, end_time, dataset_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertLoad: %w", err)
	}

	s.stmtFinishLoad, err = s.db.Prepare(`
		UPDATE loads SET state = ?, error_code = ?, error_message = ?, end_time = ?, dataset_count = ?
		WHERE load_id = ?
	`)
	if err != nil {
		return fmt.Errorf("preparing FinishLoad: %w", err)
	}

	s.stmtInsertDataset, err = s.db.Prepare(`
		INSERT INTO datasets (load_id, data_id, position, modality, series_uid, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(load_id, data_id) DO UPDATE SET
			metadata = excluded.metadata,
			modality = excluded.modality,
			series_uid = excluded.series_uid
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertDataset: %w", err)
	}
	return nil
}

// InsertLoad records a load attempt.
func (s *DBService) InsertLoad(load *LoadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.stmtInsertLoad.Exec(
		load.LoadID, load.Generation, load.ContainerID, load.FileCount, load.TotalBytes,
		load.State, load.ErrorCode, load.ErrorMessage, load.StartTime, load.EndTime,
		load.DatasetCount,
	)
	if err != nil {
		return fmt.Errorf("inserting load %s: %w", load.LoadID, err)
	}
	return nil
}

// FinishLoad stores the terminal outcome of a load.
func (s *DBService) FinishLoad(loadID string, result LoadResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.stmtFinishLoad.Exec(
		result.State, nullable(result.ErrorCode), nullable(result.ErrorMessage),
		result.EndTime, result.DatasetCount, loadID,
	)
	if err != nil {
		return fmt.Errorf("finishing load %s: %w", loadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing load %s: %w", loadID, ErrNotFound)
	}
	return nil
}

// InsertDatasets stores datasets in a single transaction.
func (s *DBService) InsertDatasets(loadID string, datasets []*Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning dataset transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.stmtInsertDataset)
	for _, ds := range datasets {
		meta, err := json.Marshal(ds.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata of %s: %w", ds.DataID, err)
		}
		if _, err := stmt.Exec(loadID, ds.DataID, ds.Position, ds.Modality, ds.SeriesUID, string(meta)); err != nil {
			return fmt.Errorf("inserting dataset %s: %w", ds.DataID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dataset transaction: %w", err)
	}
	return nil
}

// ============================================================
// Queries
// ============================================================

const loadColumns = `load_id, generation, container_id, file_count, total_bytes, state,
	error_code, error_message, start_time, end_time, dataset_count`

// QueryLoads returns loads matching filter, most recent first.
func (s *DBService) QueryLoads(filter LoadFilter) ([]*LoadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + loadColumns + ` FROM loads WHERE 1=1`
	args := make([]any, 0)

	if filter.State != nil {
		query += ` AND state = ?`
		args = append(args, *filter.State)
	}
	if filter.Since != nil {
		query += ` AND start_time >= ?`
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += ` AND start_time <= ?`
		args = append(args, *filter.Until)
	}

	query += ` ORDER BY start_time DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else {
		query += ` LIMIT 100`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying loads: %w", err)
	}
	defer rows.Close()
	return scanLoads(rows)
}

// GetLoad returns one load.
func (s *DBService) GetLoad(loadID string) (*LoadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+loadColumns+` FROM loads WHERE load_id = ?`, loadID)
	if err != nil {
		return nil, fmt.Errorf("querying load %s: %w", loadID, err)
	}
	defer rows.Close()

	loads, err := scanLoads(rows)
	if err != nil {
		return nil, err
	}
	if len(loads) == 0 {
		return nil, fmt.Errorf("load %s: %w", loadID, ErrNotFound)
	}
	return loads[0], nil
}

// GetDatasets returns the datasets of a load in load order.
func (s *DBService) GetDatasets(loadID string) ([]*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT load_id, data_id, position, modality, series_uid, metadata
		FROM datasets WHERE load_id = ? ORDER BY position
	`, loadID)
	if err != nil {
		return nil, fmt.Errorf("querying datasets of %s: %w", loadID, err)
	}
	defer rows.Close()
	return scanDatasets(rows)
}

// SearchMetadata matches query case-insensitively against metadata values,
// most recent loads first.
func (s *DBService) SearchMetadata(query string, limit int) ([]*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.db.Query(`
		SELECT d.load_id, d.data_id, d.position, d.modality, d.series_uid, d.metadata
		FROM datasets d
		JOIN loads l ON l.load_id = d.load_id
		WHERE lower(d.metadata) LIKE ? ESCAPE '\'
		ORDER BY l.start_time DESC, d.position
		LIMIT ?
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching metadata: %w", err)
	}
	defer rows.Close()
	return scanDatasets(rows)
}

// GetStats aggregates the whole history.
func (s *DBService) GetStats() (*HistoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &HistoryStats{ByState: map[string]int{}, ByModality: map[string]int{}}

	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(file_count), 0),
			AVG(CASE WHEN end_time IS NOT NULL THEN (end_time - start_time) / 1000000.0 END)
		FROM loads
	`).Scan(&stats.TotalLoads, &stats.TotalFiles, &avg)
	if err != nil {
		return nil, fmt.Errorf("querying load totals: %w", err)
	}
	stats.AvgDurationMs = avg.Float64

	if err := s.countInto(`SELECT state, COUNT(*) FROM loads GROUP BY state`, stats.ByState); err != nil {
		return nil, err
	}
	if err := s.countInto(`SELECT modality, COUNT(*) FROM datasets GROUP BY modality`, stats.ByModality); err != nil {
		return nil, err
	}
	for _, n := range stats.ByModality {
		stats.TotalDatasets += n
	}
	return stats, nil
}

func (s *DBService) countInto(query string, into map[string]int) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return fmt.Errorf("querying counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scanning count row: %w", err)
		}
		if key == "" {
			key = "unknown"
		}
		into[key] += n
	}
	return rows.Err()
}

// PruneBefore deletes loads started before cutoff along with their datasets.
func (s *DBService) PruneBefore(cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM loads WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning loads: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes prepared statements and the database.
func (s *DBService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []*sql.Stmt{s.stmtInsertLoad, s.stmtFinishLoad, s.stmtInsertDataset} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// ============================================================
// Scan Helpers
// ============================================================

func scanLoads(rows *sql.Rows) ([]*LoadRecord, error) {
	var loads []*LoadRecord
	for rows.Next() {
		l := &LoadRecord{}
		if err := rows.Scan(
			&l.LoadID, &l.Generation, &l.ContainerID, &l.FileCount, &l.TotalBytes, &l.State,
			&l.ErrorCode, &l.ErrorMessage, &l.StartTime, &l.EndTime, &l.DatasetCount,
		); err != nil {
			return nil, fmt.Errorf("scanning load row: %w", err)
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

func scanDatasets(rows *sql.Rows) ([]*Dataset, error) {
	var out []*Dataset
	for rows.Next() {
		d := &Dataset{}
		var meta string
		if err := rows.Scan(&d.LoadID, &d.DataID, &d.Position, &d.Modality, &d.SeriesUID, &meta); err != nil {
			return nil, fmt.Errorf("scanning dataset row: %w", err)
		}
		d.Metadata = make(map[string]string)
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			d.Metadata = map[string]string{"_raw": meta}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
