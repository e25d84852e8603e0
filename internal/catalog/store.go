package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages batch history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// CreateBatch records a new batch and its documents in one transaction. The
// documents start pending regardless of the status on the passed structs.
func (s *Store) CreateBatch(ctx context.Context, batchID string, docs []Document) (*Batch, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, errors.New("batch id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, status, total, successful, failed, created_at, updated_at)
         VALUES (?, ?, ?, 0, 0, ?, ?)`,
		batchID, BatchRunning, len(docs), now, now,
	); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (
                id, batch_id, batch_index, source_path, display_name, status,
                progress, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			doc.ID, batchID, doc.BatchIndex, doc.SourcePath,
			nullableString(doc.DisplayName), DocumentPending, now, now,
		); err != nil {
			return nil, fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return s.GetBatch(ctx, batchID)
}

// MarkDocumentRunning flags a document as picked up by a runner.
func (s *Store) MarkDocumentRunning(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		DocumentRunning, time.Now().UTC().Format(time.RFC3339Nano), documentID,
	)
	if err != nil {
		return fmt.Errorf("mark document running: %w", err)
	}
	return nil
}

// UpdateDocument refreshes a document's in-flight snapshot: status,
// progress, stage statuses, and error message. Batch counters are untouched;
// RecordOutcome owns terminal accounting.
func (s *Store) UpdateDocument(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	statusesJSON := ""
	if len(doc.StageStatuses) > 0 {
		raw, err := json.Marshal(doc.StageStatuses)
		if err != nil {
			return fmt.Errorf("marshal stage statuses: %w", err)
		}
		statusesJSON = string(raw)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents
         SET status = ?, progress = ?, stage_statuses_json = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		doc.Status, doc.Progress, nullableString(statusesJSON), nullableString(doc.ErrorMessage),
		time.Now().UTC().Format(time.RFC3339Nano), doc.ID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// RecordOutcome persists a document's terminal state and bumps the parent
// batch counters in the same transaction.
func (s *Store) RecordOutcome(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	if !doc.Status.IsTerminal() {
		return fmt.Errorf("document %s status %q is not terminal", doc.ID, doc.Status)
	}

	statusesJSON := ""
	if len(doc.StageStatuses) > 0 {
		raw, err := json.Marshal(doc.StageStatuses)
		if err != nil {
			return fmt.Errorf("marshal stage statuses: %w", err)
		}
		statusesJSON = string(raw)
	}
	now := time.Now().UTC()
	doc.UpdatedAt = now
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents
         SET status = ?, progress = ?, stage_statuses_json = ?, error_message = ?,
             chunk_count = ?, vector_count = ?, entity_count = ?, relation_count = ?,
             updated_at = ?
         WHERE id = ?`,
		doc.Status, doc.Progress, nullableString(statusesJSON), nullableString(doc.ErrorMessage),
		doc.ChunkCount, doc.VectorCount, doc.EntityCount, doc.RelationCount,
		timestamp, doc.ID,
	); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	successDelta, failDelta := 0, 1
	if doc.Status == DocumentCompleted {
		successDelta, failDelta = 1, 0
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET successful = successful + ?, failed = failed + ?, updated_at = ? WHERE id = ?`,
		successDelta, failDelta, timestamp, doc.BatchID,
	); err != nil {
		return fmt.Errorf("update batch counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}

// CompleteBatch finalizes a batch row with its terminal counts.
func (s *Store) CompleteBatch(ctx context.Context, batchID string, successful, failed int) (*Batch, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, successful = ?, failed = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		BatchCompleted, successful, failed, now, now, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("complete batch: %w", err)
	}
	return s.GetBatch(ctx, batchID)
}

// GetBatch fetches a batch by identifier, returning nil when it is unknown.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, batchID)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// GetDocument fetches a document by identifier, returning nil when unknown.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, documentID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListBatches returns batches newest first, capped at limit when positive.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// ListDocuments returns a batch's documents ordered by their batch index.
func (s *Store) ListDocuments(ctx context.Context, batchID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE batch_id = ? ORDER BY batch_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FailInterrupted sweeps documents left in flight by an earlier daemon run
// and recomputes their batches' counters from the surviving rows. The
// batches move to interrupted so history distinguishes them from cleanly
// completed runs. It returns the number of documents failed.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ?, updated_at = ?
         WHERE status IN (?, ?)`,
		DocumentFailed, InterruptedReason, now, DocumentPending, DocumentRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted documents: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET
            successful = (SELECT COUNT(1) FROM documents d WHERE d.batch_id = batches.id AND d.status = 'completed'),
            failed = (SELECT COUNT(1) FROM documents d WHERE d.batch_id = batches.id AND d.status IN ('failed', 'aborted', 'cancelled')),
            status = ?, updated_at = ?
         WHERE status = ?`,
		BatchInterrupted, now, BatchRunning,
	); err != nil {
		return 0, fmt.Errorf("mark interrupted batches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return affected, nil
}

// Stats returns document counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[DocumentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[DocumentStatus]int)
	for rows.Next() {
		var status DocumentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates catalog state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Documents += count
		switch status {
		case DocumentPending:
			health.Pending += count
		case DocumentRunning:
			health.Running += count
		case DocumentCompleted:
			health.Completed += count
		case DocumentFailed, DocumentAborted, DocumentCancelled:
			health.Failed += count
		}
	}
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM batches`)
	if err := row.Scan(&health.Batches); err != nil {
		return HealthSummary{}, fmt.Errorf("count batches: %w", err)
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the catalog database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("catalog database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat catalog database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("catalog database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("catalog database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping catalog database: %w", err)
	}
	health.DatabaseReadable = true

	var tables int
	row := s.db.QueryRowContext(connCtx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name IN ('batches', 'documents')")
	if err := row.Scan(&tables); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TablesPresent = tables == 2

	if health.TablesPresent {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM batches")
		if err := row.Scan(&health.TotalBatches); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count batches: %w", err)
		}
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM documents")
		if err := row.Scan(&health.TotalDocuments); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count documents: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// ClearCompleted removes completed and interrupted batches together with
// their documents. Running batches are left alone. It returns the number of
// batches removed.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batches WHERE status IN (?, ?)`, BatchCompleted, BatchInterrupted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all batches and documents from the catalog.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batches`)
	if err != nil {
		return 0, fmt.Errorf("clear catalog: %w", err)
	}
	return res.RowsAffected()
}

const batchColumns = "id, status, total, successful, failed, created_at, updated_at, completed_at"

const documentColumns = "id, batch_id, batch_index, source_path, display_name, status, progress, stage_statuses_json, error_message, chunk_count, vector_count, entity_count, relation_count, created_at, updated_at"

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		id           string
		statusStr    string
		total        int
		successful   int
		failed       int
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &statusStr, &total, &successful, &failed, &createdRaw, &updatedRaw, &completedRaw); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:         id,
		Status:     BatchStatus(statusStr),
		Total:      total,
		Successful: successful,
		Failed:     failed,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		batch.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		batch.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			batch.CompletedAt = &completed
		}
	}
	return batch, nil
}

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		id            string
		batchID       string
		batchIndex    int
		sourcePath    string
		displayName   sql.NullString
		statusStr     string
		progress      float64
		statusesJSON  sql.NullString
		errorMessage  sql.NullString
		chunkCount    int
		vectorCount   int
		entityCount   int
		relationCount int
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)
	if err := scanner.Scan(
		&id, &batchID, &batchIndex, &sourcePath, &displayName, &statusStr,
		&progress, &statusesJSON, &errorMessage, &chunkCount, &vectorCount,
		&entityCount, &relationCount, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:            id,
		BatchID:       batchID,
		BatchIndex:    batchIndex,
		SourcePath:    sourcePath,
		DisplayName:   displayName.String,
		Status:        DocumentStatus(statusStr),
		Progress:      progress,
		ErrorMessage:  errorMessage.String,
		ChunkCount:    chunkCount,
		VectorCount:   vectorCount,
		EntityCount:   entityCount,
		RelationCount: relationCount,
	}
	if statusesJSON.Valid && statusesJSON.String != "" {
		statuses := make(map[string]string)
		if err := json.Unmarshal([]byte(statusesJSON.String), &statuses); err == nil {
			doc.StageStatuses = statuses
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		doc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		doc.UpdatedAt = updated
	}
	return doc, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
