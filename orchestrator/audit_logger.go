// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"matchflow/platform/orchestrator/match"
)

const (
	auditQueueSize     = 10000
	auditFlushInterval = 5 * time.Second
	auditWriteTimeout  = 5 * time.Second
)

// AuditLogger records every orchestration decision to Postgres off the
// response path. Without a database it accepts and drops entries.
type AuditLogger struct {
	db          *sql.DB
	batchWriter *BatchWriter
	queue       chan *AuditEntry
	wg          sync.WaitGroup
	shutdown    chan struct{}
	closeOnce   sync.Once
	logger      *log.Logger
}

// AuditEntry is one row of match_decisions.
type AuditEntry struct {
	ID                string          `json:"id"`
	RequestID         string          `json:"request_id"`
	Timestamp         time.Time       `json:"timestamp"`
	UserID            string          `json:"user_id"`
	CacheKey          string          `json:"cache_key"`
	CacheHit          bool            `json:"cache_hit"`
	SelectedAlgorithm match.Algorithm `json:"selected_algorithm"`
	AlgorithmUsed     match.Algorithm `json:"algorithm_used"`
	SelectionReason   string          `json:"selection_reason"`
	FallbackUsed      bool            `json:"fallback_used"`
	Attempts          []Attempt       `json:"attempts"`
	ExecutionTimeMs   float64         `json:"execution_time_ms"`
	OffersCount       int             `json:"offers_count"`
	ResultsCount      int             `json:"results_count"`
}

// AuditFilter narrows Search. Zero values are ignored.
type AuditFilter struct {
	UserID    string    `json:"user_id"`
	Algorithm string    `json:"algorithm"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Limit     int       `json:"limit"`
}

// BatchWriter buffers entries and writes them in one transaction.
type BatchWriter struct {
	db        *sql.DB
	batchSize int
	entries   []*AuditEntry
	mu        sync.Mutex
	logger    *log.Logger
}

// NewAuditLogger connects to databaseURL. An empty URL or a failed
// connection yields a no-op logger.
func NewAuditLogger(databaseURL string, batchSize int) *AuditLogger {
	logger := log.New(os.Stdout, "[MATCH_AUDIT] ", log.LstdFlags)
	if databaseURL == "" {
		logger.Println("No audit database configured, decisions will not be persisted")
		return newNoopAuditLogger(logger)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Printf("Failed to connect to audit database: %v", err)
		return newNoopAuditLogger(logger)
	}
	return NewAuditLoggerWithDB(db, batchSize)
}

// NewAuditLoggerWithDB uses an existing handle and starts the worker.
func NewAuditLoggerWithDB(db *sql.DB, batchSize int) *AuditLogger {
	logger := log.New(os.Stdout, "[MATCH_AUDIT] ", log.LstdFlags)
	if batchSize <= 0 {
		batchSize = 100
	}

	if err := createDecisionTables(db); err != nil {
		logger.Printf("Failed to create audit tables: %v", err)
	}

	l := &AuditLogger{
		db:          db,
		batchWriter: NewBatchWriter(db, batchSize, logger),
		queue:       make(chan *AuditEntry, auditQueueSize),
		shutdown:    make(chan struct{}),
		logger:      logger,
	}
	l.wg.Add(1)
	go l.processQueue(auditFlushInterval)
	return l
}

func newNoopAuditLogger(logger *log.Logger) *AuditLogger {
	return &AuditLogger{
		queue:    make(chan *AuditEntry, auditQueueSize),
		shutdown: make(chan struct{}),
		logger:   logger,
	}
}

// NewAuditEntry builds an entry from a served response.
func NewAuditEntry(req *match.Request, resp *match.Response, cacheKey string, selected match.Algorithm,
	cacheHit, fallbackUsed bool, attempts []Attempt) *AuditEntry {
	return &AuditEntry{
		ID:                uuid.New().String(),
		RequestID:         req.RequestID,
		Timestamp:         time.Now().UTC(),
		UserID:            req.UserID,
		CacheKey:          cacheKey,
		CacheHit:          cacheHit,
		SelectedAlgorithm: selected,
		AlgorithmUsed:     resp.AlgorithmUsed,
		SelectionReason:   resp.SelectionReason,
		FallbackUsed:      fallbackUsed,
		Attempts:          attempts,
		ExecutionTimeMs:   resp.ExecutionTimeMs,
		OffersCount:       len(req.Offers),
		ResultsCount:      len(resp.Matches),
	}
}

// Log enqueues entry. A full queue falls back to a direct write.
func (l *AuditLogger) Log(entry *AuditEntry) {
	if l.db == nil {
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.logger.Printf("Audit queue full, writing directly")
		if err := l.batchWriter.Write([]*AuditEntry{entry}); err != nil {
			l.logger.Printf("Failed to write audit entry: %v", err)
		}
	}
}

// Enabled reports whether entries are persisted.
func (l *AuditLogger) Enabled() bool {
	return l.db != nil
}

// Close drains the queue, flushes and stops the worker.
func (l *AuditLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.shutdown)
		l.wg.Wait()
	})
}

// IsHealthy pings the database. A no-op logger is always healthy.
func (l *AuditLogger) IsHealthy() bool {
	if l.db == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return l.db.PingContext(ctx) == nil
}

// Search returns decisions matching filter, newest first.
func (l *AuditLogger) Search(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if l.db == nil {
		return []*AuditEntry{}, nil
	}

	query := `
		SELECT id, request_id, timestamp, user_id, cache_key, cache_hit,
			   selected_algorithm, algorithm_used, selection_reason, fallback_used,
			   attempts, execution_time_ms, offers_count, results_count
		FROM match_decisions
		WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.Algorithm != "" {
		query += fmt.Sprintf(" AND algorithm_used = $%d", argIndex)
		args = append(args, filter.Algorithm)
		argIndex++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, filter.StartTime)
		argIndex++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, filter.EndTime)
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query match decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*AuditEntry{}
	for rows.Next() {
		e := &AuditEntry{}
		var selected, used string
		var attemptsJSON []byte
		if err := rows.Scan(
			&e.ID,
			&e.RequestID,
			&e.Timestamp,
			&e.UserID,
			&e.CacheKey,
			&e.CacheHit,
			&selected,
			&used,
			&e.SelectionReason,
			&e.FallbackUsed,
			&attemptsJSON,
			&e.ExecutionTimeMs,
			&e.OffersCount,
			&e.ResultsCount,
		); err != nil {
			l.logger.Printf("Error scanning match decision: %v", err)
			continue
		}
		e.SelectedAlgorithm = match.Algorithm(selected)
		e.AlgorithmUsed = match.Algorithm(used)
		_ = json.Unmarshal(attemptsJSON, &e.Attempts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *AuditLogger) processQueue(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.queue:
			l.batchWriter.Add(entry)
		case <-ticker.C:
			l.batchWriter.Flush()
		case <-l.shutdown:
			for {
				select {
				case entry := <-l.queue:
					l.batchWriter.Add(entry)
				default:
					l.batchWriter.Flush()
					return
				}
			}
		}
	}
}

// NewBatchWriter creates a writer that flushes every batchSize entries.
func NewBatchWriter(db *sql.DB, batchSize int, logger *log.Logger) *BatchWriter {
	return &BatchWriter{
		db:        db,
		batchSize: batchSize,
		entries:   make([]*AuditEntry, 0, batchSize),
		logger:    logger,
	}
}

// Add buffers entry and flushes when the batch is full.
func (b *BatchWriter) Add(entry *AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) >= b.batchSize {
		b.flush()
	}
}

// Flush writes buffered entries.
func (b *BatchWriter) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flush()
}

// Pending returns the number of buffered entries.
func (b *BatchWriter) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *BatchWriter) flush() {
	if len(b.entries) == 0 {
		return
	}
	if err := b.Write(b.entries); err != nil {
		b.logger.Printf("Failed to write audit batch of %d: %v", len(b.entries), err)
	}
	b.entries = b.entries[:0]
}

// Write inserts entries in a single transaction.
func (b *BatchWriter) Write(entries []*AuditEntry) error {
	if b.db == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO match_decisions (
			id, request_id, timestamp, user_id, cache_key, cache_hit,
			selected_algorithm, algorithm_used, selection_reason, fallback_used,
			attempts, execution_time_ms, offers_count, results_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		attemptsJSON, _ := json.Marshal(e.Attempts)
		if _, err := stmt.ExecContext(ctx,
			e.ID,
			e.RequestID,
			e.Timestamp,
			e.UserID,
			e.CacheKey,
			e.CacheHit,
			string(e.SelectedAlgorithm),
			string(e.AlgorithmUsed),
			e.SelectionReason,
			e.FallbackUsed,
			attemptsJSON,
			e.ExecutionTimeMs,
			e.OffersCount,
			e.ResultsCount,
		); err != nil {
			b.logger.Printf("Failed to insert match decision %s: %v", e.ID, err)
		}
	}

	return tx.Commit()
}

// createDecisionTables creates match_decisions if it does not exist.
func createDecisionTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS match_decisions (
		id VARCHAR(64) PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		cache_key VARCHAR(64) NOT NULL,
		cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
		selected_algorithm VARCHAR(32) NOT NULL,
		algorithm_used VARCHAR(32) NOT NULL,
		selection_reason TEXT,
		fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
		attempts JSONB,
		execution_time_ms DOUBLE PRECISION,
		offers_count INTEGER,
		results_count INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_match_decisions_timestamp ON match_decisions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_match_decisions_user_id ON match_decisions(user_id);
	CREATE INDEX IF NOT EXISTS idx_match_decisions_algorithm_used ON match_decisions(algorithm_used);
	`

	_, err := db.Exec(query)
	return err
}
