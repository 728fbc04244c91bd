// Package storage: SQLite-backed stores.
//
// Information Hiding:
// - SQLite connection management hidden behind interfaces
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/selasie/charon/model"
)

// SqliteStore implements MessageStore, CitationStore and
// FileMetadataStore using a single SQLite database file.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id);

		CREATE TABLE IF NOT EXISTS source_records (
			message_id TEXT NOT NULL,
			file_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			pages TEXT NOT NULL,
			relevance REAL NOT NULL,
			per_page_relevance TEXT NOT NULL,
			storage_type TEXT NOT NULL,
			bucket TEXT,
			storage_key TEXT,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			access_count INTEGER DEFAULT 0,
			PRIMARY KEY (message_id, file_id)
		);

		CREATE INDEX IF NOT EXISTS idx_source_records_created
		ON source_records(created_at);

		CREATE TABLE IF NOT EXISTS files (
			file_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			mime_type TEXT,
			size_bytes INTEGER DEFAULT 0,
			source TEXT,
			bucket TEXT,
			storage_key TEXT,
			local_path TEXT
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// --- MessageStore ---

// SaveMessage stores a message.
func (s *SqliteStore) SaveMessage(ctx context.Context, msg model.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, conversation_id, user_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetOwnedMessage returns the message only when conversation and owner match.
func (s *SqliteStore) GetOwnedMessage(ctx context.Context, messageID, conversationID, userID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, user_id, created_at FROM messages
		 WHERE id = ? AND conversation_id = ? AND user_id = ?`,
		messageID, conversationID, userID,
	)

	var msg model.Message
	var createdAt int64
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	msg.CreatedAt = time.Unix(createdAt, 0)
	return &msg, nil
}

// DeleteConversation removes a conversation's messages and their records.
func (s *SqliteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM source_records WHERE message_id IN
		 (SELECT id FROM messages WHERE conversation_id = ?)`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversation records: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}

	return tx.Commit()
}

// --- CitationStore ---

// UpsertBatch writes records with merge-on-write semantics inside one
// transaction.
func (s *SqliteStore) UpsertBatch(ctx context.Context, records []model.SourceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		existing, err := scanRecord(tx.QueryRowContext(ctx,
			`SELECT message_id, file_id, file_name, pages, relevance, per_page_relevance,
			        storage_type, bucket, storage_key, created_at, accessed_at, access_count
			 FROM source_records WHERE message_id = ? AND file_id = ?`,
			rec.MessageID, rec.FileID,
		))
		if err != nil {
			return err
		}

		merged := rec
		if existing != nil {
			merged = *existing
			mergeRecords(&merged, rec)
		}
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = time.Now()
		}
		if merged.AccessedAt.IsZero() {
			merged.AccessedAt = merged.CreatedAt
		}

		pages, ppr, err := encodeRecordJSON(merged)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO source_records
			 (message_id, file_id, file_name, pages, relevance, per_page_relevance,
			  storage_type, bucket, storage_key, created_at, accessed_at, access_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			merged.MessageID, merged.FileID, merged.FileName, pages, merged.Relevance, ppr,
			string(merged.StorageType), merged.Bucket, merged.Key,
			merged.CreatedAt.Unix(), merged.AccessedAt.Unix(), merged.AccessCount,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert source record: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns the record for (messageID, fileID), or nil if absent.
func (s *SqliteStore) Get(ctx context.Context, messageID, fileID string) (*model.SourceRecord, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT message_id, file_id, file_name, pages, relevance, per_page_relevance,
		        storage_type, bucket, storage_key, created_at, accessed_at, access_count
		 FROM source_records WHERE message_id = ? AND file_id = ?`,
		messageID, fileID,
	))
}

// ListByMessage returns all records for a message, relevance descending.
func (s *SqliteStore) ListByMessage(ctx context.Context, messageID string) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, file_id, file_name, pages, relevance, per_page_relevance,
		        storage_type, bucket, storage_key, created_at, accessed_at, access_count
		 FROM source_records WHERE message_id = ? ORDER BY relevance DESC, file_id`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list source records: %w", err)
	}
	defer rows.Close()

	var records []model.SourceRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// RecordAccess bumps access bookkeeping for a record.
func (s *SqliteStore) RecordAccess(ctx context.Context, messageID, fileID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE source_records SET accessed_at = ?, access_count = access_count + 1
		 WHERE message_id = ? AND file_id = ?`,
		time.Now().Unix(), messageID, fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to update access tracking: %w", err)
	}
	return nil
}

// DeleteOlderThan removes records created before the cutoff.
func (s *SqliteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM source_records WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	return res.RowsAffected()
}

// --- FileMetadataStore ---

// GetFile returns metadata for a file id, or nil if unknown.
func (s *SqliteStore) GetFile(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_id, display_name, mime_type, size_bytes, source, bucket, storage_key, local_path
		 FROM files WHERE file_id = ?`, fileID)

	var meta model.FileMetadata
	var source string
	err := row.Scan(&meta.FileID, &meta.DisplayName, &meta.MimeType, &meta.SizeBytes,
		&source, &meta.Bucket, &meta.Key, &meta.LocalPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file metadata: %w", err)
	}
	meta.Source = model.StorageType(source)
	return &meta, nil
}

// GetFiles resolves a batch of ids in one query.
func (s *SqliteStore) GetFiles(ctx context.Context, fileIDs []string) (map[string]model.FileMetadata, error) {
	result := make(map[string]model.FileMetadata, len(fileIDs))
	if len(fileIDs) == 0 {
		return result, nil
	}

	query := `SELECT file_id, display_name, mime_type, size_bytes, source, bucket, storage_key, local_path
	          FROM files WHERE file_id IN (?` + repeatPlaceholder(len(fileIDs)-1) + `)`
	args := make([]interface{}, len(fileIDs))
	for i, id := range fileIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch query file metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var meta model.FileMetadata
		var source string
		if err := rows.Scan(&meta.FileID, &meta.DisplayName, &meta.MimeType, &meta.SizeBytes,
			&source, &meta.Bucket, &meta.Key, &meta.LocalPath); err != nil {
			return nil, fmt.Errorf("failed to scan file metadata: %w", err)
		}
		meta.Source = model.StorageType(source)
		result[meta.FileID] = meta
	}
	return result, rows.Err()
}

// PutFile stores metadata for a file.
func (s *SqliteStore) PutFile(ctx context.Context, meta model.FileMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO files
		 (file_id, display_name, mime_type, size_bytes, source, bucket, storage_key, local_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.FileID, meta.DisplayName, meta.MimeType, meta.SizeBytes,
		string(meta.Source), meta.Bucket, meta.Key, meta.LocalPath,
	)
	if err != nil {
		return fmt.Errorf("failed to store file metadata: %w", err)
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row *sql.Row) (*model.SourceRecord, error) {
	rec, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func scanRecordRow(row rowScanner) (*model.SourceRecord, error) {
	var rec model.SourceRecord
	var pages, ppr, storageType string
	var createdAt, accessedAt int64

	err := row.Scan(&rec.MessageID, &rec.FileID, &rec.FileName, &pages, &rec.Relevance,
		&ppr, &storageType, &rec.Bucket, &rec.Key, &createdAt, &accessedAt, &rec.AccessCount)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source record: %w", err)
	}

	if err := json.Unmarshal([]byte(pages), &rec.Pages); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	if err := json.Unmarshal([]byte(ppr), &rec.PerPageRelevance); err != nil {
		return nil, fmt.Errorf("failed to decode per-page relevance: %w", err)
	}
	rec.StorageType = model.StorageType(storageType)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.AccessedAt = time.Unix(accessedAt, 0)
	return &rec, nil
}

func encodeRecordJSON(rec model.SourceRecord) (pages, ppr string, err error) {
	p := rec.Pages
	if p == nil {
		p = []int{}
	}
	pagesBytes, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode pages: %w", err)
	}
	m := rec.PerPageRelevance
	if m == nil {
		m = map[int]float64{}
	}
	pprBytes, err := json.Marshal(m)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode per-page relevance: %w", err)
	}
	return string(pagesBytes), string(pprBytes), nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
