// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/threadwise/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingest_batches (
		id TEXT PRIMARY KEY,
		source_path TEXT,
		message_count INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		source TEXT NOT NULL,
		sentiment_score REAL,
		threat_detected INTEGER,
		batch_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_batch_id ON messages(batch_id);
	CREATE INDEX IF NOT EXISTS idx_messages_threat ON messages(threat_detected);
	`
	_, err := db.Exec(schema)
	return err
}

const messageColumns = `id, sender, recipient, content, timestamp, source, sentiment_score, threat_detected`

// SaveMessages upserts messages in a transaction. Timestamps are stored as their raw JSON
// so the original representation survives a round trip.
func (s *SQLiteStorage) SaveMessages(ctx context.Context, batch *models.IngestBatch, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if batch != nil {
		if batch.CreatedAt.IsZero() {
			batch.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingest_batches (id, source_path, message_count, created_at) VALUES (?, ?, ?, ?)`,
			batch.ID, batch.SourcePath, batch.MessageCount, batch.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to record batch: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (`+messageColumns+`, batch_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			sender = excluded.sender,
			recipient = excluded.recipient,
			content = excluded.content,
			timestamp = excluded.timestamp,
			source = excluded.source,
			sentiment_score = excluded.sentiment_score,
			threat_detected = excluded.threat_detected,
			batch_id = excluded.batch_id`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var batchID sql.NullString
	if batch != nil {
		batchID = sql.NullString{String: batch.ID, Valid: true}
	}
	now := time.Now()
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.MessageID == "" {
			return errors.New("message without message_id")
		}
		ts, err := m.Timestamp.MarshalStored()
		if err != nil {
			return fmt.Errorf("failed to marshal timestamp for %s: %w", m.MessageID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			m.MessageID, m.Sender, m.Recipient, m.Content, string(ts), m.Source,
			nullFloat(m.SentimentScore), nullBool(m.ThreatDetected), batchID, now,
		); err != nil {
			return fmt.Errorf("failed to save message %s: %w", m.MessageID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns all messages ordered by first ingest.
func (s *SQLiteStorage) ListMessages(ctx context.Context) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by ID.
func (s *SQLiteStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMessage removes a message by ID.
func (s *SQLiteStorage) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return nil
}

// ListBatches returns ingest batches, newest first.
func (s *SQLiteStorage) ListBatches(ctx context.Context) ([]*models.IngestBatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_path, message_count, created_at FROM ingest_batches ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []*models.IngestBatch{}
	for rows.Next() {
		var b models.IngestBatch
		var source sql.NullString
		if err := rows.Scan(&b.ID, &source, &b.MessageCount, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.SourcePath = source.String
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

// CountMessages returns the total number of messages.
func (s *SQLiteStorage) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var m models.Message
	var ts string
	var score sql.NullFloat64
	var threat sql.NullBool
	if err := row.Scan(&m.MessageID, &m.Sender, &m.Recipient, &m.Content, &ts, &m.Source, &score, &threat); err != nil {
		return nil, err
	}
	if err := m.Timestamp.UnmarshalStored([]byte(ts)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timestamp for %s: %w", m.MessageID, err)
	}
	if score.Valid {
		v := score.Float64
		m.SentimentScore = &v
	}
	if threat.Valid {
		v := threat.Bool
		m.ThreatDetected = &v
	}
	return &m, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
