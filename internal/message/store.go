package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound indicates no message exists with the given ID.
var ErrNotFound = errors.New("message not found")

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	query           TEXT NOT NULL,
	stage1_response TEXT,
	final_response  TEXT,
	metadata        TEXT,
	thumbs_up       INTEGER,
	feedback        TEXT,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at DESC);
`

// Store persists messages in SQLite. Safe for concurrent use; all state
// lives in the database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the message database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL mode for concurrent readers during streaming writes.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new message for the given query and returns it.
func (s *Store) Create(ctx context.Context, query string) (*Message, error) {
	msg := &Message{
		ID:        uuid.New(),
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, query, created_at) VALUES (?, ?, ?)`,
		msg.ID.String(), msg.Query, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("created message", "id", msg.ID)
	return msg, nil
}

// AttachStage1 records the grounded synthesis text and the retrieval
// metadata for a message. First of the pipeline's two writes.
func (s *Store) AttachStage1(ctx context.Context, id uuid.UUID, stage1 string, meta *Metadata) error {
	metaJSON, err := marshalMetadata(meta)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET stage1_response = ?, metadata = ? WHERE id = ?`,
		stage1, metaJSON, id.String())
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}

	return checkAffected(res, id)
}

// AttachFinal records the styled final response. Second and last pipeline
// write; the message is immutable afterwards except for feedback.
func (s *Store) AttachFinal(ctx context.Context, id uuid.UUID, final string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET final_response = ? WHERE id = ?`,
		final, id.String())
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}

	return checkAffected(res, id)
}

// SetFeedback records user feedback on a completed message.
func (s *Store) SetFeedback(ctx context.Context, id uuid.UUID, thumbsUp *bool, feedback *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET thumbs_up = ?, feedback = ? WHERE id = ?`,
		thumbsUp, feedback, id.String())
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}

	return checkAffected(res, id)
}

// Get returns a message by ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, stage1_response, final_response, metadata, thumbs_up, feedback, created_at
		 FROM messages WHERE id = ?`, id.String())

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading message %s: %w", id, err)
	}
	return msg, nil
}

// Recent returns up to limit messages, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, stage1_response, final_response, metadata, thumbs_up, feedback, created_at
		 FROM messages ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		idStr    string
		msg      Message
		metaJSON sql.NullString
	)

	if err := row.Scan(&idStr, &msg.Query, &msg.Stage1Response, &msg.FinalResponse,
		&metaJSON, &msg.ThumbsUp, &msg.Feedback, &msg.CreatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message ID %q: %w", idStr, err)
	}
	msg.ID = id

	if metaJSON.Valid && metaJSON.String != "" {
		var meta Metadata
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
			return nil, fmt.Errorf("parsing metadata for %s: %w", idStr, err)
		}
		msg.Metadata = &meta
	}

	return &msg, nil
}

func marshalMetadata(meta *Metadata) (sql.NullString, error) {
	if meta == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func checkAffected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
