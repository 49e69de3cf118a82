package stream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/agenthub/backend/internal/store"
)

// ErrUnknownStream is returned for a stream id the log never saw.
var ErrUnknownStream = errors.New("unknown stream")

// LoggedFrame is one persisted SSE frame.
type LoggedFrame struct {
	Seq  int64
	Data []byte
}

// FrameLog is the durable mirror of response streams, kept in SQLite.
type FrameLog struct {
	db *sql.DB
}

// OpenFrameLog opens the log at dsn and creates its tables.
func OpenFrameLog(dsn string) (*FrameLog, error) {
	db, err := store.OpenSQLiteDB(dsn)
	if err != nil {
		return nil, err
	}
	l := &FrameLog{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("frame log: migration: %w", err)
	}
	return l, nil
}

func (l *FrameLog) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS stream_state (
			stream_id  TEXT PRIMARY KEY,
			done       INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS stream_frames (
			stream_id TEXT NOT NULL REFERENCES stream_state(stream_id) ON DELETE CASCADE,
			seq       INTEGER NOT NULL,
			data      BLOB NOT NULL,
			PRIMARY KEY (stream_id, seq)
		);
	`)
	return err
}

// Close closes the database.
func (l *FrameLog) Close() error {
	return l.db.Close()
}

// Open registers a new stream.
func (l *FrameLog) Open(ctx context.Context, streamID string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO stream_state (stream_id, done, updated_at) VALUES (?, 0, ?)`,
		streamID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("frame log: open %s: %w", streamID, err)
	}
	return nil
}

// Append stores frame seq of a stream.
func (l *FrameLog) Append(ctx context.Context, streamID string, seq int64, data []byte) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO stream_frames (stream_id, seq, data) VALUES (?, ?, ?)`,
		streamID, seq, data)
	if err != nil {
		return fmt.Errorf("frame log: append %s#%d: %w", streamID, seq, err)
	}
	return nil
}

// MarkDone flags a stream as complete.
func (l *FrameLog) MarkDone(ctx context.Context, streamID string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE stream_state SET done = 1, updated_at = ? WHERE stream_id = ?`,
		time.Now().UnixMilli(), streamID)
	return err
}

// Read returns the frames after seq and whether the stream is complete.
func (l *FrameLog) Read(ctx context.Context, streamID string, after int64) ([]LoggedFrame, bool, error) {
	var done int
	err := l.db.QueryRowContext(ctx, `SELECT done FROM stream_state WHERE stream_id = ?`, streamID).Scan(&done)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrUnknownStream
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT seq, data FROM stream_frames WHERE stream_id = ? AND seq > ? ORDER BY seq`,
		streamID, after)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var frames []LoggedFrame
	for rows.Next() {
		var f LoggedFrame
		if err := rows.Scan(&f.Seq, &f.Data); err != nil {
			return nil, false, err
		}
		frames = append(frames, f)
	}
	return frames, done == 1, rows.Err()
}
