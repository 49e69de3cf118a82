package store

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore is the durable Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path, applies pragmas and migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := OpenSQLiteDB(path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// OpenSQLiteDB opens a sqlite handle with the pragmas every store in this service uses.
func OpenSQLiteDB(dsn string) (*sql.DB, error) {
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			token   TEXT PRIMARY KEY,
			id      TEXT NOT NULL,
			email   TEXT NOT NULL DEFAULT '',
			plan    TEXT NOT NULL DEFAULT 'free',
			founder INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			route_key  TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL DEFAULT 'private',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			parts      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat    ON messages(chat_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at DESC);

		CREATE TABLE IF NOT EXISTS memories (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			route         TEXT NOT NULL DEFAULT '',
			project_route TEXT NOT NULL DEFAULT '',
			raw_text      TEXT NOT NULL,
			approved_at   INTEGER,
			created_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS home_locations (
			owner_id TEXT NOT NULL,
			route    TEXT NOT NULL,
			text     TEXT NOT NULL,
			PRIMARY KEY (owner_id, route)
		);

		CREATE TABLE IF NOT EXISTS stream_ids (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_stream_ids_chat ON stream_ids(chat_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Chats ───────────────────────────────────────────────────────────────────

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (chat.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, route_key, visibility, created_at FROM chats WHERE id = ?`, id)
	var (
		c       chat.Chat
		vis     string
		created int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.RouteKey, &vis, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Chat{}, ErrChatNotFound
		}
		return chat.Chat{}, fmt.Errorf("store: get chat: %w", err)
	}
	c.Visibility = chat.Visibility(vis)
	c.CreatedAt = fromMillis(created)
	return c, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, c chat.Chat) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, route_key, visibility, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.RouteKey, string(c.Visibility), toMillis(c.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrChatExists
		}
		return fmt.Errorf("store: create chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("store: update chat title: %w", err)
	}
	return expectOne(res, ErrChatNotFound)
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) (chat.Chat, error) {
	c, err := s.GetChat(ctx, id)
	if err != nil {
		return chat.Chat{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return chat.Chat{}, fmt.Errorf("store: delete chat: %w", err)
	}
	return c, nil
}

// ─── Messages ────────────────────────────────────────────────────────────────

func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, parts, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			msg     chat.Message
			role    string
			parts   string
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &parts, &created); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("store: decode parts of %s: %w", msg.ID, err)
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = fromMillis(created)
		out = append(out, msg)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) SaveMessages(ctx context.Context, messages []chat.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, msg := range messages {
			if err := saveMessage(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateMessageParts(ctx context.Context, chatID, id string, parts []chat.Part) error {
	return updateMessageParts(ctx, s.db, chatID, id, parts)
}

func (s *SQLiteStore) ApplyMessages(ctx context.Context, chatID string, updates, inserts []chat.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, msg := range updates {
			if err := updateMessageParts(ctx, tx, chatID, msg.ID, msg.Parts); err != nil {
				return err
			}
		}
		for _, msg := range inserts {
			msg.ChatID = chatID
			if err := saveMessage(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// saveMessage upserts one row. The update branch only fires inside the same chat, so a
// foreign id affects no row.
func saveMessage(ctx context.Context, db execer, msg chat.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("store: encode parts of %s: %w", msg.ID, err)
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, parts, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET parts = excluded.parts
		 WHERE messages.chat_id = excluded.chat_id`,
		msg.ID, msg.ChatID, string(msg.Role), string(parts), toMillis(msg.CreatedAt))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "foreign key") {
			return ErrChatNotFound
		}
		return fmt.Errorf("store: save message %s: %w", msg.ID, err)
	}
	return expectOne(res, ErrMessageConflict)
}

func updateMessageParts(ctx context.Context, db execer, chatID, id string, parts []chat.Part) error {
	encoded, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("store: encode parts of %s: %w", id, err)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE messages SET parts = ? WHERE id = ? AND chat_id = ?`, string(encoded), id, chatID)
	if err != nil {
		return fmt.Errorf("store: update message parts: %w", err)
	}
	return expectOne(res, ErrMessageNotFound)
}

func (s *SQLiteStore) CountUserMessages(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m JOIN chats c ON c.id = m.chat_id
		 WHERE c.user_id = ? AND m.role = 'user' AND m.created_at >= ?`,
		userID, toMillis(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return count, nil
}

// ─── Memories ────────────────────────────────────────────────────────────────

func (s *SQLiteStore) ApprovedMemories(ctx context.Context, q MemoryQuery) ([]chat.MemoryRecord, error) {
	query := `SELECT id, owner_id, route, project_route, raw_text, approved_at, created_at
		FROM memories WHERE owner_id = ? AND approved_at IS NOT NULL`
	args := []any{q.OwnerID}
	if q.Route != "" {
		query += " AND route = ?"
		args = append(args, q.Route)
	}
	if q.ProjectRoute != "" {
		query += " AND project_route = ?"
		args = append(args, q.ProjectRoute)
	}
	query += " ORDER BY created_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query memories: %w", err)
	}
	defer rows.Close()

	var out []chat.MemoryRecord
	for rows.Next() {
		var (
			m                 chat.MemoryRecord
			approved, created int64
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Route, &m.ProjectRoute, &m.RawText, &approved, &created); err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		m.ApprovedAt = fromMillis(approved)
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) HomeLocation(ctx context.Context, ownerID, route string) (chat.HomeLocation, bool, error) {
	h := chat.HomeLocation{OwnerID: ownerID, Route: route}
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM home_locations WHERE owner_id = ? AND route = ?`, ownerID, route).Scan(&h.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.HomeLocation{}, false, nil
	}
	if err != nil {
		return chat.HomeLocation{}, false, fmt.Errorf("store: home location: %w", err)
	}
	return h, true, nil
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, m chat.MemoryRecord) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var approved any
	if !m.ApprovedAt.IsZero() {
		approved = toMillis(m.ApprovedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, owner_id, route, project_route, raw_text, approved_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnerID, m.Route, m.ProjectRoute, m.RawText, approved, toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveHomeLocation(ctx context.Context, h chat.HomeLocation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO home_locations (owner_id, route, text) VALUES (?, ?, ?)
		 ON CONFLICT(owner_id, route) DO UPDATE SET text = excluded.text`,
		h.OwnerID, h.Route, h.Text)
	if err != nil {
		return fmt.Errorf("store: save home location: %w", err)
	}
	return nil
}

// ─── Streams ─────────────────────────────────────────────────────────────────

func (s *SQLiteStore) CreateStreamID(ctx context.Context, streamID, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_ids (id, chat_id, created_at) VALUES (?, ?, ?)`,
		streamID, chatID, time.Now().UTC().UnixNano())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "foreign key") {
			return ErrChatNotFound
		}
		return fmt.Errorf("store: create stream id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StreamIDs(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM stream_ids WHERE chat_id = ? ORDER BY created_at DESC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: stream ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Users ───────────────────────────────────────────────────────────────────

func (s *SQLiteStore) UserByToken(ctx context.Context, token string) (user.User, error) {
	var (
		u       user.User
		plan    string
		founder int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, plan, founder FROM users WHERE token = ?`, token).Scan(&u.ID, &u.Email, &plan, &founder)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("store: user by token: %w", err)
	}
	u.Plan = user.Plan(plan)
	u.Founder = founder != 0
	return u, nil
}

func (s *SQLiteStore) SaveUser(ctx context.Context, u user.User, token string) error {
	founder := 0
	if u.Founder {
		founder = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (token, id, email, plan, founder) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET id = excluded.id, email = excluded.email,
		   plan = excluded.plan, founder = excluded.founder`,
		token, u.ID, u.Email, string(u.Plan), founder)
	if err != nil {
		return fmt.Errorf("store: save user: %w", err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "primary key")
}

var _ Store = (*SQLiteStore)(nil)
