// Package sqlitestore persists memory records in a local SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/mattn/go-sqlite3"

	"github.com/vango-go/vai-memoir/pkg/memory"
)

// driverName is go-sqlite3 with a Unicode-aware fold function, since the
// built-in lower() only folds ASCII.
const driverName = "sqlite3_memoir"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("memoir_fold", strings.ToLower, true)
		},
	})
}

type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path   string
	Logger *slog.Logger
}

type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens the database and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlitestore: database path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, now: time.Now, logger: cfg.Logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	cfg.Logger.Debug("sqlite memory store ready", "path", cfg.Path)
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            title TEXT NOT NULL,
            content TEXT NOT NULL,
            tags JSON,
            occurred_on TEXT,
            location TEXT,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec memory.Record) (memory.Record, error) {
	rec = memory.Prepare(rec, s.now())
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return memory.Record{}, fmt.Errorf("sqlitestore: encode tags: %w", err)
	}
	var occurred sql.NullString
	if rec.OccurredOn != nil {
		occurred = sql.NullString{String: rec.OccurredOn.String(), Valid: true}
	}
	var location sql.NullString
	if rec.Location != nil {
		location = sql.NullString{String: *rec.Location, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO memories(id, user_id, title, content, tags, occurred_on, location, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?);
    `, rec.ID, rec.UserID, rec.Title, rec.Content, string(tags), occurred, location, rec.CreatedAt.UnixNano())
	if err != nil {
		return memory.Record{}, fmt.Errorf("sqlitestore: insert memory: %w", err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (memory.Record, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, title, content, tags, occurred_on, location, created_at
        FROM memories WHERE id = ? AND user_id = ?;
    `, id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Record{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("sqlitestore: get memory: %w", err)
	}
	return rec, nil
}

func (s *Store) Search(ctx context.Context, userID string, q memory.Query) ([]memory.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, title, content, tags, occurred_on, location, created_at
        FROM memories
        WHERE user_id = ?1
          AND (?2 = '' OR instr(memoir_fold(title), ?2) > 0 OR instr(memoir_fold(content), ?2) > 0)
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?3;
    `, userID, normalizeText(q.Text), q.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: search memories: %w", err)
	}
	defer rows.Close()

	out := make([]memory.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			if rec.ID == "" {
				return nil, fmt.Errorf("sqlitestore: scan memory: %w", err)
			}
			s.logger.Warn("skipping undecodable memory", "memory_id", rec.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord keeps the id on decode failures so callers can name the bad row.
func scanRecord(sc scanner) (memory.Record, error) {
	var (
		rec       memory.Record
		tags      sql.NullString
		occurred  sql.NullString
		location  sql.NullString
		createdAt int64
	)
	if err := sc.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Content, &tags, &occurred, &location, &createdAt); err != nil {
		return memory.Record{}, err
	}
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &rec.Tags); err != nil {
			return memory.Record{ID: rec.ID}, fmt.Errorf("decode tags: %w", err)
		}
	}
	if occurred.Valid {
		d, err := civil.ParseDate(occurred.String)
		if err != nil {
			return memory.Record{ID: rec.ID}, fmt.Errorf("decode occurred_on: %w", err)
		}
		rec.OccurredOn = &d
	}
	if location.Valid {
		l := location.String
		rec.Location = &l
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}
