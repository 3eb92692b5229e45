// Package pgstore persists memory records in Postgres. Schema changes are embedded
// goose migrations applied on Open.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-memoir/pkg/memory"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Config struct {
	DSN      string
	MaxConns int32
	Logger   *slog.Logger
}

type Store struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger *slog.Logger
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("pgstore: dsn is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if err := migrate(ctx, pool, cfg.Logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, now: time.Now, logger: cfg.Logger}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("pgstore: migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("applied migration", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Create(ctx context.Context, rec memory.Record) (memory.Record, error) {
	rec = memory.Prepare(rec, s.now())
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return memory.Record{}, fmt.Errorf("pgstore: encode tags: %w", err)
	}
	var occurred *string
	if rec.OccurredOn != nil {
		d := rec.OccurredOn.String()
		occurred = &d
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memories (id, user_id, title, content, tags, occurred_on, location, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6::date, $7, $8)`,
		rec.ID, rec.UserID, rec.Title, rec.Content, tagsJSON, occurred, rec.Location, rec.CreatedAt)
	if err != nil {
		return memory.Record{}, fmt.Errorf("pgstore: insert memory: %w", err)
	}
	return rec, nil
}

const selectColumns = `id, user_id, title, content, tags, to_char(occurred_on, 'YYYY-MM-DD'), location, created_at`

func (s *Store) Get(ctx context.Context, userID, id string) (memory.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM memories WHERE id = $1 AND user_id = $2`, id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Record{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("pgstore: get memory: %w", err)
	}
	return rec, nil
}

func (s *Store) Search(ctx context.Context, userID string, q memory.Query) ([]memory.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM memories
		 WHERE user_id = $1
		   AND ($2::text = '' OR strpos(lower(title), $2) > 0 OR strpos(lower(content), $2) > 0)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		userID, strings.ToLower(strings.TrimSpace(q.Text)), q.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("pgstore: search memories: %w", err)
	}
	defer rows.Close()

	out := make([]memory.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			if rec.ID == "" {
				return nil, fmt.Errorf("pgstore: scan memory: %w", err)
			}
			s.logger.Warn("skipping undecodable memory", "memory_id", rec.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (memory.Record, error) {
	var (
		rec      memory.Record
		tags     []byte
		occurred *string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Content, &tags, &occurred, &rec.Location, &rec.CreatedAt); err != nil {
		return memory.Record{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return memory.Record{ID: rec.ID}, fmt.Errorf("decode tags: %w", err)
		}
	}
	rec.Tags = memory.NormalizeTags(rec.Tags)
	if occurred != nil {
		d, err := civil.ParseDate(*occurred)
		if err != nil {
			return memory.Record{ID: rec.ID}, fmt.Errorf("decode occurred_on: %w", err)
		}
		rec.OccurredOn = &d
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
