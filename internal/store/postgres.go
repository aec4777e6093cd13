package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jpalmerr/workpump/item"
	"github.com/jpalmerr/workpump/migrations"
)

const pgColumns = `id, payload, queued, processed, failed, attempt_count, created_at, processed_at, failed_at`

// psql builds postgres statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore is a [Store] backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore wraps an existing pool. The schema must already be
// migrated; see [MigratePostgres].
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// OpenPostgres connects to dsn, migrates the schema and returns a store that
// owns the pool. maxConns of zero keeps the pgx default.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	if err := MigratePostgres(dsn); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// MigratePostgres applies the embedded postgres migrations to dsn.
//
// golang-migrate requires a *sql.DB; pgx's stdlib adapter keeps a single
// driver project-wide. The connection is closed before returning.
func MigratePostgres(dsn string) error {
	src, err := iofs.New(migrations.FS, "postgres")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	// simple protocol lets postgres run multi-statement migration files
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// SetClock sets the function used to stamp CreatedAt on insert.
func (s *PostgresStore) SetClock(now func() time.Time) {
	s.now = now
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert implements [Store].
func (s *PostgresStore) Insert(ctx context.Context, payload string) (item.WorkItem, error) {
	// timestamptz keeps microseconds; truncate so the returned item matches
	// what a later Get reads back
	it := item.New(payload, s.now().Truncate(time.Microsecond))
	_, err := s.pool.Exec(ctx,
		`INSERT INTO work_items (id, payload, created_at) VALUES ($1, $2, $3)`,
		it.ID.String(), it.Payload, it.CreatedAt)
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (item.WorkItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM work_items WHERE id = $1`, id.String())
	it, err := scanPgItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return item.WorkItem{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("get %s: %w", id, err)
	}
	return it, nil
}

// Scan implements [Store].
func (s *PostgresStore) Scan(ctx context.Context, f Filter, limit int) ([]item.WorkItem, error) {
	sb := selectWhere(psql.Select(pgColumns).From("work_items"), f).
		OrderBy("created_at ASC", "seq ASC")
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("scan items: build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	defer rows.Close()

	var results []item.WorkItem
	for rows.Next() {
		it, err := scanPgItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan items: %w", err)
		}
		results = append(results, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	return results, nil
}

// Count implements [Store].
func (s *PostgresStore) Count(ctx context.Context, f Filter) (int, error) {
	query, args, err := selectWhere(psql.Select("COUNT(*)").From("work_items"), f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("count items: build query: %w", err)
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// MarkQueued implements [Store] with a single UPDATE ... = ANY statement.
func (s *PostgresStore) MarkQueued(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE work_items SET queued = TRUE
		 WHERE NOT queued AND NOT processed AND NOT failed
		   AND id = ANY($1::uuid[])`, strIDs)
	if err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	return nil
}

// IncrementAttempts implements [Store].
func (s *PostgresStore) IncrementAttempts(ctx context.Context, id uuid.UUID) (item.WorkItem, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE work_items SET attempt_count = attempt_count + 1, queued = TRUE
		 WHERE id = $1 AND NOT processed AND NOT failed
		 RETURNING `+pgColumns, id.String())
	it, err := scanPgItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return item.WorkItem{}, transitionError(ctx, s, "increment attempts", id)
	}
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("increment attempts %s: %w", id, err)
	}
	return it, nil
}

// MarkProcessed implements [Store].
func (s *PostgresStore) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.markTerminal(ctx, "mark processed",
		`UPDATE work_items SET processed = TRUE, processed_at = $1`, id, at)
}

// MarkFailed implements [Store].
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.markTerminal(ctx, "mark failed",
		`UPDATE work_items SET failed = TRUE, failed_at = $1`, id, at)
}

func (s *PostgresStore) markTerminal(ctx context.Context, op, set string, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		set+` WHERE id = $2 AND queued AND NOT processed AND NOT failed`,
		at, id.String())
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, s, op, id)
	}
	return nil
}

func scanPgItem(r pgx.Row) (item.WorkItem, error) {
	var (
		id                        pgtype.UUID
		it                        item.WorkItem
		queued, processed, failed bool
		processedAt, failedAt     pgtype.Timestamptz
	)
	if err := r.Scan(&id, &it.Payload, &queued, &processed, &failed,
		&it.AttemptCount, &it.CreatedAt, &processedAt, &failedAt); err != nil {
		return item.WorkItem{}, err
	}
	it.ID = uuid.UUID(id.Bytes)

	state, err := item.FromFlags(queued, processed, failed)
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("item %s: %w", it.ID, err)
	}
	it.State = state
	it.CreatedAt = it.CreatedAt.UTC()
	it.ProcessedAt = pgTime(processedAt)
	it.FailedAt = pgTime(failedAt)
	return it, nil
}

func pgTime(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}
