package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jpalmerr/workpump/item"
	"github.com/jpalmerr/workpump/migrations"
	_ "modernc.org/sqlite"
)

const sqliteColumns = `id, payload, queued, processed, failed, attempt_count, created_at, processed_at, failed_at`

// SQLiteStore is a [Store] backed by an embedded SQLite database.
//
// Timestamps are stored as Unix nanoseconds. A single connection is used so
// that concurrent writers queue inside database/sql instead of failing with
// SQLITE_BUSY.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at dsn and applies all
// pending migrations. dsn is any modernc.org/sqlite data source, for example
// "workpump.db" or "file:/var/lib/workpump/items.db". In-memory databases
// are not supported because every pooled connection would see its own copy;
// use [MemoryStore] instead.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// narrow the pool only after migrating: the migration driver may hold a
	// connection of its own while it runs
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// migrateSQLite applies the embedded sqlite migrations. The migrate instance
// is not closed: closing it would close db as well.
func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, "sqlite")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// SetClock sets the function used to stamp CreatedAt on insert.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert implements [Store].
func (s *SQLiteStore) Insert(ctx context.Context, payload string) (item.WorkItem, error) {
	it := item.New(payload, s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_items (id, payload, created_at) VALUES (?, ?, ?)`,
		it.ID.String(), it.Payload, it.CreatedAt.UnixNano(),
	)
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

// Get implements [Store].
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (item.WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM work_items WHERE id = ?`, id.String())
	it, err := scanSQLiteItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item.WorkItem{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("get %s: %w", id, err)
	}
	return it, nil
}

// Scan implements [Store].
func (s *SQLiteStore) Scan(ctx context.Context, f Filter, limit int) ([]item.WorkItem, error) {
	sb := selectWhere(sq.Select(sqliteColumns).From("work_items"), f).
		OrderBy("created_at ASC", "rowid ASC")
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("scan items: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	defer rows.Close()

	var results []item.WorkItem
	for rows.Next() {
		it, err := scanSQLiteItem(rows)
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
func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int, error) {
	query, args, err := selectWhere(sq.Select("COUNT(*)").From("work_items"), f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("count items: build query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// MarkQueued implements [Store] with a single UPDATE ... IN statement.
func (s *SQLiteStore) MarkQueued(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	query, args, err := sq.Update("work_items").
		Set("queued", true).
		Where(Unqueued.where()).
		Where(sq.Eq{"id": strIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("mark queued: build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	return nil
}

// IncrementAttempts implements [Store].
func (s *SQLiteStore) IncrementAttempts(ctx context.Context, id uuid.UUID) (item.WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE work_items SET attempt_count = attempt_count + 1, queued = TRUE
		 WHERE id = ? AND processed = FALSE AND failed = FALSE
		 RETURNING `+sqliteColumns, id.String())
	it, err := scanSQLiteItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item.WorkItem{}, transitionError(ctx, s, "increment attempts", id)
	}
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("increment attempts %s: %w", id, err)
	}
	return it, nil
}

// MarkProcessed implements [Store].
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.markTerminal(ctx, "mark processed",
		`UPDATE work_items SET processed = TRUE, processed_at = ?`, id, at)
}

// MarkFailed implements [Store].
func (s *SQLiteStore) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.markTerminal(ctx, "mark failed",
		`UPDATE work_items SET failed = TRUE, failed_at = ?`, id, at)
}

func (s *SQLiteStore) markTerminal(ctx context.Context, op, set string, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		set+` WHERE id = ? AND queued = TRUE AND processed = FALSE AND failed = FALSE`,
		at.UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 0 {
		return transitionError(ctx, s, op, id)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteItem(r rowScanner) (item.WorkItem, error) {
	var (
		id                        string
		it                        item.WorkItem
		queued, processed, failed bool
		createdAt                 int64
		processedAt, failedAt     sql.NullInt64
	)
	if err := r.Scan(&id, &it.Payload, &queued, &processed, &failed,
		&it.AttemptCount, &createdAt, &processedAt, &failedAt); err != nil {
		return item.WorkItem{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	it.ID = parsed

	state, err := item.FromFlags(queued, processed, failed)
	if err != nil {
		return item.WorkItem{}, fmt.Errorf("item %s: %w", id, err)
	}
	it.State = state
	it.CreatedAt = time.Unix(0, createdAt).UTC()
	it.ProcessedAt = nanosToTime(processedAt)
	it.FailedAt = nanosToTime(failedAt)
	return it, nil
}

func nanosToTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
