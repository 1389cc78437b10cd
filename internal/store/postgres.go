package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Postgres is the shared catalog backend.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. Call Migrate before first use.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS id_counters (
	prefix     TEXT PRIMARY KEY,
	next_value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS parts (
	external_id        TEXT PRIMARY KEY,
	part_name          TEXT NOT NULL,
	name_norm          TEXT NOT NULL DEFAULT '',
	canonical_key      TEXT NOT NULL DEFAULT '',
	internal_reference TEXT NOT NULL DEFAULT '',
	item_type          TEXT NOT NULL DEFAULT '',
	revision           TEXT NOT NULL DEFAULT '',
	prefix             TEXT NOT NULL DEFAULT '',
	qty                INTEGER,
	status             TEXT NOT NULL DEFAULT '',
	data               JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_by         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS parts_canonical_key_idx ON parts (canonical_key);
CREATE INDEX IF NOT EXISTS parts_name_norm_idx ON parts (name_norm);
CREATE INDEX IF NOT EXISTS parts_created_at_idx ON parts (created_at DESC);

CREATE TABLE IF NOT EXISTS aliases (
	alias_norm  TEXT PRIMARY KEY,
	external_id TEXT NOT NULL REFERENCES parts (external_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS item_categories (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS module_settings (
	module      TEXT PRIMARY KEY,
	last_prefix TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates missing tables and seeds the default item categories.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM item_categories`).Scan(&n); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if n == 0 {
		for _, name := range DefaultCategories {
			if err := s.AddCategory(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ping verifies the connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *Postgres) Close() error {
	return nil
}

// ReserveRange advances the counter for prefix by count and returns the first
// value of the consumed range. The upsert takes the counter row lock for the
// duration of the statement, so concurrent reservations for one prefix are
// linearized while other prefixes proceed independently.
func (s *Postgres) ReserveRange(ctx context.Context, prefix string, count int) (int64, error) {
	var start int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO id_counters (prefix, next_value)
		VALUES ($1, $2::bigint + 1)
		ON CONFLICT (prefix) DO UPDATE
			SET next_value = id_counters.next_value + $2::bigint
		RETURNING next_value - $2::bigint`,
		prefix, int64(count),
	).Scan(&start)
	if err != nil {
		return 0, fmt.Errorf("reserve %d for %s: %w", count, prefix, err)
	}
	return start, nil
}

// ResetCounters deletes every prefix counter.
func (s *Postgres) ResetCounters(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM id_counters`)
	if err != nil {
		return 0, fmt.Errorf("reset counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SearchCandidates runs one candidate query.
func (s *Postgres) SearchCandidates(ctx context.Context, q CandidateQuery) ([]Part, error) {
	sql, args := buildCandidateQuery(postgresDialect, q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}
	return collectPgParts(rows)
}

// SearchCandidatesBatch runs all queries in a single round trip. Results are
// aligned with qs.
func (s *Postgres) SearchCandidatesBatch(ctx context.Context, qs []CandidateQuery) ([][]Part, error) {
	out := make([][]Part, len(qs))
	if len(qs) == 0 {
		return out, nil
	}

	batch := &pgx.Batch{}
	for _, q := range qs {
		sql, args := buildCandidateQuery(postgresDialect, q)
		batch.Queue(sql, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range qs {
		rows, err := br.Query()
		if err != nil {
			return nil, fmt.Errorf("search candidates (query %d): %w", i, err)
		}
		parts, err := collectPgParts(rows)
		if err != nil {
			return nil, fmt.Errorf("search candidates (query %d): %w", i, err)
		}
		out[i] = parts
	}
	return out, nil
}

// InsertParts inserts all parts in one transaction. A duplicate external_id
// aborts the whole batch with ErrDuplicate; nothing is overwritten.
func (s *Postgres) InsertParts(ctx context.Context, parts []Part) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, p := range parts {
		if err := insertPgPart(ctx, tx, prepareInsert(p, now)); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdatePart overwrites the mutable fields of an existing part.
func (s *Postgres) UpdatePart(ctx context.Context, p Part) (Part, error) {
	if p.Data == nil {
		p.Data = map[string]string{}
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return Part{}, fmt.Errorf("encode data for %s: %w", p.ExternalID, err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE parts SET
			part_name = $2, name_norm = $3, canonical_key = $4, internal_reference = $5,
			item_type = $6, revision = $7, qty = $8, status = $9, data = $10
		WHERE external_id = $1
		RETURNING `+partColumns,
		p.ExternalID, p.PartName, p.NameNorm, p.CanonicalKey, p.InternalReference,
		p.ItemType, p.Revision, nullableInt(p.Qty), p.Status, data,
	)
	updated, err := scanPgPart(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Part{}, fmt.Errorf("part %s: %w", p.ExternalID, ErrNotFound)
	}
	if err != nil {
		return Part{}, fmt.Errorf("update part %s: %w", p.ExternalID, err)
	}
	return updated, nil
}

// ListParts returns parts newest first.
func (s *Postgres) ListParts(ctx context.Context, limit, offset int) ([]Part, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+partColumns+` FROM parts
		ORDER BY created_at DESC, external_id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	return collectPgParts(rows)
}

// DeletePart permanently removes a part and its aliases.
func (s *Postgres) DeletePart(ctx context.Context, externalID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM parts WHERE external_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("delete part %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("part %s: %w", externalID, ErrNotFound)
	}
	return nil
}

// LookupAliases returns the subset of keys that are known aliases.
func (s *Postgres) LookupAliases(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT alias_norm, external_id FROM aliases WHERE alias_norm = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var alias, id string
		if err := rows.Scan(&alias, &id); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out[alias] = id
	}
	return out, rows.Err()
}

// PutAliases records alias -> external ID mappings. Existing aliases keep
// their original target.
func (s *Postgres) PutAliases(ctx context.Context, aliases map[string]string) error {
	if len(aliases) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for alias, id := range aliases {
		batch.Queue(`INSERT INTO aliases (alias_norm, external_id) VALUES ($1, $2)
			ON CONFLICT (alias_norm) DO NOTHING`, alias, id)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("put aliases: %w", err)
	}
	return nil
}

// ListCategories returns the item category names in order.
func (s *Postgres) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM item_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return names, nil
}

// AddCategory adds a category; adding an existing one is a no-op.
func (s *Postgres) AddCategory(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO item_categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("add category %q: %w", name, err)
	}
	return nil
}

// RemoveCategory deletes a category.
func (s *Postgres) RemoveCategory(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM item_categories WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("remove category %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("category %q: %w", name, ErrNotFound)
	}
	return nil
}

// LastPrefix returns the prefix last used for module, or "".
func (s *Postgres) LastPrefix(ctx context.Context, module string) (string, error) {
	var prefix string
	err := s.pool.QueryRow(ctx,
		`SELECT last_prefix FROM module_settings WHERE module = $1`, module).Scan(&prefix)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last prefix for %s: %w", module, err)
	}
	return prefix, nil
}

// SetLastPrefix remembers the prefix used for module.
func (s *Postgres) SetLastPrefix(ctx context.Context, module, prefix string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO module_settings (module, last_prefix) VALUES ($1, $2)
		ON CONFLICT (module) DO UPDATE SET last_prefix = EXCLUDED.last_prefix`,
		module, prefix)
	if err != nil {
		return fmt.Errorf("set last prefix for %s: %w", module, err)
	}
	return nil
}

func insertPgPart(ctx context.Context, q DBTX, p Part) error {
	data, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Errorf("encode data for %s: %w", p.ExternalID, err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO parts (`+partColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ExternalID, p.PartName, p.NameNorm, p.CanonicalKey, p.InternalReference,
		p.ItemType, p.Revision, p.Prefix, nullableInt(p.Qty), p.Status, data, p.CreatedBy, p.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: external_id %s", ErrDuplicate, p.ExternalID)
		}
		return fmt.Errorf("insert part %s: %w", p.ExternalID, err)
	}
	return nil
}

func collectPgParts(rows pgx.Rows) ([]Part, error) {
	defer rows.Close()

	parts := make([]Part, 0)
	for rows.Next() {
		p, err := scanPgPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

func scanPgPart(row pgx.Row) (Part, error) {
	var (
		p    Part
		qty  pgtype.Int4
		data []byte
	)
	err := row.Scan(
		&p.ExternalID, &p.PartName, &p.NameNorm, &p.CanonicalKey, &p.InternalReference,
		&p.ItemType, &p.Revision, &p.Prefix, &qty, &p.Status, &data, &p.CreatedBy, &p.CreatedAt,
	)
	if err != nil {
		return Part{}, err
	}
	if qty.Valid {
		v := int(qty.Int32)
		p.Qty = &v
	}
	p.Data = map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.Data); err != nil {
			return Part{}, fmt.Errorf("decode data for %s: %w", p.ExternalID, err)
		}
	}
	return p, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
