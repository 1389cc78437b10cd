package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout sorts lexically in the same order as the instants it
// encodes (always UTC, fixed width).
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteAliasChunk bounds the number of placeholders per alias lookup.
const sqliteAliasChunk = 500

// SQLite is the single-node catalog backend.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates it.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer. One connection serializes every
	// read-advance-write on the counters table.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS id_counters (
	prefix     TEXT PRIMARY KEY,
	next_value INTEGER NOT NULL
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
	data               TEXT NOT NULL DEFAULT '{}',
	created_by         TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS parts_canonical_key_idx ON parts (canonical_key);
CREATE INDEX IF NOT EXISTS parts_name_norm_idx ON parts (name_norm);
CREATE INDEX IF NOT EXISTS parts_created_at_idx ON parts (created_at);

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
func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_categories`).Scan(&n); err != nil {
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
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ReserveRange advances the counter for prefix by count and returns the first
// value of the consumed range, in one statement.
func (s *SQLite) ReserveRange(ctx context.Context, prefix string, count int) (int64, error) {
	var start int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO id_counters (prefix, next_value)
		VALUES (?, ? + 1)
		ON CONFLICT (prefix) DO UPDATE
			SET next_value = id_counters.next_value + ?
		RETURNING next_value - ?`,
		prefix, count, count, count,
	).Scan(&start)
	if err != nil {
		return 0, fmt.Errorf("reserve %d for %s: %w", count, prefix, err)
	}
	return start, nil
}

// ResetCounters deletes every prefix counter.
func (s *SQLite) ResetCounters(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM id_counters`)
	if err != nil {
		return 0, fmt.Errorf("reset counters: %w", err)
	}
	return res.RowsAffected()
}

// SearchCandidates runs one candidate query.
func (s *SQLite) SearchCandidates(ctx context.Context, q CandidateQuery) ([]Part, error) {
	query, args := buildCandidateQuery(sqliteDialect, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}
	return collectSQLiteParts(rows)
}

// SearchCandidatesBatch runs the queries one after another on the same
// connection. Results are aligned with qs.
func (s *SQLite) SearchCandidatesBatch(ctx context.Context, qs []CandidateQuery) ([][]Part, error) {
	out := make([][]Part, len(qs))
	for i, q := range qs {
		parts, err := s.SearchCandidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out[i] = parts
	}
	return out, nil
}

// InsertParts inserts all parts in one transaction. A duplicate external_id
// aborts the whole batch with ErrDuplicate; nothing is overwritten.
func (s *SQLite) InsertParts(ctx context.Context, parts []Part) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range parts {
		p = prepareInsert(p, now)
		data, err := json.Marshal(p.Data)
		if err != nil {
			return fmt.Errorf("encode data for %s: %w", p.ExternalID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO parts (`+partColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ExternalID, p.PartName, p.NameNorm, p.CanonicalKey, p.InternalReference,
			p.ItemType, p.Revision, p.Prefix, nullableInt(p.Qty), p.Status, string(data),
			p.CreatedBy, p.CreatedAt.UTC().Format(sqliteTimeLayout),
		)
		if err != nil {
			if isSQLiteUniqueViolation(err) {
				return fmt.Errorf("%w: external_id %s", ErrDuplicate, p.ExternalID)
			}
			return fmt.Errorf("insert part %s: %w", p.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdatePart overwrites the mutable fields of an existing part.
func (s *SQLite) UpdatePart(ctx context.Context, p Part) (Part, error) {
	if p.Data == nil {
		p.Data = map[string]string{}
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return Part{}, fmt.Errorf("encode data for %s: %w", p.ExternalID, err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE parts SET
			part_name = ?, name_norm = ?, canonical_key = ?, internal_reference = ?,
			item_type = ?, revision = ?, qty = ?, status = ?, data = ?
		WHERE external_id = ?
		RETURNING `+partColumns,
		p.PartName, p.NameNorm, p.CanonicalKey, p.InternalReference,
		p.ItemType, p.Revision, nullableInt(p.Qty), p.Status, string(data),
		p.ExternalID,
	)
	updated, err := scanSQLitePart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Part{}, fmt.Errorf("part %s: %w", p.ExternalID, ErrNotFound)
	}
	if err != nil {
		return Part{}, fmt.Errorf("update part %s: %w", p.ExternalID, err)
	}
	return updated, nil
}

// ListParts returns parts newest first.
func (s *SQLite) ListParts(ctx context.Context, limit, offset int) ([]Part, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+partColumns+` FROM parts
		ORDER BY created_at DESC, external_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	return collectSQLiteParts(rows)
}

// DeletePart permanently removes a part and its aliases.
func (s *SQLite) DeletePart(ctx context.Context, externalID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM parts WHERE external_id = ?`, externalID)
	if err != nil {
		return fmt.Errorf("delete part %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("part %s: %w", externalID, ErrNotFound)
	}
	return nil
}

// LookupAliases returns the subset of keys that are known aliases.
func (s *SQLite) LookupAliases(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string)

	for start := 0; start < len(keys); start += sqliteAliasChunk {
		end := min(start+sqliteAliasChunk, len(keys))
		chunk := keys[start:end]

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")

		rows, err := s.db.QueryContext(ctx,
			`SELECT alias_norm, external_id FROM aliases WHERE alias_norm IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup aliases: %w", err)
		}
		for rows.Next() {
			var alias, id string
			if err := rows.Scan(&alias, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan alias: %w", err)
			}
			out[alias] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("lookup aliases: %w", err)
		}
	}
	return out, nil
}

// PutAliases records alias -> external ID mappings. Existing aliases keep
// their original target.
func (s *SQLite) PutAliases(ctx context.Context, aliases map[string]string) error {
	if len(aliases) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for alias, id := range aliases {
		if _, err := tx.ExecContext(ctx, `INSERT INTO aliases (alias_norm, external_id) VALUES (?, ?)
			ON CONFLICT (alias_norm) DO NOTHING`, alias, id); err != nil {
			return fmt.Errorf("put alias %s: %w", alias, err)
		}
	}
	return tx.Commit()
}

// ListCategories returns the item category names in order.
func (s *SQLite) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM item_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AddCategory adds a category; adding an existing one is a no-op.
func (s *SQLite) AddCategory(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_categories (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("add category %q: %w", name, err)
	}
	return nil
}

// RemoveCategory deletes a category.
func (s *SQLite) RemoveCategory(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM item_categories WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("remove category %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %q: %w", name, ErrNotFound)
	}
	return nil
}

// LastPrefix returns the prefix last used for module, or "".
func (s *SQLite) LastPrefix(ctx context.Context, module string) (string, error) {
	var prefix string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_prefix FROM module_settings WHERE module = ?`, module).Scan(&prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last prefix for %s: %w", module, err)
	}
	return prefix, nil
}

// SetLastPrefix remembers the prefix used for module.
func (s *SQLite) SetLastPrefix(ctx context.Context, module, prefix string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_settings (module, last_prefix) VALUES (?, ?)
		ON CONFLICT (module) DO UPDATE SET last_prefix = excluded.last_prefix`,
		module, prefix)
	if err != nil {
		return fmt.Errorf("set last prefix for %s: %w", module, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectSQLiteParts(rows *sql.Rows) ([]Part, error) {
	defer rows.Close()

	parts := make([]Part, 0)
	for rows.Next() {
		p, err := scanSQLitePart(rows)
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

func scanSQLitePart(row rowScanner) (Part, error) {
	var (
		p         Part
		qty       sql.NullInt64
		data      string
		createdAt string
	)
	err := row.Scan(
		&p.ExternalID, &p.PartName, &p.NameNorm, &p.CanonicalKey, &p.InternalReference,
		&p.ItemType, &p.Revision, &p.Prefix, &qty, &p.Status, &data, &p.CreatedBy, &createdAt,
	)
	if err != nil {
		return Part{}, err
	}
	if qty.Valid {
		v := int(qty.Int64)
		p.Qty = &v
	}
	p.Data = map[string]string{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &p.Data); err != nil {
			return Part{}, fmt.Errorf("decode data for %s: %w", p.ExternalID, err)
		}
	}
	if p.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return Part{}, fmt.Errorf("decode created_at for %s: %w", p.ExternalID, err)
	}
	return p, nil
}

func isSQLiteUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
