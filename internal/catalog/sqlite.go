package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"traderd/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Accessor = (*SQLiteAccessor)(nil)

// SQLiteAccessor implements Accessor backed by a SQLite database. Universe
// replacement is transactional: delete-then-insert, so readers never observe
// a half-written universe.
type SQLiteAccessor struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS universe_members (
	universe  TEXT    NOT NULL,
	position  INTEGER NOT NULL,
	key       TEXT    NOT NULL,
	symbol    TEXT    NOT NULL,
	exchange  TEXT    NOT NULL,
	type      TEXT    NOT NULL,
	currency  TEXT    NOT NULL,
	time_zone TEXT    NOT NULL,
	PRIMARY KEY (universe, key)
);
CREATE INDEX IF NOT EXISTS idx_universe_members_order
	ON universe_members (universe, position);
`

// NewSQLiteAccessor opens (or creates) a SQLite database at dbPath and
// ensures the universe schema exists.
func NewSQLiteAccessor(dbPath string) (*SQLiteAccessor, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening catalog db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}
	return &SQLiteAccessor{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteAccessor) Close() error {
	return s.db.Close()
}

// Get loads the universe with the given name. An unknown name yields an
// empty universe.
func (s *SQLiteAccessor) Get(ctx context.Context, name string) (*Universe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, symbol, exchange, type, currency, time_zone
		FROM universe_members
		WHERE universe = ?
		ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("loading universe %q: %w", name, err)
	}
	defer rows.Close()

	u := NewUniverse(name)
	for rows.Next() {
		var inst domain.Instrument
		var typ string
		if err := rows.Scan(&inst.Key, &inst.Symbol, &inst.Exchange, &typ, &inst.Currency, &inst.TimeZone); err != nil {
			return nil, fmt.Errorf("scanning universe %q: %w", name, err)
		}
		inst.Type = domain.InstrumentType(typ)
		u.Append(inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading universe %q: %w", name, err)
	}
	return u, nil
}

// Update replaces the persisted universe with u.
func (s *SQLiteAccessor) Update(ctx context.Context, u *Universe) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("updating universe %q: %w", u.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM universe_members WHERE universe = ?`, u.Name); err != nil {
		return fmt.Errorf("clearing universe %q: %w", u.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO universe_members (universe, position, key, symbol, exchange, type, currency, time_zone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("updating universe %q: %w", u.Name, err)
	}
	defer stmt.Close()

	for i, inst := range u.Instruments() {
		if _, err := stmt.ExecContext(ctx, u.Name, i, inst.Key, inst.Symbol, inst.Exchange, string(inst.Type), inst.Currency, inst.TimeZone); err != nil {
			return fmt.Errorf("inserting %s into universe %q: %w", inst.Key, u.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing universe %q: %w", u.Name, err)
	}
	return nil
}

// List returns all persisted universes in name order.
func (s *SQLiteAccessor) List(ctx context.Context) ([]*Universe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT universe, key, symbol, exchange, type, currency, time_zone
		FROM universe_members
		ORDER BY universe, position`)
	if err != nil {
		return nil, fmt.Errorf("listing universes: %w", err)
	}
	defer rows.Close()

	var out []*Universe
	var current *Universe
	for rows.Next() {
		var name, typ string
		var inst domain.Instrument
		if err := rows.Scan(&name, &inst.Key, &inst.Symbol, &inst.Exchange, &typ, &inst.Currency, &inst.TimeZone); err != nil {
			return nil, fmt.Errorf("scanning universes: %w", err)
		}
		inst.Type = domain.InstrumentType(typ)
		if current == nil || current.Name != name {
			current = NewUniverse(name)
			out = append(out, current)
		}
		current.Append(inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading universes: %w", err)
	}
	return out, nil
}
