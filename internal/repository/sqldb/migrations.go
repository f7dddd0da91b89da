package sqldb

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// migration holds a single schema migration with its target version and SQL.
// Column types are written as {{name}} and resolved per driver.
type migration struct {
	version int
	sql     string
}

var columnTypes = map[string]map[string]string{
	DriverPostgres: {
		"{{ts}}":   "TIMESTAMPTZ",
		"{{bool}}": "BOOLEAN",
		"{{json}}": "JSONB",
		"{{seq}}":  "BIGINT",
	},
	DriverSQLite: {
		"{{ts}}":   "DATETIME",
		"{{bool}}": "INTEGER",
		"{{json}}": "TEXT",
		"{{seq}}":  "INTEGER",
	},
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS notification_cursors (
	recipient_id TEXT PRIMARY KEY,
	last_seq     {{seq}} NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id                 TEXT PRIMARY KEY,
	recipient_id       TEXT NOT NULL,
	seq                {{seq}} NOT NULL,
	kind               TEXT NOT NULL,
	title              TEXT NOT NULL,
	body               TEXT NOT NULL,
	related_request_id TEXT,
	is_read            {{bool}} NOT NULL DEFAULT FALSE,
	read_at            {{ts}},
	created_at         {{ts}} NOT NULL,
	UNIQUE (recipient_id, seq)
);

CREATE TABLE IF NOT EXISTS service_requests (
	id          TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	worker_id   TEXT,
	claimed_by  TEXT,
	state       TEXT NOT NULL,
	sub_status  TEXT,
	description TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	history     {{json}} NOT NULL,
	version     INTEGER NOT NULL,
	created_at  {{ts}} NOT NULL,
	updated_at  {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_service_requests_customer ON service_requests (customer_id);
CREATE INDEX IF NOT EXISTS idx_service_requests_worker ON service_requests (worker_id);

CREATE TABLE IF NOT EXISTS outbox_events (
	id            TEXT PRIMARY KEY,
	event_type    TEXT NOT NULL,
	payload       TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	retry_at      {{ts}},
	created_at    {{ts}} NOT NULL,
	processed_at  {{ts}}
);

CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status, created_at);

CREATE TABLE IF NOT EXISTS users (
	id   TEXT PRIMARY KEY,
	role TEXT NOT NULL
);
`,
	},
}

// Migrate checks the current schema version and applies any outstanding
// migrations in order.
func Migrate(db *sqlx.DB) error {
	types, ok := columnTypes[driverOf(db)]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		stmt := m.sql
		for placeholder, typ := range types {
			stmt = strings.ReplaceAll(stmt, placeholder, typ)
		}

		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, part := range splitStatements(stmt) {
			if _, err := tx.Exec(part); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(tx.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func driverOf(db *sqlx.DB) string {
	if strings.HasPrefix(db.DriverName(), DriverSQLite) {
		return DriverSQLite
	}
	return DriverPostgres
}
