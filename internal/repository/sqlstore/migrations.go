package sqlstore

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// migration holds a single schema migration with its target version and SQL.
// {{key}} is replaced by the driver's binary type so that sort keys compare
// bytewise on every backend.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id                TEXT PRIMARY KEY,
	owner_kind        TEXT NOT NULL,
	owner_id          TEXT NOT NULL,
	user_id           TEXT NOT NULL DEFAULT '',
	session_id        TEXT NOT NULL DEFAULT '',
	created_at        BIGINT NOT NULL,
	state             TEXT NOT NULL DEFAULT '',
	read_state        TEXT NOT NULL,
	email_state       TEXT NOT NULL,
	notification_type TEXT NOT NULL,
	fields            TEXT NOT NULL DEFAULT '{}',
	time_key          {{key}} NOT NULL,
	read_key          {{key}} NOT NULL,
	email_key         {{key}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_time ON notifications(owner_kind, owner_id, time_key);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(owner_kind, read_key);
CREATE INDEX IF NOT EXISTS idx_notifications_email ON notifications(owner_kind, email_key);

CREATE TABLE IF NOT EXISTS unread_counters (
	owner_kind  TEXT NOT NULL,
	owner_id    TEXT NOT NULL,
	count       BIGINT NOT NULL DEFAULT 0,
	last_update BIGINT NOT NULL DEFAULT 0,
	display     TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (owner_kind, owner_id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id            TEXT PRIMARY KEY,
	seq           BIGINT NOT NULL,
	topic         TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	payload       {{key}} NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	retry_at      {{time}},
	created_at    {{time}} NOT NULL,
	processed_at  {{time}},
	updated_at    {{time}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_status_seq ON outbox_events(status, seq);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS owner_clocks (
	owner_kind TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	last_ts    BIGINT NOT NULL,
	PRIMARY KEY (owner_kind, owner_id)
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

func dialectSQL(driver, sql string) string {
	key, ts := "BLOB", "DATETIME"
	if driver == DriverPostgres {
		key, ts = "BYTEA", "TIMESTAMPTZ"
	}
	return strings.NewReplacer("{{key}}", key, "{{time}}", ts).Replace(sql)
}

// Migrate checks the current schema version and applies any outstanding
// migrations in order.
func Migrate(db *sqlx.DB) error {
	currentVersion := 0

	tableQuery := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"
	if db.DriverName() == DriverPostgres {
		tableQuery = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name='schema_version'"
	}

	var tableCount int
	if err := db.Get(&tableCount, tableQuery); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.Exec(dialectSQL(db.DriverName(), m.sql)); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}
