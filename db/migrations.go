package db

import (
	"database/sql"
	"log"

	"github.com/pkg/errors"

	"github.com/acarshub/acarshub/message"
)

// SchemaVersion is the version the migration chain ends at.
const SchemaVersion = 8

type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return errors.Wrapf(err, "statement failed: %s", s)
		}
	}
	return nil
}

// The legacy v1 schema kept one unified frequency table and one unified
// level table, both keyed by a freq_type string, plus a messages_saved
// table that later versions retire. Fresh databases run the whole chain
// from here, so migrating a real legacy file and creating a new one are
// the same code path.
var migrations = []migration{
	{1, "legacy base schema", func(tx *sql.Tx) error {
		return execAll(tx,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				time INTEGER NOT NULL,
				message_type TEXT NOT NULL,
				station_id TEXT,
				toaddr TEXT,
				fromaddr TEXT,
				icao TEXT,
				tail TEXT,
				flight TEXT,
				depa TEXT,
				dsta TEXT,
				eta TEXT,
				gtout TEXT,
				gtin TEXT,
				wloff TEXT,
				wlin TEXT,
				lat REAL,
				lon REAL,
				alt REAL,
				freq TEXT,
				level REAL,
				ack TEXT,
				mode TEXT,
				label TEXT,
				block_id TEXT,
				msgno TEXT,
				is_response INTEGER,
				is_onground INTEGER,
				error INTEGER,
				msg_text TEXT,
				libacars TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS freqs (
				it INTEGER PRIMARY KEY AUTOINCREMENT,
				freq_type TEXT,
				freq TEXT,
				count INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS level (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				freq_type TEXT,
				level REAL,
				count INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS messages_saved (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				time INTEGER,
				message_type TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS messages_count (
				id INTEGER PRIMARY KEY,
				total INTEGER NOT NULL DEFAULT 0,
				good INTEGER NOT NULL DEFAULT 0,
				errors INTEGER NOT NULL DEFAULT 0
			)`,
			`INSERT OR IGNORE INTO messages_count (id, total, good, errors) VALUES (1, 0, 0, 0)`,
			`CREATE TABLE IF NOT EXISTS messages_count_dropped (
				id INTEGER PRIMARY KEY,
				nonlogged_good INTEGER NOT NULL DEFAULT 0,
				nonlogged_errors INTEGER NOT NULL DEFAULT 0
			)`,
			`INSERT OR IGNORE INTO messages_count_dropped (id, nonlogged_good, nonlogged_errors) VALUES (1, 0, 0)`,
		)
	}},
	{2, "split frequency counts per decoder", func(tx *sql.Tx) error {
		for _, t := range freqTables() {
			if err := execAll(tx, `CREATE TABLE IF NOT EXISTS `+t.table+` (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				freq TEXT NOT NULL UNIQUE,
				count INTEGER NOT NULL DEFAULT 0
			)`); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT OR IGNORE INTO `+t.table+` (freq, count)
				SELECT freq, count FROM freqs WHERE freq_type LIKE ?`, t.legacyPrefix+"%")
			if err != nil {
				return errors.Wrapf(err, "could not split freqs into %s", t.table)
			}
		}
		return execAll(tx, `DROP TABLE freqs`)
	}},
	{3, "split signal levels per decoder", func(tx *sql.Tx) error {
		// Per-decoder level counts are recomputed from the messages
		// table rather than carried over from the unified table.
		for _, t := range levelTables() {
			if err := execAll(tx, `CREATE TABLE IF NOT EXISTS `+t.table+` (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				level REAL NOT NULL UNIQUE,
				count INTEGER NOT NULL DEFAULT 0
			)`); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT OR IGNORE INTO `+t.table+` (level, count)
				SELECT level, COUNT(*) FROM messages
				WHERE message_type = ? AND level IS NOT NULL GROUP BY level`, t.msgType)
			if err != nil {
				return errors.Wrapf(err, "could not rebuild %s", t.table)
			}
		}
		return execAll(tx, `DROP TABLE level`)
	}},
	{4, "add uid and aircraft_id to messages", func(tx *sql.Tx) error {
		if err := execAll(tx,
			`ALTER TABLE messages ADD COLUMN uid TEXT`,
			`ALTER TABLE messages ADD COLUMN aircraft_id TEXT`,
		); err != nil {
			return err
		}
		// Backfill uids one row at a time; each must be distinct.
		rows, err := tx.Query(`SELECT id FROM messages WHERE uid IS NULL`)
		if err != nil {
			return err
		}
		ids := []int64{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE messages SET uid = ? WHERE id = ?`, message.NewUID(), id); err != nil {
				return err
			}
		}
		return execAll(tx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_uid ON messages (uid)`)
	}},
	{5, "replace messages_saved with alert_matches", func(tx *sql.Tx) error {
		return execAll(tx,
			`DROP TABLE IF EXISTS messages_saved`,
			`CREATE TABLE IF NOT EXISTS alert_matches (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uid TEXT NOT NULL,
				term TEXT NOT NULL,
				time INTEGER NOT NULL,
				type_of_match TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alert_matches_term_time ON alert_matches (term, time)`,
			`CREATE INDEX IF NOT EXISTS idx_alert_matches_uid_term ON alert_matches (uid, term)`,
		)
	}},
	{6, "message query indexes", func(tx *sql.Tx) error {
		return execAll(tx,
			`CREATE INDEX IF NOT EXISTS idx_messages_time_icao ON messages (time, icao)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_tail_flight ON messages (tail, flight)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_depa_dsta ON messages (depa, dsta)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_type_time ON messages (message_type, time)`,
		)
	}},
	{7, "timeseries stats table", func(tx *sql.Tx) error {
		return execAll(tx,
			`CREATE TABLE IF NOT EXISTS timeseries_stats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp INTEGER NOT NULL,
				resolution TEXT NOT NULL,
				acars_count INTEGER NOT NULL DEFAULT 0,
				vdlm_count INTEGER NOT NULL DEFAULT 0,
				hfdl_count INTEGER NOT NULL DEFAULT 0,
				imsl_count INTEGER NOT NULL DEFAULT 0,
				irdm_count INTEGER NOT NULL DEFAULT 0,
				total_count INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_timeseries_ts_res ON timeseries_stats (timestamp, resolution)`,
			`CREATE INDEX IF NOT EXISTS idx_timeseries_res ON timeseries_stats (resolution)`,
		)
	}},
	{8, "full-text search index", func(tx *sql.Tx) error {
		return execAll(tx,
			`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5 (
				depa, dsta, msg_text, tail, flight, icao, freq, label,
				content='messages', content_rowid='id'
			)`,
			`CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts (rowid, depa, dsta, msg_text, tail, flight, icao, freq, label)
				VALUES (new.id, new.depa, new.dsta, new.msg_text, new.tail, new.flight, new.icao, new.freq, new.label);
			END`,
			`CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts (messages_fts, rowid, depa, dsta, msg_text, tail, flight, icao, freq, label)
				VALUES ('delete', old.id, old.depa, old.dsta, old.msg_text, old.tail, old.flight, old.icao, old.freq, old.label);
			END`,
			`CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
				INSERT INTO messages_fts (messages_fts, rowid, depa, dsta, msg_text, tail, flight, icao, freq, label)
				VALUES ('delete', old.id, old.depa, old.dsta, old.msg_text, old.tail, old.flight, old.icao, old.freq, old.label);
				INSERT INTO messages_fts (rowid, depa, dsta, msg_text, tail, flight, icao, freq, label)
				VALUES (new.id, new.depa, new.dsta, new.msg_text, new.tail, new.flight, new.icao, new.freq, new.label);
			END`,
			`INSERT INTO messages_fts (messages_fts) VALUES ('rebuild')`,
		)
	}},
}

type decoderTable struct {
	msgType      string
	table        string
	legacyPrefix string
}

func freqTables() []decoderTable {
	return []decoderTable{
		{message.TypeACARS, "freqs_acars", "ACARS"},
		{message.TypeVDLM2, "freqs_vdlm", "VDL"},
		{message.TypeHFDL, "freqs_hfdl", "HFDL"},
		{message.TypeIMSL, "freqs_imsl", "IMS"},
		{message.TypeIRDM, "freqs_irdm", "IRD"},
	}
}

func levelTables() []decoderTable {
	return []decoderTable{
		{message.TypeACARS, "level_acars", "ACARS"},
		{message.TypeVDLM2, "level_vdlm", "VDL"},
		{message.TypeHFDL, "level_hfdl", "HFDL"},
		{message.TypeIMSL, "level_imsl", "IMS"},
		{message.TypeIRDM, "level_irdm", "IRD"},
	}
}

func freqTableFor(msgType string) string {
	for _, t := range freqTables() {
		if t.msgType == message.CanonicalType(msgType) {
			return t.table
		}
	}
	return ""
}

func levelTableFor(msgType string) string {
	for _, t := range levelTables() {
		if t.msgType == message.CanonicalType(msgType) {
			return t.table
		}
	}
	return ""
}

// Version returns the current schema version (0 for a fresh file).
func (d *DB) Version() (int, error) {
	var exists int
	err := d.writer.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`).Scan(&exists)
	if err != nil {
		return 0, errors.Wrap(err, "could not probe schema_version")
	}
	if exists == 0 {
		return 0, nil
	}
	var v int
	err = d.writer.QueryRow(`SELECT version FROM schema_version`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, errors.Wrap(err, "could not read schema version")
}

// Migrate applies every migration beyond the current version, each in its
// own transaction. Any failure aborts the chain.
func (d *DB) Migrate() error {
	return d.migrateTo(SchemaVersion)
}

func (d *DB) migrateTo(target int) error {
	if _, err := d.writer.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return errors.Wrap(err, "could not create schema_version")
	}
	current, err := d.Version()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		log.Printf("Applying schema migration %d: %s", m.version, m.name)
		tx, err := d.writer.Begin()
		if err != nil {
			return errors.Wrap(err, "could not begin migration transaction")
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "migration %d (%s) failed", m.version, m.name)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "could not commit migration %d", m.version)
		}
	}
	return nil
}

// MigrateAsync runs Migrate on its own goroutine and delivers the result
// on the returned channel, so the caller's loop is not blocked while the
// chain runs. The first write must wait for the signal.
func (d *DB) MigrateAsync() <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- d.Migrate()
	}()
	return done
}
