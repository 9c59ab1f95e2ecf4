// Package db is the persistence layer: a WAL-mode SQLite file holding the
// message archive, per-decoder histograms, cumulative counters, alert
// matches, and the minute-resolution time-series table. One handle writes;
// a separate pool serves readers.
package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB wraps the writer handle, the read pool, and the in-memory state the
// persister maintains (station registry, alert terms).
type DB struct {
	path   string
	writer *sql.DB
	reader *sql.DB

	mu         sync.Mutex
	stations   map[string]struct{}
	alertTerms []string
	ignoreList []string
}

// Open opens (creating if needed) the database at path. Migrations are
// not run here; call Migrate (or MigrateAsync) before the first write.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	writer, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not open writer handle")
	}
	// SQLite supports one writer; serialize all writes on a single
	// connection rather than racing for the file lock.
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", dsn+"&mode=ro&_query_only=on")
	if err != nil {
		writer.Close()
		return nil, errors.Wrap(err, "could not open read pool")
	}
	reader.SetMaxOpenConns(8)

	if err := writer.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, errors.Wrapf(err, "could not open database %q", path)
	}

	return &DB{
		path:     path,
		writer:   writer,
		reader:   reader,
		stations: make(map[string]struct{}),
	}, nil
}

// Close closes both handles.
func (d *DB) Close() error {
	rerr := d.reader.Close()
	werr := d.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// SetAlertTerms replaces the configured alert and ignore term sets.
// Matching is case-insensitive; terms are stored lowercased.
func (d *DB) SetAlertTerms(terms, ignore []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alertTerms = lowerAll(terms)
	d.ignoreList = lowerAll(ignore)
}

// AlertTermCount returns the number of configured alert terms.
func (d *DB) AlertTermCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.alertTerms)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SeedStations loads every distinct station id from the messages table
// into the in-memory registry. Called once after migrations.
func (d *DB) SeedStations() error {
	rows, err := d.reader.Query(`SELECT DISTINCT station_id FROM messages WHERE station_id != ''`)
	if err != nil {
		return errors.Wrap(err, "could not seed station registry")
	}
	defer rows.Close()
	d.mu.Lock()
	defer d.mu.Unlock()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		d.stations[id] = struct{}{}
	}
	return rows.Err()
}

// addStation records a station id, reporting whether it was new.
func (d *DB) addStation(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.stations[id]; ok {
		return false
	}
	d.stations[id] = struct{}{}
	return true
}

// StationIDs returns a sorted snapshot of the registry.
func (d *DB) StationIDs() []string {
	d.mu.Lock()
	out := make([]string, 0, len(d.stations))
	for id := range d.stations {
		out = append(out, id)
	}
	d.mu.Unlock()
	sort.Strings(out)
	return out
}

// RowCount returns the number of rows in the messages table.
func (d *DB) RowCount() (int64, error) {
	var n int64
	err := d.reader.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, errors.Wrap(err, "could not count messages")
}

// FileSize returns the size of the database file in bytes.
func (d *DB) FileSize() (int64, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return 0, errors.Wrap(err, "could not stat database")
	}
	return info.Size(), nil
}

// Counts is the cumulative logged-message counter row.
type Counts struct {
	Total  int64
	Good   int64
	Errors int64
}

// GetCounts returns the logged-message counters.
func (d *DB) GetCounts() (Counts, error) {
	var c Counts
	err := d.reader.QueryRow(`SELECT total, good, errors FROM messages_count WHERE id = 1`).
		Scan(&c.Total, &c.Good, &c.Errors)
	if err == sql.ErrNoRows {
		return Counts{}, nil
	}
	return c, errors.Wrap(err, "could not read message counts")
}

// GetDroppedCounts returns the dropped-message counters.
func (d *DB) GetDroppedCounts() (good, errs int64, err error) {
	err = d.reader.QueryRow(`SELECT nonlogged_good, nonlogged_errors FROM messages_count_dropped WHERE id = 1`).
		Scan(&good, &errs)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return good, errs, errors.Wrap(err, "could not read dropped counts")
}

// IncrementDropped bumps the dropped-message counters for a message that
// never reached the archive.
func (d *DB) IncrementDropped(hadError bool) {
	col := "nonlogged_good"
	if hadError {
		col = "nonlogged_errors"
	}
	if _, err := d.writer.Exec(`UPDATE messages_count_dropped SET ` + col + ` = ` + col + ` + 1 WHERE id = 1`); err != nil {
		log.Println("Could not update dropped counter:", err)
	}
}
