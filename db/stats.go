package db

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/acarshub/acarshub/message"
)

// FreqCount is one frequency-histogram row.
type FreqCount struct {
	Freq  string `json:"freq"`
	Count int64  `json:"count"`
}

// LevelCount is one signal-level-histogram row.
type LevelCount struct {
	Level float64 `json:"level"`
	Count int64   `json:"count"`
}

// GetAllFreqCounts returns the frequency histogram for every decoder,
// keyed by display type. All five keys are always present, empty when a
// decoder has no rows yet.
func (d *DB) GetAllFreqCounts() (map[string][]FreqCount, error) {
	out := map[string][]FreqCount{}
	for _, t := range freqTables() {
		key := message.DisplayType(t.msgType)
		out[key] = []FreqCount{}
		rows, err := d.reader.Query(`SELECT freq, count FROM ` + t.table + ` ORDER BY count DESC`)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read %s", t.table)
		}
		for rows.Next() {
			var fc FreqCount
			if err := rows.Scan(&fc.Freq, &fc.Count); err != nil {
				rows.Close()
				return nil, err
			}
			out[key] = append(out[key], fc)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetAllSignalLevels returns the signal-level histogram for every
// decoder, keyed by display type, with all five keys always present.
func (d *DB) GetAllSignalLevels() (map[string][]LevelCount, error) {
	out := map[string][]LevelCount{}
	for _, t := range levelTables() {
		key := message.DisplayType(t.msgType)
		out[key] = []LevelCount{}
		rows, err := d.reader.Query(`SELECT level, count FROM ` + t.table + ` ORDER BY level ASC`)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read %s", t.table)
		}
		for rows.Next() {
			var lc LevelCount
			if err := rows.Scan(&lc.Level, &lc.Count); err != nil {
				rows.Close()
				return nil, err
			}
			out[key] = append(out[key], lc)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TimeSeriesRow is one row of the minute-resolution stats table. All
// counts are per-bucket totals; Errors is tracked separately and not
// included in Total.
type TimeSeriesRow struct {
	Timestamp  int64
	Resolution string
	Acars      int64
	Vdlm       int64
	Hfdl       int64
	Imsl       int64
	Irdm       int64
	Total      int64
	Errors     int64
}

// InsertTimeSeries writes one row.
func (d *DB) InsertTimeSeries(r TimeSeriesRow) error {
	_, err := d.writer.Exec(`INSERT INTO timeseries_stats
		(timestamp, resolution, acars_count, vdlm_count, hfdl_count, imsl_count, irdm_count, total_count, error_count)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		r.Timestamp, r.Resolution, r.Acars, r.Vdlm, r.Hfdl, r.Imsl, r.Irdm, r.Total, r.Errors)
	return errors.Wrap(err, "could not insert time-series row")
}

// InsertTimeSeriesBatch inserts rows in one transaction. Used by the
// archive importer.
func (d *DB) InsertTimeSeriesBatch(rows []TimeSeriesRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := d.writer.Begin()
	if err != nil {
		return errors.Wrap(err, "could not begin batch insert")
	}
	stmt, err := tx.Prepare(`INSERT INTO timeseries_stats
		(timestamp, resolution, acars_count, vdlm_count, hfdl_count, imsl_count, irdm_count, total_count, error_count)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "could not prepare batch insert")
	}
	for _, r := range rows {
		if _, err := stmt.Exec(r.Timestamp, r.Resolution, r.Acars, r.Vdlm, r.Hfdl, r.Imsl, r.Irdm, r.Total, r.Errors); err != nil {
			stmt.Close()
			tx.Rollback()
			return errors.Wrap(err, "batch insert failed")
		}
	}
	stmt.Close()
	return errors.Wrap(tx.Commit(), "could not commit batch insert")
}

// TimeSeriesRowCount returns the number of 1-minute rows. The importer
// uses it to decide whether a previous import already ran.
func (d *DB) TimeSeriesRowCount() (int64, error) {
	var n int64
	err := d.reader.QueryRow(`SELECT COUNT(*) FROM timeseries_stats WHERE resolution = '1min'`).Scan(&n)
	return n, errors.Wrap(err, "could not count time-series rows")
}

// QueryTimeSeries returns 1-minute rows in [start, end] (epoch seconds).
// With bucketSeconds > 60 the rows are downsampled server-side: each
// bucket is floor(timestamp/bucket)*bucket with SUMs of every counter.
func (d *DB) QueryTimeSeries(start, end, bucketSeconds int64) ([]TimeSeriesRow, error) {
	var rows *sql.Rows
	var err error
	if bucketSeconds > 60 {
		rows, err = d.reader.Query(`SELECT
				(timestamp / ?) * ? AS bucket,
				SUM(acars_count), SUM(vdlm_count), SUM(hfdl_count),
				SUM(imsl_count), SUM(irdm_count), SUM(total_count), SUM(error_count)
			FROM timeseries_stats
			WHERE resolution = '1min' AND timestamp >= ? AND timestamp <= ?
			GROUP BY bucket ORDER BY bucket ASC`,
			bucketSeconds, bucketSeconds, start, end)
	} else {
		rows, err = d.reader.Query(`SELECT timestamp,
				acars_count, vdlm_count, hfdl_count, imsl_count, irdm_count, total_count, error_count
			FROM timeseries_stats
			WHERE resolution = '1min' AND timestamp >= ? AND timestamp <= ?
			ORDER BY timestamp ASC`, start, end)
	}
	if err != nil {
		return nil, errors.Wrap(err, "time-series query failed")
	}
	defer rows.Close()

	out := []TimeSeriesRow{}
	for rows.Next() {
		r := TimeSeriesRow{Resolution: "1min"}
		if err := rows.Scan(&r.Timestamp, &r.Acars, &r.Vdlm, &r.Hfdl, &r.Imsl, &r.Irdm, &r.Total, &r.Errors); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SumTimeSeriesSince sums every counter over rows with timestamp >=
// since. Serves /data/stats.json.
func (d *DB) SumTimeSeriesSince(since int64) (TimeSeriesRow, bool, error) {
	var r TimeSeriesRow
	var n int64
	err := d.reader.QueryRow(`SELECT COUNT(*),
			COALESCE(SUM(acars_count), 0), COALESCE(SUM(vdlm_count), 0),
			COALESCE(SUM(hfdl_count), 0), COALESCE(SUM(imsl_count), 0),
			COALESCE(SUM(irdm_count), 0), COALESCE(SUM(total_count), 0),
			COALESCE(SUM(error_count), 0)
		FROM timeseries_stats WHERE resolution = '1min' AND timestamp >= ?`, since).
		Scan(&n, &r.Acars, &r.Vdlm, &r.Hfdl, &r.Imsl, &r.Irdm, &r.Total, &r.Errors)
	if err != nil {
		return TimeSeriesRow{}, false, errors.Wrap(err, "could not sum time-series rows")
	}
	return r, n > 0, nil
}

// LatestMinuteCounts returns the most recent 1-minute row, or ok=false
// when the table is empty.
func (d *DB) LatestMinuteCounts() (TimeSeriesRow, bool, error) {
	var r TimeSeriesRow
	r.Resolution = "1min"
	err := d.reader.QueryRow(`SELECT timestamp,
			acars_count, vdlm_count, hfdl_count, imsl_count, irdm_count, total_count, error_count
		FROM timeseries_stats WHERE resolution = '1min'
		ORDER BY timestamp DESC LIMIT 1`).
		Scan(&r.Timestamp, &r.Acars, &r.Vdlm, &r.Hfdl, &r.Imsl, &r.Irdm, &r.Total, &r.Errors)
	if err == sql.ErrNoRows {
		return TimeSeriesRow{}, false, nil
	}
	if err != nil {
		return TimeSeriesRow{}, false, errors.Wrap(err, "could not read latest minute row")
	}
	return r, true, nil
}

// AlertMatchCounts returns the number of recorded matches per term.
func (d *DB) AlertMatchCounts() (map[string]int64, error) {
	rows, err := d.reader.Query(`SELECT term, COUNT(*) FROM alert_matches GROUP BY term`)
	if err != nil {
		return nil, errors.Wrap(err, "could not count alert matches")
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var term string
		var n int64
		if err := rows.Scan(&term, &n); err != nil {
			return nil, err
		}
		out[term] = n
	}
	return out, rows.Err()
}

// AlertMatchTotal returns the total number of recorded alert matches.
func (d *DB) AlertMatchTotal() (int64, error) {
	var n int64
	err := d.reader.QueryRow(`SELECT COUNT(*) FROM alert_matches`).Scan(&n)
	return n, errors.Wrap(err, "could not total alert matches")
}
