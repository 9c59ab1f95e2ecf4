// Package rrd imports a legacy round-robin database file into the
// minute-resolution statistics table. The import runs once at startup,
// shelling out to rrdtool for each archive resolution, and renames the
// source file out of the way when done.
package rrd

import (
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/acarshub/acarshub/db"
)

// BatchSize is the number of rows per insert transaction.
const BatchSize = 500

// Archive names one resolution band to fetch from the legacy file.
type Archive struct {
	Step time.Duration
	Span time.Duration
}

// DefaultArchives covers the four bands a stock legacy file carries.
var DefaultArchives = []Archive{
	{time.Minute, 25 * time.Hour},
	{5 * time.Minute, 30 * 24 * time.Hour},
	{time.Hour, 180 * 24 * time.Hour},
	{6 * time.Hour, 3 * 365 * 24 * time.Hour},
}

// Importer migrates one legacy file.
type Importer struct {
	db       *db.DB
	path     string
	archives []Archive

	// fetch is swapped by tests; the default shells out to rrdtool.
	fetch func(args ...string) ([]byte, error)
}

// NewImporter creates an importer for the legacy file at path. A nil
// archives slice selects DefaultArchives.
func NewImporter(d *db.DB, path string, archives []Archive) *Importer {
	if archives == nil {
		archives = DefaultArchives
	}
	return &Importer{
		db:       d,
		path:     path,
		archives: archives,
		fetch: func(args ...string) ([]byte, error) {
			return exec.Command("rrdtool", args...).Output()
		},
	}
}

// Import runs the migration. It is a silent no-op when a previous run
// already completed (.back sibling plus a non-empty stats table) or when
// the legacy file does not exist. An unreadable or empty file is renamed
// to .corrupt. Failure of one archive does not abort the others.
func (im *Importer) Import() error {
	if _, err := os.Stat(im.path + ".back"); err == nil {
		n, err := im.db.TimeSeriesRowCount()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}

	info, err := os.Stat(im.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not stat legacy file")
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		log.Printf("Legacy file %s is invalid; renaming to .corrupt", im.path)
		return errors.Wrap(os.Rename(im.path, im.path+".corrupt"), "could not quarantine legacy file")
	}

	imported := 0
	for _, a := range im.archives {
		if err := im.importArchive(a); err != nil {
			log.Printf("Could not import %s archive: %v", a.Step, err)
			continue
		}
		imported++
	}
	if imported == 0 {
		return errors.New("no archive imported")
	}

	return errors.Wrap(os.Rename(im.path, im.path+".back"), "could not retire legacy file")
}

func (im *Importer) importArchive(a Archive) error {
	step := int64(a.Step / time.Second)
	out, err := im.fetch("fetch", im.path, "AVERAGE",
		"-r", strconv.FormatInt(step, 10),
		"-s", fmt.Sprintf("-%d", int64(a.Span/time.Second)))
	if err != nil {
		return errors.Wrap(err, "rrdtool fetch failed")
	}

	rows, err := parseFetchOutput(out, step)
	if err != nil {
		return err
	}

	for start := 0; start < len(rows); start += BatchSize {
		end := start + BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := im.db.InsertTimeSeriesBatch(rows[start:end]); err != nil {
			return err
		}
	}
	log.Printf("Imported %d rows from the %s archive", len(rows), a.Step)
	return nil
}

// parseFetchOutput reads rrdtool fetch text: a column-name header, a
// blank line, then "timestamp: v1 ... v7" rows in scientific notation.
// The seven columns are acars, vdlm, total, error, hfdl, imsl, irdm.
// NaN values become 0, and each coarse row is expanded into step/60
// one-minute rows repeating its values.
func parseFetchOutput(out []byte, step int64) ([]db.TimeSeriesRow, error) {
	rows := []db.TimeSeriesRow{}
	perRow := step / 60
	if perRow < 1 {
		perRow = 1
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		colon := strings.IndexByte(line, ':')
		if line == "" || colon < 0 {
			// Header or separator line.
			continue
		}
		ts, err := strconv.ParseInt(line[:colon], 10, 64)
		if err != nil {
			continue
		}
		fields := strings.Fields(line[colon+1:])
		if len(fields) != 7 {
			return nil, errors.Errorf("row at %d has %d columns, want 7", ts, len(fields))
		}
		vals := make([]int64, 7)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad value %q at %d", f, ts)
			}
			if math.IsNaN(v) {
				v = 0
			}
			vals[i] = int64(math.Round(v))
		}

		for i := int64(0); i < perRow; i++ {
			rows = append(rows, db.TimeSeriesRow{
				Timestamp:  ts + i*60,
				Resolution: "1min",
				Acars:      vals[0],
				Vdlm:       vals[1],
				Total:      vals[2],
				Errors:     vals[3],
				Hfdl:       vals[4],
				Imsl:       vals[5],
				Irdm:       vals[6],
			})
		}
	}
	return rows, nil
}
