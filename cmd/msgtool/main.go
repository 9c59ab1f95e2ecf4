// Main package in msgtool implements a command line tool for exporting
// archived messages from an acarshub database to CSV.
package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	dbPath    = flag.String("acarshub.db", "", "Path of the message database file.")
	flight    = flag.String("flight", "", "Flight prefix to filter on.")
	tail      = flag.String("tail", "", "Tail prefix to filter on.")
	icao      = flag.String("icao", "", "ICAO hex prefix to filter on.")
	station   = flag.String("station", "", "Station-id substring to filter on.")
	timeStart = flag.Int64("start", 0, "Earliest timestamp (epoch seconds) to include.")
	timeEnd   = flag.Int64("end", 0, "Latest timestamp (epoch seconds) to include.")
	limit     = flag.Int("limit", 1000, "Maximum number of rows to export.")

	// A variable to enable mocking for testing.
	logFatal = log.Fatal
)

// row is the flattened CSV shape of one archived message.
type row struct {
	UID         string  `csv:"uid"`
	Time        int64   `csv:"time"`
	MessageType string  `csv:"message_type"`
	StationID   string  `csv:"station_id"`
	Icao        string  `csv:"icao"`
	Tail        string  `csv:"tail"`
	Flight      string  `csv:"flight"`
	Depa        string  `csv:"depa"`
	Dsta        string  `csv:"dsta"`
	Freq        string  `csv:"freq"`
	Level       float64 `csv:"level"`
	Label       string  `csv:"label"`
	Text        string  `csv:"text"`
}

func toCSV(msgs []message.Message, wtr io.Writer) error {
	rows := make([]row, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, row{
			UID:         m.UID,
			Time:        m.Timestamp,
			MessageType: m.MessageType,
			StationID:   m.StationID,
			Icao:        m.IcaoHex,
			Tail:        m.Tail,
			Flight:      m.Flight,
			Depa:        m.Depa,
			Dsta:        m.Dsta,
			Freq:        m.Freq,
			Level:       m.Level,
			Label:       m.Label,
			Text:        m.Text,
		})
	}
	return gocsv.Marshal(rows, wtr)
}

func export(d *db.DB, wtr io.Writer) error {
	msgs, total, err := d.Search(db.SearchParams{
		Flight:    *flight,
		Tail:      *tail,
		Icao:      *icao,
		StationID: *station,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	log.Printf("Exporting %d of %d matching messages", len(msgs), total)
	return toCSV(msgs, wtr)
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	if *dbPath == "" {
		logFatal("-acarshub.db path is required")
	}
	d, err := db.Open(*dbPath)
	rtx.Must(err, "Could not open database %q", *dbPath)
	defer d.Close()

	rtx.Must(export(d, os.Stdout), "Could not export messages")
}
