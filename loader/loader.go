// Package loader reads the static lookup tables consulted by the enricher:
// airlines, airline overrides, airports, ground stations, and message
// labels. All tables are CSV files with a header row.
package loader

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// Airline is one row of the airlines table. Keyed by IATA code; the ICAO
// code is consulted as a fallback.
type Airline struct {
	IATA string `csv:"iata"`
	ICAO string `csv:"icao"`
	Name string `csv:"name"`
}

// Airport is one row of the airports table.
type Airport struct {
	IATA string `csv:"iata"`
	ICAO string `csv:"icao"`
	Name string `csv:"name"`
}

// GroundStation is one row of the ground-station registry. The address is
// the station's hex address on the ACARS network.
type GroundStation struct {
	Address string `csv:"address"`
	ICAO    string `csv:"icao"`
	Name    string `csv:"name"`
}

// Label is one row of the message-label registry.
type Label struct {
	Label string `csv:"label"`
	Name  string `csv:"name"`
}

// Paths names the table files to load. Empty paths load empty tables.
type Paths struct {
	Airlines         string
	AirlineOverrides string
	Airports         string
	GroundStations   string
	Labels           string
}

// Tables holds all loaded lookup tables, indexed for the enricher's access
// patterns. A Tables value is immutable after Load.
type Tables struct {
	airlines       []Airline
	airlineByIATA  map[string]Airline
	overrideByIATA map[string]Airline
	airportByIATA  map[string]Airport
	stationByAddr  map[uint64]GroundStation
	labelNames     map[string]string
}

func readCSV(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Println("Lookup table missing, continuing without it:", path)
			return nil
		}
		return errors.Wrapf(err, "could not open %q", path)
	}
	defer f.Close()
	return errors.Wrapf(gocsv.Unmarshal(f, out), "could not parse %q", path)
}

// Load reads every table named in paths. A missing file yields an empty
// table; a malformed file is an error.
func Load(paths Paths) (*Tables, error) {
	t := &Tables{
		airlineByIATA:  make(map[string]Airline),
		overrideByIATA: make(map[string]Airline),
		airportByIATA:  make(map[string]Airport),
		stationByAddr:  make(map[uint64]GroundStation),
		labelNames:     make(map[string]string),
	}

	var overrides []Airline
	var airports []Airport
	var stations []GroundStation
	var labels []Label

	if err := readCSV(paths.Airlines, &t.airlines); err != nil {
		return nil, err
	}
	if err := readCSV(paths.AirlineOverrides, &overrides); err != nil {
		return nil, err
	}
	if err := readCSV(paths.Airports, &airports); err != nil {
		return nil, err
	}
	if err := readCSV(paths.GroundStations, &stations); err != nil {
		return nil, err
	}
	if err := readCSV(paths.Labels, &labels); err != nil {
		return nil, err
	}

	for _, a := range t.airlines {
		if a.IATA != "" {
			// First entry wins when IATA codes collide.
			if _, ok := t.airlineByIATA[a.IATA]; !ok {
				t.airlineByIATA[a.IATA] = a
			}
		}
	}
	for _, a := range overrides {
		t.overrideByIATA[a.IATA] = a
	}
	for _, a := range airports {
		t.airportByIATA[a.IATA] = a
	}
	for _, s := range stations {
		addr, err := strconv.ParseUint(strings.TrimPrefix(s.Address, "0x"), 16, 64)
		if err != nil {
			log.Println("Skipping ground station with bad address:", s.Address)
			continue
		}
		t.stationByAddr[addr] = s
	}
	for _, l := range labels {
		t.labelNames[l.Label] = l.Name
	}

	return t, nil
}

// Empty returns a Tables with no entries, for callers that enrich without
// any configured lookup data.
func Empty() *Tables {
	t, _ := Load(Paths{})
	return t
}

// AirlineOverride returns the override-table entry for an IATA code.
func (t *Tables) AirlineOverride(iata string) (Airline, bool) {
	a, ok := t.overrideByIATA[iata]
	return a, ok
}

// AirlineByIATA returns the main-table entry for an IATA code.
func (t *Tables) AirlineByIATA(iata string) (Airline, bool) {
	a, ok := t.airlineByIATA[iata]
	return a, ok
}

// AirlineByICAO scans the main table for an ICAO code match.
func (t *Tables) AirlineByICAO(icao string) (Airline, bool) {
	for _, a := range t.airlines {
		if a.ICAO == icao {
			return a, true
		}
	}
	return Airline{}, false
}

// AirportByIATA returns the airports-table entry for an IATA code.
func (t *Tables) AirportByIATA(iata string) (Airport, bool) {
	a, ok := t.airportByIATA[iata]
	return a, ok
}

// GroundStation returns the ground station with the given hex address.
func (t *Tables) GroundStation(addr uint64) (GroundStation, bool) {
	s, ok := t.stationByAddr[addr]
	return s, ok
}

// LabelName returns the human name for a message label, with the standard
// fallback for unknown labels.
func (t *Tables) LabelName(label string) string {
	if name, ok := t.labelNames[label]; ok {
		return name
	}
	return "Unknown Message Label"
}
