package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-lab/go/rtx"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	rtx.Must(os.WriteFile(path, []byte(content), 0644), "could not write %s", name)
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		Airlines: writeFile(t, dir, "airlines.csv",
			"iata,icao,name\nUA,UAL,United Airlines\nDL,DAL,Delta Air Lines\n"),
		AirlineOverrides: writeFile(t, dir, "overrides.csv",
			"iata,icao,name\nUA,UAL,United Override\n"),
		Airports: writeFile(t, dir, "airports.csv",
			"iata,icao,name\nORD,KORD,Chicago O'Hare\n"),
		GroundStations: writeFile(t, dir, "stations.csv",
			"address,icao,name\nA1B2C3,KSFO,San Francisco\nnotahex,XXXX,Bad\n"),
		Labels: writeFile(t, dir, "labels.csv",
			"label,name\nH1,Message to/from terminal\n"),
	}

	tables, err := Load(paths)
	rtx.Must(err, "Load failed")

	if a, ok := tables.AirlineOverride("UA"); !ok || a.Name != "United Override" {
		t.Errorf("override lookup failed: %+v %v", a, ok)
	}
	if a, ok := tables.AirlineByIATA("DL"); !ok || a.ICAO != "DAL" {
		t.Errorf("IATA lookup failed: %+v %v", a, ok)
	}
	if a, ok := tables.AirlineByICAO("UAL"); !ok || a.IATA != "UA" {
		t.Errorf("ICAO scan failed: %+v %v", a, ok)
	}
	if _, ok := tables.AirlineByIATA("ZZ"); ok {
		t.Error("unexpected hit for unknown IATA code")
	}
	if a, ok := tables.AirportByIATA("ORD"); !ok || a.ICAO != "KORD" {
		t.Errorf("airport lookup failed: %+v %v", a, ok)
	}
	if s, ok := tables.GroundStation(0xA1B2C3); !ok || s.Name != "San Francisco" {
		t.Errorf("ground station lookup failed: %+v %v", s, ok)
	}
	if _, ok := tables.GroundStation(0xDEAD); ok {
		t.Error("unexpected ground station hit")
	}
	if got := tables.LabelName("H1"); got != "Message to/from terminal" {
		t.Errorf("label lookup = %q", got)
	}
	if got := tables.LabelName("ZZ"); got != "Unknown Message Label" {
		t.Errorf("label fallback = %q", got)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	tables, err := Load(Paths{
		Airlines: filepath.Join(t.TempDir(), "nope.csv"),
	})
	rtx.Must(err, "missing file should not be an error")
	if _, ok := tables.AirlineByIATA("UA"); ok {
		t.Error("empty table should miss")
	}
	if got := tables.LabelName("10"); got != "Unknown Message Label" {
		t.Errorf("label fallback = %q", got)
	}
}

func TestEmpty(t *testing.T) {
	tables := Empty()
	if _, ok := tables.GroundStation(1); ok {
		t.Error("Empty() tables should have no stations")
	}
}
