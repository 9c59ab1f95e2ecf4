package enrich

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/go/rtx"

	"github.com/acarshub/acarshub/loader"
	"github.com/acarshub/acarshub/message"
)

func testTables(t *testing.T) *loader.Tables {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		rtx.Must(os.WriteFile(path, []byte(content), 0644), "write %s", name)
		return path
	}
	tables, err := loader.Load(loader.Paths{
		Airlines: write("airlines.csv",
			"iata,icao,name\nUA,UAL,United Airlines\nDL,DAL,Delta Air Lines\n"),
		AirlineOverrides: write("overrides.csv",
			"iata,icao,name\nZZ,ZZZ,Test Override\n"),
		Airports: write("airports.csv",
			"iata,icao,name\nORD,KORD,Chicago O'Hare\nSEA,KSEA,Seattle-Tacoma\n"),
		GroundStations: write("stations.csv",
			"address,icao,name\n10915F,KSFO,San Francisco ARINC\n"),
		Labels: write("labels.csv",
			"label,name\nH1,Message to/from terminal\n"),
	})
	rtx.Must(err, "could not load tables")
	return tables
}

func TestEnrichFlightIdentity(t *testing.T) {
	e := New(testTables(t))

	msg := e.Enrich(&message.Message{Flight: "UA123"})
	if msg.Airline != "United Airlines" {
		t.Errorf("airline = %q", msg.Airline)
	}
	if msg.IataFlight != "UA123" || msg.IcaoFlight != "UAL123" {
		t.Errorf("flights = %q %q", msg.IataFlight, msg.IcaoFlight)
	}
	if msg.FlightNumber != "123" {
		t.Errorf("flight number = %q", msg.FlightNumber)
	}

	// ICAO-prefixed callsign resolves by table scan.
	msg = e.Enrich(&message.Message{Flight: "DAL42"})
	if msg.Airline != "Delta Air Lines" || msg.IataFlight != "DL42" {
		t.Errorf("ICAO scan failed: %q %q", msg.Airline, msg.IataFlight)
	}

	// The override table wins.
	msg = e.Enrich(&message.Message{Flight: "ZZ9"})
	if msg.Airline != "Test Override" {
		t.Errorf("override not applied: %q", msg.Airline)
	}

	// Unresolvable callsigns leave identity fields unset.
	msg = e.Enrich(&message.Message{Flight: "XX99"})
	if msg.Airline != "" || msg.IataFlight != "" {
		t.Errorf("unexpected identity for unknown airline: %q", msg.Airline)
	}

	// Non-matching callsign shapes are ignored.
	msg = e.Enrich(&message.Message{Flight: "123UA"})
	if msg.Airline != "" {
		t.Errorf("unexpected identity for bad callsign: %q", msg.Airline)
	}
}

func TestEnrichAddressing(t *testing.T) {
	e := New(testTables(t))
	msg := e.Enrich(&message.Message{ToAddr: 0x10915F, FromAddr: 0xABCDEF})

	if msg.ToAddrHex != "10915F" {
		t.Errorf("toaddr_hex = %q", msg.ToAddrHex)
	}
	if msg.ToAddrDecoded != "San Francisco ARINC (KSFO)" {
		t.Errorf("toaddr_decoded = %q", msg.ToAddrDecoded)
	}
	if msg.FromAddrHex != "ABCDEF" {
		t.Errorf("fromaddr_hex = %q", msg.FromAddrHex)
	}
	if msg.FromAddrDecoded != "" {
		t.Errorf("fromaddr_decoded = %q, want miss to stay empty", msg.FromAddrDecoded)
	}
}

func TestEnrichAirports(t *testing.T) {
	e := New(testTables(t))
	msg := e.Enrich(&message.Message{Depa: "ORD", Dsta: "SEA"})
	if msg.DepaName != "Chicago O'Hare" {
		t.Errorf("depa_name = %q", msg.DepaName)
	}
	if msg.DstaName != "Seattle-Tacoma" {
		t.Errorf("dsta_name = %q", msg.DstaName)
	}

	// Unknown airports leave the name fields unset.
	msg = e.Enrich(&message.Message{Depa: "XXX"})
	if msg.DepaName != "" || msg.DstaName != "" {
		t.Errorf("names for unknown airports = %q, %q", msg.DepaName, msg.DstaName)
	}
}

func TestEnrichLabel(t *testing.T) {
	e := New(testTables(t))
	if msg := e.Enrich(&message.Message{Label: "H1"}); msg.LabelType != "Message to/from terminal" {
		t.Errorf("label_type = %q", msg.LabelType)
	}
	if msg := e.Enrich(&message.Message{Label: "Q0"}); msg.LabelType != "Unknown Message Label" {
		t.Errorf("label_type = %q", msg.LabelType)
	}
	if msg := e.Enrich(&message.Message{}); msg.LabelType != "" {
		t.Errorf("label_type = %q for unlabeled message", msg.LabelType)
	}
}

func TestEnrichDoesNotMutateInput(t *testing.T) {
	e := New(testTables(t))
	in := &message.Message{Flight: "UA123", Label: "H1", ICAO: "A1B2C3"}
	saved := *in
	_ = e.Enrich(in)
	if diff := deep.Equal(*in, saved); diff != nil {
		t.Errorf("input mutated: %v", diff)
	}
}

func TestIcaoHex(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"A1B2C3": "A1B2C3",
		"a1b2c3": "A1B2C3",
		"AB12":   "00AB12",
		"123456": "01E240", // all digits parse as decimal
		"7890":   "001ED2",
	}
	for in, want := range cases {
		if got := IcaoHex(in); got != want {
			t.Errorf("IcaoHex(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewNilTables(t *testing.T) {
	e := New(nil)
	if msg := e.Enrich(&message.Message{Label: "XX"}); msg.LabelType != "Unknown Message Label" {
		t.Errorf("label_type = %q", msg.LabelType)
	}
}
