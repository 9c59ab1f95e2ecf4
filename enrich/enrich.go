// Package enrich derives presentation fields for a canonical message by
// table lookup: airline and flight identity, airport names, ground-station
// names, hex addressing, and label descriptions.
package enrich

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/acarshub/acarshub/loader"
	"github.com/acarshub/acarshub/message"
)

var flightRE = regexp.MustCompile(`^([A-Z]{2,4})(\d+)$`)

// Enricher attaches derived fields using a set of lookup tables.
type Enricher struct {
	tables *loader.Tables
}

// New returns an Enricher backed by the given tables.
func New(tables *loader.Tables) *Enricher {
	if tables == nil {
		tables = loader.Empty()
	}
	return &Enricher{tables: tables}
}

// Enrich returns a copy of msg with derived fields attached. The input is
// not mutated.
func (e *Enricher) Enrich(in *message.Message) *message.Message {
	msg := *in

	if msg.ICAO != "" {
		msg.IcaoHex = IcaoHex(msg.ICAO)
	}

	e.flightIdentity(&msg)

	if msg.ToAddr != 0 {
		msg.ToAddrHex = fmt.Sprintf("%X", msg.ToAddr)
		if s, ok := e.tables.GroundStation(msg.ToAddr); ok {
			msg.ToAddrDecoded = fmt.Sprintf("%s (%s)", s.Name, s.ICAO)
		}
	}
	if msg.FromAddr != 0 {
		msg.FromAddrHex = fmt.Sprintf("%X", msg.FromAddr)
		if s, ok := e.tables.GroundStation(msg.FromAddr); ok {
			msg.FromAddrDecoded = fmt.Sprintf("%s (%s)", s.Name, s.ICAO)
		}
	}

	if msg.Depa != "" {
		if a, ok := e.tables.AirportByIATA(msg.Depa); ok {
			msg.DepaName = a.Name
		}
	}
	if msg.Dsta != "" {
		if a, ok := e.tables.AirportByIATA(msg.Dsta); ok {
			msg.DstaName = a.Name
		}
	}

	if msg.Label != "" {
		msg.LabelType = e.tables.LabelName(msg.Label)
	}

	return &msg
}

// flightIdentity splits a callsign like UAL123 into airline code and
// flight number, resolving the airline through the override table, then
// the main table by IATA, then by ICAO scan.
func (e *Enricher) flightIdentity(msg *message.Message) {
	m := flightRE.FindStringSubmatch(msg.Flight)
	if m == nil {
		return
	}
	code, number := m[1], m[2]

	airline, ok := e.tables.AirlineOverride(code)
	if !ok {
		airline, ok = e.tables.AirlineByIATA(code)
	}
	if !ok {
		airline, ok = e.tables.AirlineByICAO(code)
	}
	if !ok {
		return
	}

	msg.Airline = airline.Name
	msg.IataFlight = airline.IATA + number
	msg.IcaoFlight = airline.ICAO + number
	msg.FlightNumber = number
}

// IcaoHex normalizes an ICAO aircraft address to 6 uppercase hex chars.
// Strings that are unambiguously hex (contain a hex letter, nothing but
// hex digits) are padded directly; anything else is read as decimal and
// reformatted.
func IcaoHex(icao string) string {
	if icao == "" {
		return ""
	}
	if isHexWithLetter(icao) {
		return pad6(strings.ToUpper(icao))
	}
	if n, err := strconv.ParseUint(icao, 10, 64); err == nil {
		return fmt.Sprintf("%06X", n)
	}
	return strings.ToUpper(icao)
}

func pad6(s string) string {
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}

func isHexWithLetter(s string) bool {
	letter := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			letter = true
		default:
			return false
		}
	}
	return letter
}
