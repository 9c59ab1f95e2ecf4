// Package message defines the canonical message record shared by every
// stage of the pipeline, along with decoder-type canonicalization and a few
// time helpers.
package message

import (
	"strings"

	"github.com/google/uuid"
)

// Canonical decoder types. These are the values stored in the message_type
// column and used to key the per-decoder histogram tables.
const (
	TypeACARS = "ACARS"
	TypeVDLM2 = "VDLM2"
	TypeHFDL  = "HFDL"
	TypeIMSL  = "IMSL"
	TypeIRDM  = "IRDM"
)

// Types lists the canonical decoder types in display order.
var Types = []string{TypeACARS, TypeVDLM2, TypeHFDL, TypeIMSL, TypeIRDM}

// DisplayTypes are the labels used in level/frequency snapshots and metric
// labels. VDL-M2 keeps its historical dashed spelling there.
var DisplayTypes = []string{"ACARS", "VDL-M2", "HFDL", "IMSL", "IRDM"}

// CanonicalType maps any accepted spelling of a decoder type (VDL-M2,
// vdlm2, IMS-L, ...) to its canonical form. Unknown spellings return the
// empty string.
func CanonicalType(t string) string {
	switch strings.ToUpper(strings.ReplaceAll(t, "-", "")) {
	case "ACARS":
		return TypeACARS
	case "VDLM2":
		return TypeVDLM2
	case "HFDL":
		return TypeHFDL
	case "IMSL":
		return TypeIMSL
	case "IRDM":
		return TypeIRDM
	}
	return ""
}

// DisplayType returns the display spelling for a canonical type.
func DisplayType(t string) string {
	if CanonicalType(t) == TypeVDLM2 {
		return "VDL-M2"
	}
	return CanonicalType(t)
}

// Message is the canonical record produced by the formatters and completed
// by the enricher. Fields in the protected set (uid, timestamp,
// message_type, station_id, text, matched*) are always serialized; all
// other fields are dropped from the JSON representation when empty, which
// is how empty-field pruning is realized.
type Message struct {
	UID         string `json:"uid"`
	Timestamp   int64  `json:"timestamp"`
	MessageType string `json:"message_type"`
	StationID   string `json:"station_id"`

	// Addressing.
	ToAddr   uint64 `json:"toaddr,omitempty"`
	FromAddr uint64 `json:"fromaddr,omitempty"`
	ICAO     string `json:"icao,omitempty"`

	// Flight identity and schedule.
	Tail   string `json:"tail,omitempty"`
	Flight string `json:"flight,omitempty"`
	Depa   string `json:"depa,omitempty"`
	Dsta   string `json:"dsta,omitempty"`
	Eta    string `json:"eta,omitempty"`
	Gtout  string `json:"gtout,omitempty"`
	Gtin   string `json:"gtin,omitempty"`
	Wloff  string `json:"wloff,omitempty"`
	Wlin   string `json:"wlin,omitempty"`

	// Geometry.
	Lat float64 `json:"lat,omitempty"`
	Lon float64 `json:"lon,omitempty"`
	Alt float64 `json:"alt,omitempty"`

	// Radio.
	Freq       string  `json:"freq,omitempty"`
	Level      float64 `json:"level,omitempty"`
	Ack        string  `json:"ack,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	Label      string  `json:"label,omitempty"`
	BlockID    string  `json:"block_id,omitempty"`
	Msgno      string  `json:"msgno,omitempty"`
	IsResponse int     `json:"is_response,omitempty"`
	IsOnground int     `json:"is_onground,omitempty"`
	Error      int     `json:"error,omitempty"`

	// End marks the final fragment of a multi-part satellite message.
	End bool `json:"end,omitempty"`

	// Payloads. Text carries the wire field msg_text under its
	// presentation name.
	Text     string `json:"text"`
	Libacars string `json:"libacars,omitempty"`

	// Fields derived by the enricher.
	IcaoHex         string `json:"icao_hex,omitempty"`
	Airline         string `json:"airline,omitempty"`
	DepaName        string `json:"depa_name,omitempty"`
	DstaName        string `json:"dsta_name,omitempty"`
	IataFlight      string `json:"iata_flight,omitempty"`
	IcaoFlight      string `json:"icao_flight,omitempty"`
	FlightNumber    string `json:"flight_number,omitempty"`
	ToAddrHex       string `json:"toaddr_hex,omitempty"`
	FromAddrHex     string `json:"fromaddr_hex,omitempty"`
	ToAddrDecoded   string `json:"toaddr_decoded,omitempty"`
	FromAddrDecoded string `json:"fromaddr_decoded,omitempty"`
	LabelType       string `json:"label_type,omitempty"`

	// Alert-match results, filled in by the persister.
	Matched       bool     `json:"matched"`
	MatchedText   []string `json:"matched_text"`
	MatchedIcao   []string `json:"matched_icao"`
	MatchedTail   []string `json:"matched_tail"`
	MatchedFlight []string `json:"matched_flight"`
}

// NewUID returns a random v4 uid in canonical 8-4-4-4-12 form.
func NewUID() string {
	return uuid.NewString()
}

// UnixToMs converts epoch seconds to epoch milliseconds.
func UnixToMs(sec int64) int64 {
	return sec * 1000
}

// MsToUnix converts epoch milliseconds to epoch seconds, truncating.
func MsToUnix(ms int64) int64 {
	return ms / 1000
}
