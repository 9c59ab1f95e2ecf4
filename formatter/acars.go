package formatter

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/acarshub/acarshub/message"
)

// rawACARS is the flat object emitted by acarsdec. Several fields vary in
// type between decoder versions, so they are decoded loosely.
type rawACARS struct {
	Timestamp float64     `json:"timestamp"`
	Time      float64     `json:"time"`
	StationID string      `json:"station_id"`
	Freq      interface{} `json:"freq"`
	Level     float64     `json:"level"`
	Error     int         `json:"error"`
	Mode      string      `json:"mode"`
	Label     string      `json:"label"`
	BlockID   string      `json:"block_id"`
	Ack       interface{} `json:"ack"`
	Tail      string      `json:"tail"`
	Flight    string      `json:"flight"`
	Msgno     string      `json:"msgno"`
	Text      string      `json:"text"`
	MsgText   string      `json:"msg_text"`
	ICAO      interface{} `json:"icao"`
	ToAddr    uint64      `json:"toaddr"`
	FromAddr  uint64      `json:"fromaddr"`
	Depa      string      `json:"depa"`
	Dsta      string      `json:"dsta"`
	Eta       string      `json:"eta"`
	Gtout     string      `json:"gtout"`
	Gtin      string      `json:"gtin"`
	Wloff     string      `json:"wloff"`
	Wlin      string      `json:"wlin"`
	Lat       float64     `json:"lat"`
	Lon       float64     `json:"lon"`
	Alt       float64     `json:"alt"`

	IsResponse int `json:"is_response"`
	IsOnground int `json:"is_onground"`
}

// ackString renders the decoder's ack field, which is either the boolean
// false (no ack) or a single-character string.
func ackString(v interface{}) string {
	switch a := v.(type) {
	case string:
		return a
	case bool:
		return ""
	}
	return ""
}

// icaoString normalizes an ICAO address that may arrive as a JSON number
// or string into 6 uppercase hex characters.
func icaoString(v interface{}) string {
	switch i := v.(type) {
	case float64:
		if i <= 0 {
			return ""
		}
		return icaoFromNumber(uint64(i))
	case string:
		if i == "" {
			return ""
		}
		if n, err := strconv.ParseUint(i, 16, 64); err == nil {
			return icaoFromNumber(n)
		}
		return strings.ToUpper(i)
	}
	return ""
}

// freqString renders an ACARS VHF frequency with three decimals, the form
// used by the per-decoder frequency histograms.
func freqString(v interface{}) string {
	switch f := v.(type) {
	case float64:
		if f == 0 {
			return ""
		}
		return strconv.FormatFloat(f, 'f', 3, 64)
	case string:
		return f
	}
	return ""
}

// formatACARS passes an acarsdec object through with field normalization
// only: the shape is already close to canonical.
func formatACARS(raw []byte, now time.Time) (*message.Message, error) {
	var in rawACARS
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrBadJSON
	}

	ts := int64(in.Timestamp)
	if ts == 0 {
		ts = int64(in.Time)
	}

	text := in.Text
	if text == "" {
		text = in.MsgText
	}

	return &message.Message{
		MessageType: message.TypeACARS,
		Timestamp:   ts,
		StationID:   in.StationID,
		Freq:        freqString(in.Freq),
		Level:       in.Level,
		Error:       in.Error,
		Mode:        in.Mode,
		Label:       in.Label,
		BlockID:     in.BlockID,
		Ack:         ackString(in.Ack),
		Tail:        in.Tail,
		Flight:      in.Flight,
		Msgno:       in.Msgno,
		Text:        text,
		ICAO:        icaoString(in.ICAO),
		ToAddr:      in.ToAddr,
		FromAddr:    in.FromAddr,
		Depa:        in.Depa,
		Dsta:        in.Dsta,
		Eta:         in.Eta,
		Gtout:       in.Gtout,
		Gtin:        in.Gtin,
		Wloff:       in.Wloff,
		Wlin:        in.Wlin,
		Lat:         in.Lat,
		Lon:         in.Lon,
		Alt:         in.Alt,
		IsResponse:  in.IsResponse,
		IsOnground:  in.IsOnground,
	}, nil
}
