// Package formatter normalizes the raw JSON emitted by the five supported
// decoders into the canonical message record. Each decoder family has its
// own formatter; Normalize routes a raw object to the right one by shape.
package formatter

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/acarshub/acarshub/message"
)

// Errors returned by Normalize.
var (
	ErrBadJSON = errors.New("could not parse decoder JSON")
)

// probe holds just enough of a raw object to route it.
type probe struct {
	Vdl2 json.RawMessage `json:"vdl2"`
	Hfdl json.RawMessage `json:"hfdl"`

	Source struct {
		App struct {
			Name string `json:"name"`
		} `json:"app"`
	} `json:"source"`
	MsgName string `json:"msg_name"`

	App struct {
		Name string `json:"name"`
	} `json:"app"`
}

// Normalize converts one raw decoder object into a canonical message.
// Routing is by shape, checked in order: vdl2 key, hfdl key, SatDump
// source, JAERO app, iridium-toolkit app, and finally raw ACARS.
//
// A (nil, nil) return means the object was recognized and deliberately
// dropped (e.g. SatDump telemetry that is not an ACARS message).
func Normalize(raw []byte, now time.Time) (*message.Message, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrBadJSON
	}

	var msg *message.Message
	var err error
	switch {
	case len(p.Vdl2) > 0:
		msg, err = formatVDLM2(raw, now)
	case len(p.Hfdl) > 0:
		msg, err = formatHFDL(raw, now)
	case p.Source.App.Name == "SatDump":
		if p.MsgName != "ACARS" {
			return nil, nil
		}
		msg, err = formatSatDump(raw, now)
	case p.App.Name == "JAERO":
		msg, err = formatJAERO(raw, now)
	case p.App.Name == "iridium-toolkit":
		msg, err = formatIRDM(raw, now)
	default:
		msg, err = formatACARS(raw, now)
	}
	if err != nil || msg == nil {
		return msg, err
	}

	if msg.Timestamp == 0 {
		msg.Timestamp = now.Unix()
	}
	if msg.Error == 0 {
		msg.Error = countErrKeys(raw)
	}
	if msg.UID == "" {
		msg.UID = message.NewUID()
	}
	return msg, nil
}

// countErrKeys walks the parsed object recursively and counts every key
// named "err" whose value is true.
func countErrKeys(raw []byte) int {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return walkErrs(v)
}

func walkErrs(v interface{}) int {
	count := 0
	switch vv := v.(type) {
	case map[string]interface{}:
		for k, val := range vv {
			if k == "err" {
				if b, ok := val.(bool); ok && b {
					count++
				}
			}
			count += walkErrs(val)
		}
	case []interface{}:
		for _, val := range vv {
			count += walkErrs(val)
		}
	}
	return count
}

// trimTrailingZeros removes trailing zeros from a fixed-point decimal
// string, always keeping at least one digit after the point.
func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s + ".0"
	}
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// freqMHzFromKHz renders a raw integer kHz frequency in MHz with trailing
// zeros trimmed: 136975 becomes "136.975", 136900 becomes "136.9".
func freqMHzFromKHz(khz int64) string {
	return trimTrailingZeros(strconv.FormatFloat(float64(khz)/1000.0, 'f', 3, 64))
}

// freqMHzFromHz renders an integer Hz frequency in MHz with trailing zeros
// trimmed: 10500000 becomes "10.5".
func freqMHzFromHz(hz int64) string {
	return trimTrailingZeros(strconv.FormatFloat(float64(hz)/1e6, 'f', 6, 64))
}

// truncLevel truncates a signal level to one decimal, toward zero.
func truncLevel(level float64) float64 {
	return math.Trunc(level*10) / 10
}

// icaoFromNumber renders a numeric ICAO address as 6 uppercase hex chars,
// zero-padded.
func icaoFromNumber(n uint64) string {
	return fmt.Sprintf("%06X", n)
}

// parseISOTime converts an ISO-8601 timestamp string to epoch seconds.
// Returns false when the string does not parse.
func parseISOTime(s string) (int64, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}
