package formatter

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/acarshub/acarshub/message"
)

// Iridium simplex channelization: 30 sub-bands of 8 channels each across
// 10 MHz starting at 1616 MHz.
const (
	irdmBaseMHz  = 1616.0
	irdmWidthMHz = 10.0 / (30 * 8)
)

// rawIRDM is the object emitted by iridium-toolkit's ACARS reassembler.
type rawIRDM struct {
	Timestamp interface{} `json:"timestamp"`
	Freq      float64     `json:"freq"`
	Level     float64     `json:"level"`
	Station   string      `json:"station"`
	Acars     struct {
		Mode    string      `json:"mode"`
		Label   string      `json:"label"`
		BlockID string      `json:"block_id"`
		Ack     interface{} `json:"ack"`
		Tail    string      `json:"tail"`
		Flight  string      `json:"flight"`
		Msgno   string      `json:"msgno"`
		Text    string      `json:"text"`
	} `json:"acars"`
}

// irdmChannel snaps a frequency in Hz to the nearest Iridium channel and
// renders it in MHz with six decimals.
func irdmChannel(hz float64) string {
	mhz := hz / 1e6
	n := math.Round((mhz - irdmBaseMHz) / irdmWidthMHz)
	return fmt.Sprintf("%.6f", irdmBaseMHz+n*irdmWidthMHz)
}

// formatIRDM converts an iridium-toolkit object. The observed frequency
// wanders with Doppler, so it is snapped to the nearest channel; the
// timestamp may be epoch seconds or an ISO string.
func formatIRDM(raw []byte, now time.Time) (*message.Message, error) {
	var in rawIRDM
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrBadJSON
	}

	msg := &message.Message{
		MessageType: message.TypeIRDM,
		StationID:   in.Station,
		Level:       in.Level,
		Mode:        in.Acars.Mode,
		Label:       in.Acars.Label,
		BlockID:     in.Acars.BlockID,
		Ack:         ackString(in.Acars.Ack),
		Tail:        in.Acars.Tail,
		Flight:      in.Acars.Flight,
		Msgno:       in.Acars.Msgno,
		Text:        in.Acars.Text,
	}

	switch ts := in.Timestamp.(type) {
	case float64:
		msg.Timestamp = int64(ts)
	case string:
		if sec, ok := parseISOTime(ts); ok {
			msg.Timestamp = sec
		} else {
			msg.Timestamp = now.Unix()
		}
	default:
		msg.Timestamp = now.Unix()
	}

	if in.Freq != 0 {
		msg.Freq = irdmChannel(in.Freq)
	}

	return msg, nil
}
