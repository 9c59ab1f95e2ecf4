package formatter

import (
	"encoding/json"
	"time"

	"github.com/acarshub/acarshub/message"
)

// rawHFDL is the object emitted by dumphfdl, everything nested under the
// hfdl key. ACARS payloads ride inside an LPDU / HFNPDU envelope.
type rawHFDL struct {
	Hfdl struct {
		T struct {
			Sec  int64 `json:"sec"`
			Usec int64 `json:"usec"`
		} `json:"t"`
		Station  string  `json:"station"`
		Freq     int64   `json:"freq"`
		SigLevel float64 `json:"sig_level"`
		Lpdu     struct {
			Src struct {
				AcInfo struct {
					ICAO string `json:"icao"`
				} `json:"ac_info"`
			} `json:"src"`
			Hfnpdu struct {
				FlightID string `json:"flight_id"`
				Pos      struct {
					Lat float64 `json:"lat"`
					Lon float64 `json:"lon"`
				} `json:"pos"`
				Acars struct {
					Err      bool        `json:"err"`
					Reg      string      `json:"reg"`
					Mode     string      `json:"mode"`
					Label    string      `json:"label"`
					BlkID    string      `json:"blk_id"`
					Ack      interface{} `json:"ack"`
					Flight   string      `json:"flight"`
					MsgNum   string      `json:"msg_num"`
					MsgText  string      `json:"msg_text"`
					Arinc622 interface{} `json:"arinc622"`
				} `json:"acars"`
			} `json:"hfnpdu"`
		} `json:"lpdu"`
	} `json:"hfdl"`
}

// formatHFDL converts a dumphfdl object. HF frequencies are rendered in
// MHz with trailing zeros stripped (10.5, not 10.500); signal level is
// truncated to one decimal.
func formatHFDL(raw []byte, now time.Time) (*message.Message, error) {
	var in rawHFDL
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrBadJSON
	}
	h := in.Hfdl
	a := h.Lpdu.Hfnpdu.Acars

	msg := &message.Message{
		MessageType: message.TypeHFDL,
		Timestamp:   h.T.Sec,
		StationID:   h.Station,
		Level:       truncLevel(h.SigLevel),
		Mode:        a.Mode,
		Label:       a.Label,
		BlockID:     a.BlkID,
		Ack:         ackString(a.Ack),
		Tail:        a.Reg,
		Msgno:       a.MsgNum,
		Text:        a.MsgText,
		ICAO:        icaoString(h.Lpdu.Src.AcInfo.ICAO),
		Lat:         h.Lpdu.Hfnpdu.Pos.Lat,
		Lon:         h.Lpdu.Hfnpdu.Pos.Lon,
	}

	// Flight id may come from the ACARS payload or the HFNPDU envelope
	// (position reports carry no ACARS block).
	msg.Flight = a.Flight
	if msg.Flight == "" {
		msg.Flight = h.Lpdu.Hfnpdu.FlightID
	}

	if h.Freq != 0 {
		msg.Freq = freqMHzFromHz(h.Freq)
	}
	if a.Arinc622 != nil {
		if b, err := json.Marshal(a.Arinc622); err == nil {
			msg.Libacars = string(b)
		}
	}

	return msg, nil
}
