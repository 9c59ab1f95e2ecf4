package formatter

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/acarshub/acarshub/message"
)

// rawVDLM2 is the object emitted by dumpvdl2, everything nested under the
// vdl2 key.
type rawVDLM2 struct {
	Vdl2 struct {
		App struct {
			Name string `json:"name"`
		} `json:"app"`
		T struct {
			Sec  int64 `json:"sec"`
			Usec int64 `json:"usec"`
		} `json:"t"`
		Station  string  `json:"station"`
		Freq     int64   `json:"freq"`
		SigLevel float64 `json:"sig_level"`
		Avlc     struct {
			Src struct {
				Addr   string `json:"addr"`
				Type   string `json:"type"`
				Status string `json:"status"`
			} `json:"src"`
			Dst struct {
				Addr string `json:"addr"`
			} `json:"dst"`
			CR    string `json:"cr"`
			Acars struct {
				Err      bool        `json:"err"`
				CRCOK    bool        `json:"crc_ok"`
				More     bool        `json:"more"`
				Reg      string      `json:"reg"`
				Mode     string      `json:"mode"`
				Label    string      `json:"label"`
				BlkID    string      `json:"blk_id"`
				Ack      interface{} `json:"ack"`
				Flight   string      `json:"flight"`
				MsgNum   string      `json:"msg_num"`
				Sublabel string      `json:"sublabel"`
				MsgText  string      `json:"msg_text"`
				Arinc622 interface{} `json:"arinc622"`
			} `json:"acars"`
		} `json:"avlc"`
	} `json:"vdl2"`
}

// formatVDLM2 converts a dumpvdl2 object. The raw integer frequency is in
// kHz and is rendered in MHz; ground state and command/response flags are
// mapped from the AVLC header.
func formatVDLM2(raw []byte, now time.Time) (*message.Message, error) {
	var in rawVDLM2
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrBadJSON
	}
	v := in.Vdl2

	msg := &message.Message{
		MessageType: message.TypeVDLM2,
		Timestamp:   v.T.Sec,
		StationID:   v.Station,
		Level:       v.SigLevel,
		Mode:        v.Avlc.Acars.Mode,
		Label:       v.Avlc.Acars.Label,
		BlockID:     v.Avlc.Acars.BlkID,
		Ack:         ackString(v.Avlc.Acars.Ack),
		Tail:        v.Avlc.Acars.Reg,
		Flight:      v.Avlc.Acars.Flight,
		Msgno:       v.Avlc.Acars.MsgNum,
		Text:        v.Avlc.Acars.MsgText,
		ICAO:        icaoString(v.Avlc.Src.Addr),
	}

	if v.Freq != 0 {
		msg.Freq = freqMHzFromKHz(v.Freq)
	}
	if addr, err := strconv.ParseUint(v.Avlc.Dst.Addr, 16, 64); err == nil {
		msg.ToAddr = addr
	}

	// Airborne aircraft report status "Airborne"; anything else is
	// treated as on the ground.
	if v.Avlc.Src.Status == "Airborne" {
		msg.IsOnground = 0
	} else {
		msg.IsOnground = 2
	}
	if v.Avlc.CR == "Response" {
		msg.IsResponse = 1
	}

	if v.Avlc.Acars.Arinc622 != nil {
		if b, err := json.Marshal(v.Avlc.Acars.Arinc622); err == nil {
			msg.Libacars = string(b)
		}
	}

	return msg, nil
}
