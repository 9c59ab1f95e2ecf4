package formatter

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/acarshub/acarshub/message"
)

// rawJAERO is the object emitted by JAERO for Inmarsat L-band ACARS.
type rawJAERO struct {
	T struct {
		Sec  int64 `json:"sec"`
		Usec int64 `json:"usec"`
	} `json:"t"`
	Station string `json:"station"`
	Isu     struct {
		Src struct {
			Addr string `json:"addr"`
		} `json:"src"`
		Dst struct {
			Addr string `json:"addr"`
		} `json:"dst"`
		Acars struct {
			Mode     string      `json:"mode"`
			Label    string      `json:"label"`
			BlkID    string      `json:"bi"`
			Ack      interface{} `json:"ack"`
			Reg      string      `json:"reg"`
			Flight   string      `json:"fid"`
			MsgNum   string      `json:"msg_num"`
			MsgText  string      `json:"msg_text"`
			Arinc622 interface{} `json:"arinc622"`
		} `json:"acars"`
	} `json:"isu"`
}

// formatJAERO converts a JAERO object. The AES/GES addresses are hex
// strings; the aircraft ICAO is the destination address uppercased.
func formatJAERO(raw []byte, now time.Time) (*message.Message, error) {
	var in rawJAERO
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrBadJSON
	}
	a := in.Isu.Acars

	msg := &message.Message{
		MessageType: message.TypeIMSL,
		Timestamp:   in.T.Sec,
		StationID:   in.Station,
		Mode:        a.Mode,
		Label:       a.Label,
		BlockID:     a.BlkID,
		Ack:         ackString(a.Ack),
		Tail:        a.Reg,
		Flight:      a.Flight,
		Msgno:       a.MsgNum,
		Text:        a.MsgText,
	}

	if addr, err := strconv.ParseUint(in.Isu.Dst.Addr, 16, 64); err == nil {
		msg.ToAddr = addr
	}
	if addr, err := strconv.ParseUint(in.Isu.Src.Addr, 16, 64); err == nil {
		msg.FromAddr = addr
	}
	if in.Isu.Dst.Addr != "" {
		msg.ICAO = icaoString(in.Isu.Dst.Addr)
	}
	if a.Arinc622 != nil {
		if b, err := json.Marshal(a.Arinc622); err == nil {
			msg.Libacars = string(b)
		}
	}

	return msg, nil
}

// rawSatDump is the ACARS message shape emitted by SatDump's Inmarsat
// demodulator. Non-ACARS SatDump messages are dropped by the router.
type rawSatDump struct {
	Timestamp  float64     `json:"timestamp"`
	Freq       int64       `json:"freq"`
	Level      float64     `json:"level"`
	Station    string      `json:"station"`
	Mode       string      `json:"mode"`
	Label      string      `json:"label"`
	BlockID    string      `json:"block_id"`
	Ack        interface{} `json:"ack"`
	PlaneReg   string      `json:"plane_reg"`
	Flight     string      `json:"flight"`
	Msgno      string      `json:"msgno"`
	Message    string      `json:"message"`
	MoreToCome bool        `json:"more_to_come"`
}

// formatSatDump converts a SatDump ACARS object. SatDump leaves raw
// control bytes in a few fields: DEL (0x7f) in labels stands for 'd', and
// NAK (0x15) in the ack field is rendered '!'. Registrations embed dots
// that are stripped.
func formatSatDump(raw []byte, now time.Time) (*message.Message, error) {
	var in rawSatDump
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrBadJSON
	}

	msg := &message.Message{
		MessageType: message.TypeIMSL,
		Timestamp:   int64(in.Timestamp),
		StationID:   in.Station,
		Level:       in.Level,
		Mode:        in.Mode,
		Label:       strings.ReplaceAll(in.Label, "\x7f", "d"),
		BlockID:     in.BlockID,
		Ack:         strings.ReplaceAll(ackString(in.Ack), "\x15", "!"),
		Tail:        strings.ReplaceAll(in.PlaneReg, ".", ""),
		Flight:      in.Flight,
		Msgno:       in.Msgno,
		Text:        in.Message,
		End:         !in.MoreToCome,
	}

	if in.Freq != 0 {
		msg.Freq = freqMHzFromHz(in.Freq)
	}

	return msg, nil
}
