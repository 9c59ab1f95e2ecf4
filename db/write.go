package db

import (
	"log"
	"strings"

	"github.com/pkg/errors"

	"github.com/acarshub/acarshub/message"
)

// SaveMessage runs the full write path for one enriched message: insert
// the row, bump the frequency and level histograms, bump the cumulative
// counters, evaluate alert terms, and register the station id. Only a
// failure of the main insert is an error; histogram, counter, and alert
// failures are logged and the message continues.
//
// The returned copy carries the generated uid and any alert-match
// results. newStation is true when this message introduced a station id
// the registry had not seen.
func (d *DB) SaveMessage(m message.Message) (saved message.Message, newStation bool, err error) {
	if m.UID == "" {
		m.UID = message.NewUID()
	}

	_, err = d.writer.Exec(`INSERT INTO messages (
			uid, time, message_type, station_id, toaddr, fromaddr, icao,
			tail, flight, depa, dsta, eta, gtout, gtin, wloff, wlin,
			lat, lon, alt, freq, level, ack, mode, label, block_id, msgno,
			is_response, is_onground, error, msg_text, libacars, aircraft_id
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.UID, m.Timestamp, m.MessageType, m.StationID,
		m.ToAddrHex, m.FromAddrHex, m.IcaoHex,
		m.Tail, m.Flight, m.Depa, m.Dsta, m.Eta,
		m.Gtout, m.Gtin, m.Wloff, m.Wlin,
		m.Lat, m.Lon, m.Alt, m.Freq, m.Level,
		m.Ack, m.Mode, m.Label, m.BlockID, m.Msgno,
		m.IsResponse, m.IsOnground, m.Error, m.Text, m.Libacars, m.IcaoHex)
	if err != nil {
		d.IncrementDropped(m.Error > 0)
		return m, false, errors.Wrap(err, "could not insert message row")
	}

	d.updateFreqCount(m)
	d.updateLevelCount(m)
	d.updateCounters(m)
	m = d.evaluateAlerts(m)
	newStation = d.addStation(m.StationID)

	return m, newStation, nil
}

func (d *DB) updateFreqCount(m message.Message) {
	table := freqTableFor(m.MessageType)
	if table == "" || m.Freq == "" {
		return
	}
	_, err := d.writer.Exec(`INSERT INTO `+table+` (freq, count) VALUES (?, 1)
		ON CONFLICT(freq) DO UPDATE SET count = count + 1`, m.Freq)
	if err != nil {
		log.Printf("Could not update %s: %v", table, err)
	}
}

func (d *DB) updateLevelCount(m message.Message) {
	table := levelTableFor(m.MessageType)
	if table == "" || m.Level == 0 {
		return
	}
	_, err := d.writer.Exec(`INSERT INTO `+table+` (level, count) VALUES (?, 1)
		ON CONFLICT(level) DO UPDATE SET count = count + 1`, m.Level)
	if err != nil {
		log.Printf("Could not update %s: %v", table, err)
	}
}

func (d *DB) updateCounters(m message.Message) {
	col := "good"
	if m.Error > 0 {
		col = "errors"
	}
	_, err := d.writer.Exec(`UPDATE messages_count
		SET total = total + 1, ` + col + ` = ` + col + ` + 1 WHERE id = 1`)
	if err != nil {
		log.Println("Could not update message counters:", err)
	}
}

// evaluateAlerts matches every configured term against the message text
// and identity fields. A message matching any ignore term produces no
// alerts at all.
func (d *DB) evaluateAlerts(m message.Message) message.Message {
	d.mu.Lock()
	terms := d.alertTerms
	ignore := d.ignoreList
	d.mu.Unlock()
	if len(terms) == 0 {
		return m
	}

	fields := []struct {
		kind  string
		value string
	}{
		{"text", strings.ToLower(m.Text)},
		{"icao", strings.ToLower(m.IcaoHex)},
		{"tail", strings.ToLower(m.Tail)},
		{"flight", strings.ToLower(m.Flight)},
	}

	for _, ig := range ignore {
		for _, f := range fields {
			if f.value != "" && strings.Contains(f.value, ig) {
				return m
			}
		}
	}

	for _, term := range terms {
		for _, f := range fields {
			if f.value == "" || !strings.Contains(f.value, term) {
				continue
			}
			m.Matched = true
			switch f.kind {
			case "text":
				m.MatchedText = append(m.MatchedText, term)
			case "icao":
				m.MatchedIcao = append(m.MatchedIcao, term)
			case "tail":
				m.MatchedTail = append(m.MatchedTail, term)
			case "flight":
				m.MatchedFlight = append(m.MatchedFlight, term)
			}
			_, err := d.writer.Exec(`INSERT INTO alert_matches (uid, term, time, type_of_match)
				VALUES (?, ?, ?, ?)`, m.UID, term, m.Timestamp, f.kind)
			if err != nil {
				log.Println("Could not record alert match:", err)
			}
		}
	}
	return m
}

// DeleteOldMessages removes every message older than before (epoch
// seconds) along with its alert matches, returning the number of
// messages deleted.
func (d *DB) DeleteOldMessages(before int64) (int64, error) {
	if _, err := d.writer.Exec(`DELETE FROM alert_matches WHERE time < ?`, before); err != nil {
		return 0, errors.Wrap(err, "could not prune alert matches")
	}
	res, err := d.writer.Exec(`DELETE FROM messages WHERE time < ?`, before)
	if err != nil {
		return 0, errors.Wrap(err, "could not prune messages")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
