package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/acarshub/acarshub/message"
)

// SearchParams are the per-field filters for Search. Fields present in
// the full-text index use prefix matching; StationID is a substring
// match. All filters combine with AND.
type SearchParams struct {
	Flight    string
	Tail      string
	Icao      string
	Depa      string
	Dsta      string
	Label     string
	Text      string
	Freq      string
	StationID string

	// Sort is one of "time" (default, descending), "tail", "flight".
	Sort      string
	Limit     int
	Offset    int
	TimeStart int64
	TimeEnd   int64
}

const messageColumns = `uid, time, message_type, station_id, toaddr, fromaddr,
	icao, tail, flight, depa, dsta, eta, gtout, gtin, wloff, wlin,
	lat, lon, alt, freq, level, ack, mode, label, block_id, msgno,
	is_response, is_onground, error, msg_text, libacars`

// sanitizeTerm strips the characters that carry meaning in the
// full-text query syntax so user input cannot break the MATCH string.
func sanitizeTerm(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "*", "")
	return strings.TrimSpace(s)
}

// Search runs databaseSearch: full-text prefix match on the indexed
// fields, LIKE on station_id, AND-combined, with sort, paging, and an
// optional time range. It returns the page of messages plus the total
// match count.
func (d *DB) Search(p SearchParams) ([]message.Message, int64, error) {
	ftsFields := []struct {
		col  string
		term string
	}{
		{"flight", p.Flight},
		{"tail", p.Tail},
		{"icao", p.Icao},
		{"depa", p.Depa},
		{"dsta", p.Dsta},
		{"label", p.Label},
		{"msg_text", p.Text},
		{"freq", p.Freq},
	}

	matchTerms := []string{}
	for _, f := range ftsFields {
		if t := sanitizeTerm(f.term); t != "" {
			matchTerms = append(matchTerms, fmt.Sprintf(`%s : "%s"*`, f.col, t))
		}
	}

	where := []string{}
	args := []interface{}{}
	from := `messages m`
	if len(matchTerms) > 0 {
		from = `messages m JOIN messages_fts ON m.id = messages_fts.rowid`
		where = append(where, `messages_fts MATCH ?`)
		args = append(args, strings.Join(matchTerms, " AND "))
	}
	if p.StationID != "" {
		where = append(where, `m.station_id LIKE ?`)
		args = append(args, "%"+sanitizeTerm(p.StationID)+"%")
	}
	if p.TimeStart > 0 {
		where = append(where, `m.time >= ?`)
		args = append(args, p.TimeStart)
	}
	if p.TimeEnd > 0 {
		where = append(where, `m.time <= ?`)
		args = append(args, p.TimeEnd)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	err := d.reader.QueryRow(`SELECT COUNT(*) FROM `+from+clause, args...).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "could not count search results")
	}

	order := `m.time DESC`
	switch p.Sort {
	case "tail":
		order = `m.tail ASC, m.time DESC`
	case "flight":
		order = `m.flight ASC, m.time DESC`
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + qualify(messageColumns) + ` FROM ` + from + clause +
		` ORDER BY ` + order + ` LIMIT ? OFFSET ?`
	rows, err := d.reader.Query(query, append(args, limit, p.Offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "search query failed")
	}
	defer rows.Close()

	out := []message.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// qualify prefixes each column in a comma-joined list with the messages
// table alias, needed when the full-text table is joined in.
func qualify(cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = "m." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// GetMessageByUid returns the persisted message plus its recorded alert
// matches, or sql.ErrNoRows if the uid is unknown.
func (d *DB) GetMessageByUid(uid string) (message.Message, error) {
	row := d.reader.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE uid = ?`, uid)
	m, err := scanMessage(row)
	if err != nil {
		return message.Message{}, err
	}

	rows, err := d.reader.Query(`SELECT term, type_of_match FROM alert_matches WHERE uid = ?`, uid)
	if err != nil {
		return message.Message{}, errors.Wrap(err, "could not read alert matches")
	}
	defer rows.Close()
	for rows.Next() {
		var term, kind string
		if err := rows.Scan(&term, &kind); err != nil {
			return message.Message{}, err
		}
		m.Matched = true
		switch kind {
		case "text":
			m.MatchedText = append(m.MatchedText, term)
		case "icao":
			m.MatchedIcao = append(m.MatchedIcao, term)
		case "tail":
			m.MatchedTail = append(m.MatchedTail, term)
		case "flight":
			m.MatchedFlight = append(m.MatchedFlight, term)
		}
	}
	return m, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage reads one messages row. Legacy rows may hold NULLs in any
// optional column, so everything scans through nullable types.
func scanMessage(r rowScanner) (message.Message, error) {
	var m message.Message
	var (
		stationID, toaddr, fromaddr, icao          sql.NullString
		tail, flight, depa, dsta, eta              sql.NullString
		gtout, gtin, wloff, wlin                   sql.NullString
		lat, lon, alt, level                       sql.NullFloat64
		freq, ack, mode, label, blockID, msgno     sql.NullString
		isResponse, isOnground, errorCount         sql.NullInt64
		text, libacars                             sql.NullString
	)
	err := r.Scan(&m.UID, &m.Timestamp, &m.MessageType, &stationID,
		&toaddr, &fromaddr, &icao, &tail, &flight, &depa, &dsta, &eta,
		&gtout, &gtin, &wloff, &wlin, &lat, &lon, &alt,
		&freq, &level, &ack, &mode, &label, &blockID, &msgno,
		&isResponse, &isOnground, &errorCount, &text, &libacars)
	if err != nil {
		return message.Message{}, err
	}
	m.StationID = stationID.String
	m.ToAddrHex = toaddr.String
	m.FromAddrHex = fromaddr.String
	m.IcaoHex = icao.String
	m.Tail = tail.String
	m.Flight = flight.String
	m.Depa = depa.String
	m.Dsta = dsta.String
	m.Eta = eta.String
	m.Gtout = gtout.String
	m.Gtin = gtin.String
	m.Wloff = wloff.String
	m.Wlin = wlin.String
	m.Lat = lat.Float64
	m.Lon = lon.Float64
	m.Alt = alt.Float64
	m.Freq = freq.String
	m.Level = level.Float64
	m.Ack = ack.String
	m.Mode = mode.String
	m.Label = label.String
	m.BlockID = blockID.String
	m.Msgno = msgno.String
	m.IsResponse = int(isResponse.Int64)
	m.IsOnground = int(isOnground.Int64)
	m.Error = int(errorCount.Int64)
	m.Text = text.String
	m.Libacars = libacars.String
	return m, nil
}
