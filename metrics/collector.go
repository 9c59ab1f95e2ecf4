package metrics

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
)

// Config carries the static facts reported by the info gauge.
type Config struct {
	Version string
	// Enabled is keyed by canonical decoder type.
	Enabled map[string]bool
}

type collector struct {
	db *db.DB

	rowCount    *prometheus.Desc
	fileSize    *prometheus.Desc
	goodTotal   *prometheus.Desc
	errorTotal  *prometheus.Desc
	minuteCount *prometheus.Desc
	levelCount  *prometheus.Desc
	freqCount   *prometheus.Desc
	alertTerms  *prometheus.Desc
	termMatches *prometheus.Desc
	matchTotal  *prometheus.Desc
	info        *prometheus.Desc
}

// Register attaches the scrape-time collector to reg.
func Register(reg prometheus.Registerer, d *db.DB, cfg Config) {
	infoLabels := prometheus.Labels{"version": cfg.Version}
	for _, t := range message.Types {
		infoLabels[strings.ToLower(t)+"_enabled"] = strconv.FormatBool(cfg.Enabled[t])
	}
	c := &collector{
		db: d,
		rowCount: prometheus.NewDesc("acarshub_database_messages",
			"Number of rows in the messages table.", nil, nil),
		fileSize: prometheus.NewDesc("acarshub_database_size_bytes",
			"Size of the database file on disk.", nil, nil),
		goodTotal: prometheus.NewDesc("acarshub_messages_good_total",
			"Cumulative messages persisted without decoder errors.", nil, nil),
		errorTotal: prometheus.NewDesc("acarshub_messages_error_total",
			"Cumulative messages persisted with decoder errors.", nil, nil),
		minuteCount: prometheus.NewDesc("acarshub_minute_messages",
			"Per-decoder count from the most recent 1-minute row.", []string{"decoder"}, nil),
		levelCount: prometheus.NewDesc("acarshub_signal_level_messages",
			"Messages observed at each signal level.", []string{"decoder", "level"}, nil),
		freqCount: prometheus.NewDesc("acarshub_frequency_messages",
			"Messages observed on each frequency.", []string{"decoder", "freq"}, nil),
		alertTerms: prometheus.NewDesc("acarshub_alert_terms",
			"Number of configured alert terms.", nil, nil),
		termMatches: prometheus.NewDesc("acarshub_alert_matches_total",
			"Recorded alert matches per term.", []string{"term"}, nil),
		matchTotal: prometheus.NewDesc("acarshub_alert_matches_saved_total",
			"Total recorded alert matches.", nil, nil),
		info: prometheus.NewDesc("acarshub_info",
			"Build and decoder-enable facts.", nil, infoLabels),
	}
	reg.MustRegister(c)
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.rowCount, c.fileSize, c.goodTotal, c.errorTotal, c.minuteCount,
		c.levelCount, c.freqCount, c.alertTerms, c.termMatches, c.matchTotal, c.info,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector. Each family is resolved
// independently; a failing query skips its family with a log line
// rather than failing the whole scrape.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if n, err := c.db.RowCount(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.rowCount, prometheus.GaugeValue, float64(n))
	} else {
		log.Println("Scrape: row count failed:", err)
	}
	if size, err := c.db.FileSize(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.fileSize, prometheus.GaugeValue, float64(size))
	} else {
		log.Println("Scrape: file size failed:", err)
	}
	if counts, err := c.db.GetCounts(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.goodTotal, prometheus.CounterValue, float64(counts.Good))
		ch <- prometheus.MustNewConstMetric(c.errorTotal, prometheus.CounterValue, float64(counts.Errors))
	} else {
		log.Println("Scrape: counters failed:", err)
	}

	if row, ok, err := c.db.LatestMinuteCounts(); err == nil && ok {
		for decoder, v := range map[string]int64{
			"acars": row.Acars, "vdlm2": row.Vdlm, "hfdl": row.Hfdl,
			"imsl": row.Imsl, "irdm": row.Irdm,
		} {
			ch <- prometheus.MustNewConstMetric(c.minuteCount, prometheus.GaugeValue, float64(v), decoder)
		}
	} else if err != nil {
		log.Println("Scrape: minute counts failed:", err)
	}

	if levels, err := c.db.GetAllSignalLevels(); err == nil {
		for decoder, rows := range levels {
			for _, lc := range rows {
				ch <- prometheus.MustNewConstMetric(c.levelCount, prometheus.GaugeValue,
					float64(lc.Count), decoder, fmt.Sprintf("%g", lc.Level))
			}
		}
	} else {
		log.Println("Scrape: signal levels failed:", err)
	}
	if freqs, err := c.db.GetAllFreqCounts(); err == nil {
		for decoder, rows := range freqs {
			for _, fc := range rows {
				ch <- prometheus.MustNewConstMetric(c.freqCount, prometheus.GaugeValue,
					float64(fc.Count), decoder, fc.Freq)
			}
		}
	} else {
		log.Println("Scrape: frequency counts failed:", err)
	}

	ch <- prometheus.MustNewConstMetric(c.alertTerms, prometheus.GaugeValue, float64(c.db.AlertTermCount()))
	if matches, err := c.db.AlertMatchCounts(); err == nil {
		for term, n := range matches {
			ch <- prometheus.MustNewConstMetric(c.termMatches, prometheus.CounterValue, float64(n), term)
		}
	} else {
		log.Println("Scrape: alert match counts failed:", err)
	}
	if total, err := c.db.AlertMatchTotal(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.matchTotal, prometheus.CounterValue, float64(total))
	} else {
		log.Println("Scrape: alert match total failed:", err)
	}

	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1)
}
