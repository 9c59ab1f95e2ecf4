package metrics

import (
	"path/filepath"
	"testing"

	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	rtx.Must(err, "Could not gather metrics")
	out := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestCollectorResolvesAtScrape(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "metrics.db"))
	rtx.Must(err, "Could not open test database")
	defer d.Close()
	rtx.Must(d.Migrate(), "Could not migrate test database")
	d.SetAlertTerms([]string{"mayday"}, nil)

	reg := prometheus.NewPedanticRegistry()
	Register(reg, d, Config{
		Version: "3.0.0",
		Enabled: map[string]bool{message.TypeACARS: true, message.TypeVDLM2: true},
	})

	families := gather(t, reg)
	if v := families["acarshub_database_messages"].GetMetric()[0].GetGauge().GetValue(); v != 0 {
		t.Errorf("row count before writes = %v", v)
	}
	if v := families["acarshub_alert_terms"].GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Errorf("alert terms = %v", v)
	}

	// Values move between scrapes without re-registration.
	_, _, err = d.SaveMessage(message.Message{
		Timestamp: 100, MessageType: message.TypeACARS,
		Freq: "131.550", Level: -10, Text: "MAYDAY",
	})
	rtx.Must(err, "Could not save message")
	rtx.Must(d.InsertTimeSeries(db.TimeSeriesRow{
		Timestamp: 100, Resolution: "1min", Acars: 4, Total: 4,
	}), "Could not insert minute row")

	families = gather(t, reg)
	if v := families["acarshub_database_messages"].GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Errorf("row count after write = %v", v)
	}
	if v := families["acarshub_messages_good_total"].GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("good counter = %v", v)
	}
	if v := families["acarshub_database_size_bytes"].GetMetric()[0].GetGauge().GetValue(); v <= 0 {
		t.Errorf("database size = %v", v)
	}

	// Per-decoder minute counts from the latest row.
	minute := families["acarshub_minute_messages"]
	if len(minute.GetMetric()) != 5 {
		t.Fatalf("minute metrics = %d, want one per decoder", len(minute.GetMetric()))
	}
	for _, m := range minute.GetMetric() {
		want := 0.0
		if m.GetLabel()[0].GetValue() == "acars" {
			want = 4
		}
		if m.GetGauge().GetValue() != want {
			t.Errorf("minute{%s} = %v, want %v",
				m.GetLabel()[0].GetValue(), m.GetGauge().GetValue(), want)
		}
	}

	// Histograms carry decoder and value labels.
	freq := families["acarshub_frequency_messages"].GetMetric()
	if len(freq) != 1 {
		t.Fatalf("freq metrics = %d", len(freq))
	}
	labels := map[string]string{}
	for _, l := range freq[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["decoder"] != "ACARS" || labels["freq"] != "131.550" {
		t.Errorf("freq labels = %v", labels)
	}

	// Alert matches per term.
	matches := families["acarshub_alert_matches_total"].GetMetric()
	if len(matches) != 1 || matches[0].GetCounter().GetValue() != 1 {
		t.Errorf("term matches = %+v", matches)
	}
	if v := families["acarshub_alert_matches_saved_total"].GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("saved total = %v", v)
	}

	// Info gauge labels record version and decoder-enable flags.
	info := families["acarshub_info"].GetMetric()[0]
	got := map[string]string{}
	for _, l := range info.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	if got["version"] != "3.0.0" || got["acars_enabled"] != "true" || got["hfdl_enabled"] != "false" {
		t.Errorf("info labels = %v", got)
	}
}
