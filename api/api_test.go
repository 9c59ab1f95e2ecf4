package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/rtx"

	"github.com/acarshub/acarshub/coverage"
	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
	"github.com/acarshub/acarshub/queue"
)

func testServer(t *testing.T) (*Server, *db.DB, *queue.Queue) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	rtx.Must(err, "Could not open test database")
	rtx.Must(d.Migrate(), "Could not migrate test database")
	t.Cleanup(func() { d.Close() })
	q := queue.New(0)
	return New(d, q, nil, "3.0.0"), d, q
}

func getJSON(t *testing.T, mux *http.ServeMux, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		rtx.Must(json.Unmarshal(rec.Body.Bytes(), out), "Could not parse %s response", path)
	}
	return rec
}

func TestHealth(t *testing.T) {
	s, d, _ := testServer(t)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	_, _, err := d.SaveMessage(message.Message{Timestamp: 1, MessageType: message.TypeACARS})
	rtx.Must(err, "Could not save message")

	var resp healthResponse
	rec := getJSON(t, mux, "/health", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Status != "ok" || !resp.Database.Connected || resp.Database.Messages != 1 {
		t.Errorf("health = %+v", resp)
	}
	if resp.Version != "3.0.0" || resp.Database.Size <= 0 {
		t.Errorf("health metadata = %+v", resp)
	}
}

func TestStatsFallsBackToQueue(t *testing.T) {
	s, d, q := testServer(t)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	fixed := time.Unix(1704070800, 0)
	s.now = func() time.Time { return fixed }

	// No minute rows yet: the live queue counters serve.
	q.IncrementCounter("ACARS", 0)
	q.IncrementCounter("VDL-M2", 0)
	q.IncrementCounter("ACARS", 1)

	var resp statsResponse
	rec := getJSON(t, mux, "/data/stats.json", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Acars != 2 || resp.Vdlm2 != 1 || resp.Total != 3 {
		t.Errorf("fallback stats = %+v", resp)
	}

	// With rows inside the hour window, the table serves.
	rtx.Must(d.InsertTimeSeries(db.TimeSeriesRow{
		Timestamp: fixed.Unix() - 300, Resolution: "1min", Acars: 7, Hfdl: 2, Total: 9,
	}), "Could not insert minute row")
	rtx.Must(d.InsertTimeSeries(db.TimeSeriesRow{
		Timestamp: fixed.Unix() - 7200, Resolution: "1min", Acars: 100, Total: 100,
	}), "Could not insert stale row")

	getJSON(t, mux, "/data/stats.json", &resp)
	if resp.Acars != 7 || resp.Hfdl != 2 || resp.Total != 9 {
		t.Errorf("hour window stats = %+v", resp)
	}
}

func TestStatsInternalFailure(t *testing.T) {
	// An unmigrated database makes the sum query fail.
	d, err := db.Open(filepath.Join(t.TempDir(), "broken.db"))
	rtx.Must(err, "Could not open test database")
	defer d.Close()
	s := New(d, queue.New(0), nil, "3.0.0")
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	rec := getJSON(t, mux, "/data/stats.json", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCoverageEndpoint(t *testing.T) {
	s, _, _ := testServer(t)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	// Unconfigured: 404.
	if rec := getJSON(t, mux, "/data/heywhatsthat.geojson", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured status = %d", rec.Code)
	}

	// Configured: the snapshot file is served verbatim with cache headers.
	path := filepath.Join(t.TempDir(), "coverage.geojson")
	content := `{"type":"FeatureCollection","features":[]}`
	rtx.Must(os.WriteFile(path, []byte(content), 0644), "Could not write snapshot")
	cov := coverage.New("TOKEN", []float64{10000}, path)
	s.coverage = cov

	rec := getJSON(t, mux, "/data/heywhatsthat.geojson?v="+cov.ConfigHash(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != content {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=86400") {
		t.Errorf("cache header = %q", cc)
	}
}

func TestWebsocketBridge(t *testing.T) {
	s, _, _ := testServer(t)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	rtx.Must(err, "Could not dial websocket")
	defer conn.Close()

	for s.bridge.clientCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	s.Emit("acars_msg", &message.Message{UID: "ws1", MessageType: "ACARS"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, line, err := conn.ReadMessage()
	rtx.Must(err, "Could not read websocket frame")

	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	rtx.Must(json.Unmarshal(line, &env), "Could not parse frame")
	if env.Event != "acars_msg" {
		t.Errorf("event = %q", env.Event)
	}
	var msg message.Message
	rtx.Must(json.Unmarshal(env.Payload, &msg), "Could not parse payload")
	if msg.UID != "ws1" {
		t.Errorf("payload uid = %q", msg.UID)
	}

	// A closed client drops out on the next emit.
	conn.Close()
	for s.bridge.clientCount() != 0 {
		s.Emit("status", map[string]bool{"ok": true})
		time.Sleep(time.Millisecond)
	}
}
