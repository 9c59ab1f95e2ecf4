package coverage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/m-lab/go/rtx"
	"github.com/pkg/errors"
)

func TestFeetToMeters(t *testing.T) {
	// One-way conversion; these must hold exactly.
	if got := FeetToMeters(10000); got != 3048 {
		t.Errorf("10000 ft = %v m, want 3048", got)
	}
	if got := FeetToMeters(30000); got != 9144 {
		t.Errorf("30000 ft = %v m, want 9144", got)
	}
	if got := FeetToMeters(0); got != 0 {
		t.Errorf("0 ft = %v m", got)
	}
}

const apiResponse = `[
	[[41.9, -87.6], [42.0, -87.5], [41.8, -87.4]],
	[[41.9, -87.6], [42.1, -87.3], [41.7, -87.2], [41.9, -87.6]]
]`

func TestSnapshot(t *testing.T) {
	out := filepath.Join(t.TempDir(), "heywhatsthat.geojson")
	s := New("ABCD1234", []float64{10000, 30000}, out)

	fetches := 0
	var fetchedURL string
	s.get = func(url string) ([]byte, error) {
		fetches++
		fetchedURL = url
		return []byte(apiResponse), nil
	}

	rtx.Must(s.Snapshot(), "Snapshot failed")
	if fetches != 1 {
		t.Fatalf("fetches = %d", fetches)
	}
	// Altitudes are sent in meters.
	if !strings.Contains(fetchedURL, "alts=3048,9144") || !strings.Contains(fetchedURL, "id=ABCD1234") {
		t.Errorf("fetch url = %s", fetchedURL)
	}

	raw, err := os.ReadFile(out)
	rtx.Must(err, "Could not read snapshot")
	var fc featureCollection
	rtx.Must(json.Unmarshal(raw, &fc), "Could not parse snapshot")
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("collection = %+v", fc)
	}

	ring := fc.Features[0].Geometry.Coordinates[0]
	// [lat, lon] became [lon, lat].
	if ring[0] != [2]float64{-87.6, 41.9} {
		t.Errorf("first point = %v", ring[0])
	}
	// The open ring was closed.
	if len(ring) != 4 || ring[0] != ring[3] {
		t.Errorf("first ring not closed: %v", ring)
	}
	// The already-closed ring was not double-closed.
	if second := fc.Features[1].Geometry.Coordinates[0]; len(second) != 4 {
		t.Errorf("second ring = %v", second)
	}
	if alt := fc.Features[1].Properties["altitude_meters"]; alt != 9144.0 {
		t.Errorf("altitude property = %v", alt)
	}

	// Sidecar holds a 16-hex hash.
	sidecar, err := os.ReadFile(out + ".hash")
	rtx.Must(err, "Could not read sidecar")
	hash := strings.TrimSpace(string(sidecar))
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(hash) {
		t.Errorf("sidecar hash = %q", hash)
	}
	if hash != s.ConfigHash() {
		t.Error("sidecar does not match ConfigHash")
	}

	// Same configuration: no second fetch.
	rtx.Must(s.Snapshot(), "Second snapshot failed")
	if fetches != 1 {
		t.Errorf("unchanged config refetched (fetches = %d)", fetches)
	}

	// Changed altitudes: new hash, refetch.
	s2 := New("ABCD1234", []float64{10000}, out)
	s2.get = s.get
	if s2.ConfigHash() == s.ConfigHash() {
		t.Error("hash should depend on altitudes")
	}
	rtx.Must(s2.Snapshot(), "Refetch after config change failed")
	if fetches != 2 {
		t.Errorf("changed config did not refetch (fetches = %d)", fetches)
	}
	good, err := os.ReadFile(out)
	rtx.Must(err, "Could not read refreshed snapshot")

	// A failed refetch preserves the existing snapshot.
	s3 := New("OTHERTOKEN", []float64{10000}, out)
	s3.get = func(string) ([]byte, error) { return nil, errors.New("api down") }
	if err := s3.Snapshot(); err == nil {
		t.Error("failed fetch should return an error")
	}
	preserved, err := os.ReadFile(out)
	rtx.Must(err, "Snapshot vanished after failed refetch")
	if string(preserved) != string(good) {
		t.Error("snapshot content changed after failed refetch")
	}
}
