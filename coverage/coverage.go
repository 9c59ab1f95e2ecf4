// Package coverage fetches the antenna-coverage contours from the
// heywhatsthat API once at startup and persists them as a GeoJSON
// snapshot, so the map overlay never depends on the remote service at
// request time.
package coverage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// FeetToMeters converts an altitude entered in feet to meters. The
// result is rounded to a micrometer so the canonical conversions
// (10000 ft = 3048 m) hold exactly.
func FeetToMeters(ft float64) float64 {
	return math.Round(ft*0.3048*1e6) / 1e6
}

// Service produces the coverage snapshot for one panorama token.
type Service struct {
	token       string
	altitudesFt []float64
	outPath     string

	// get is swapped by tests.
	get func(url string) ([]byte, error)
}

// New creates a service writing its snapshot to outPath. Altitudes are
// given in feet, as entered by the user.
func New(token string, altitudesFt []float64, outPath string) *Service {
	return &Service{
		token:       token,
		altitudesFt: altitudesFt,
		outPath:     outPath,
		get: func(url string) ([]byte, error) {
			client := http.Client{Timeout: 30 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("unexpected status %s", resp.Status)
			}
			return io.ReadAll(resp.Body)
		},
	}
}

// ConfigHash is the 16-hex-char digest of (token, altitudes) recorded
// in the sidecar file and used as the snapshot's cache-busting version.
func (s *Service) ConfigHash() string {
	parts := make([]string, 0, len(s.altitudesFt)+1)
	parts = append(parts, s.token)
	for _, a := range s.altitudesFt {
		parts = append(parts, strconv.FormatFloat(a, 'f', -1, 64))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// Path returns the snapshot file path.
func (s *Service) Path() string {
	return s.outPath
}

func (s *Service) sidecarPath() string {
	return s.outPath + ".hash"
}

// Snapshot fetches and writes the coverage file unless the sidecar hash
// shows the current configuration was already fetched. On a fetch or
// parse failure any existing snapshot is preserved untouched.
func (s *Service) Snapshot() error {
	hash := s.ConfigHash()
	if prev, err := os.ReadFile(s.sidecarPath()); err == nil && strings.TrimSpace(string(prev)) == hash {
		if _, err := os.Stat(s.outPath); err == nil {
			log.Println("Coverage snapshot is current; skipping fetch")
			return nil
		}
	}

	altsM := make([]string, len(s.altitudesFt))
	for i, ft := range s.altitudesFt {
		altsM[i] = strconv.Itoa(int(math.Round(FeetToMeters(ft))))
	}
	url := fmt.Sprintf(
		"https://www.heywhatsthat.com/api/upintheair.json?id=%s&refraction=0.25&alts=%s",
		s.token, strings.Join(altsM, ","))

	body, err := s.get(url)
	if err != nil {
		return fmt.Errorf("coverage fetch failed: %w", err)
	}

	fc, err := toFeatureCollection(body, s.altitudesFt)
	if err != nil {
		return err
	}
	out, err := json.Marshal(fc)
	if err != nil {
		return err
	}

	// Write-then-rename so a failure mid-write cannot clobber the
	// previous snapshot.
	tmp := s.outPath + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.outPath); err != nil {
		return err
	}
	if err := os.WriteFile(s.sidecarPath(), []byte(hash+"\n"), 0644); err != nil {
		return err
	}
	log.Printf("Coverage snapshot written to %s (%d rings)", s.outPath, len(fc.Features))
	return nil
}

// GeoJSON shapes, trimmed to what the overlay needs.

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string                 `json:"type"`
	Geometry   polygon                `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type polygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// toFeatureCollection converts the API's rings of [lat, lon] pairs into
// GeoJSON polygons: coordinates swap to [lon, lat], each ring is closed
// if the API left it open, and the requested altitude rides along as a
// property. Ring i corresponds to altitude i.
func toFeatureCollection(body []byte, altitudesFt []float64) (*featureCollection, error) {
	var rings [][][]float64
	if err := json.Unmarshal(body, &rings); err != nil {
		return nil, fmt.Errorf("unexpected coverage response: %w", err)
	}

	fc := &featureCollection{Type: "FeatureCollection"}
	for i, ring := range rings {
		coords := make([][2]float64, 0, len(ring)+1)
		for _, pt := range ring {
			if len(pt) < 2 {
				return nil, fmt.Errorf("ring %d has a malformed point", i)
			}
			coords = append(coords, [2]float64{pt[1], pt[0]})
		}
		if len(coords) > 0 && coords[0] != coords[len(coords)-1] {
			coords = append(coords, coords[0])
		}

		props := map[string]interface{}{}
		if i < len(altitudesFt) {
			props["altitude_feet"] = altitudesFt[i]
			props["altitude_meters"] = FeetToMeters(altitudesFt[i])
		}
		fc.Features = append(fc.Features, feature{
			Type:       "Feature",
			Geometry:   polygon{Type: "Polygon", Coordinates: [][][2]float64{coords}},
			Properties: props,
		})
	}
	return fc, nil
}
