// Package config defines every command-line flag the daemon accepts.
// All flags are also settable by environment variable (ACARSHUB_DB,
// RRD_PATH, HEYWHATSTHAT_ID, ...) via flagx.ArgsFromEnv in main.
package config

import (
	"flag"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/acarshub/acarshub/message"
)

// Decoder describes one listener endpoint.
type Decoder struct {
	// Type is the canonical decoder type.
	Type string
	// ListenType is "tcp" or "udp".
	ListenType string
	Host       string
	Port       int
}

// Config is the parsed runtime configuration.
type Config struct {
	DBPath  string
	RRDPath string

	HTTPHost string
	HTTPPort int

	HeywhatsthatID   string
	HeywhatsthatAlts []float64
	HeywhatsthatSave string

	Decoders    []Decoder
	AlertTerms  []string
	AlertIgnore []string

	AirlinesPath         string
	AirlineOverridesPath string
	AirportsPath         string
	GroundStationsPath   string
	LabelsPath           string

	QueueCapacity int
	Verbose       bool
}

// Flags holds the registered flag values prior to parsing.
type Flags struct {
	dbPath  *string
	rrdPath *string

	host *string
	port *int

	hwtID   *string
	hwtAlts *string
	hwtSave *string

	decoders    *string
	alertTerms  *string
	alertIgnore *string

	airlines         *string
	airlineOverrides *string
	airports         *string
	groundStations   *string
	labels           *string

	queueCapacity *int
	verbose       *bool
}

// RegisterFlags defines every flag on fs. Flag names are chosen so that
// ArgsFromEnv maps them onto the documented environment variables.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		dbPath:  fs.String("acarshub.db", "/run/acars/acarshub.db", "Path of the message database file."),
		rrdPath: fs.String("rrd.path", "", "Path of the legacy round-robin stats file to import, if any."),

		host: fs.String("host", "0.0.0.0", "Address the HTTP server binds."),
		port: fs.Int("port", 8080, "Port the HTTP server binds."),

		hwtID:   fs.String("heywhatsthat.id", "", "heywhatsthat.com panorama token. Empty disables the coverage snapshot."),
		hwtAlts: fs.String("heywhatsthat.alts", "10000,30000", "Comma-separated coverage altitudes in feet."),
		hwtSave: fs.String("heywhatsthat.save", "", "Path the coverage GeoJSON snapshot is written to."),

		decoders: fs.String("decoders", "",
			"Semicolon-separated decoder endpoints, each type,listentype,host,port (e.g. acars,tcp,127.0.0.1,15550;hfdl,udp,*,5556)."),
		alertTerms:  fs.String("alert.terms", "", "Comma-separated alert terms."),
		alertIgnore: fs.String("alert.ignore", "", "Comma-separated terms that suppress alerts."),

		airlines:         fs.String("table.airlines", "", "Airlines lookup CSV."),
		airlineOverrides: fs.String("table.airline-overrides", "", "Airline override lookup CSV, consulted before the main airlines table."),
		airports:         fs.String("table.airports", "", "Airports lookup CSV."),
		groundStations:   fs.String("table.groundstations", "", "Ground stations lookup CSV."),
		labels:           fs.String("table.labels", "", "Message label lookup CSV."),

		queueCapacity: fs.Int("queue.capacity", 0, "Message queue capacity (0 selects the default)."),
		verbose:       fs.Bool("v", false, "Enable debug logging."),
	}
}

// Config validates and assembles the parsed flag values.
func (f *Flags) Config() (Config, error) {
	decoders, err := ParseDecoders(*f.decoders)
	if err != nil {
		return Config{}, err
	}
	alts, err := parseAltitudes(*f.hwtAlts)
	if err != nil {
		return Config{}, err
	}
	return Config{
		DBPath:               *f.dbPath,
		RRDPath:              *f.rrdPath,
		HTTPHost:             *f.host,
		HTTPPort:             *f.port,
		HeywhatsthatID:       *f.hwtID,
		HeywhatsthatAlts:     alts,
		HeywhatsthatSave:     *f.hwtSave,
		Decoders:             decoders,
		AlertTerms:           splitList(*f.alertTerms),
		AlertIgnore:          splitList(*f.alertIgnore),
		AirlinesPath:         *f.airlines,
		AirlineOverridesPath: *f.airlineOverrides,
		AirportsPath:         *f.airports,
		GroundStationsPath:   *f.groundStations,
		LabelsPath:           *f.labels,
		QueueCapacity:        *f.queueCapacity,
		Verbose:              *f.verbose,
	}, nil
}

// ParseDecoders parses the semicolon-separated endpoint list. Any
// accepted spelling of the decoder type is canonicalized.
func ParseDecoders(spec string) ([]Decoder, error) {
	out := []Decoder{}
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ",")
		if len(parts) != 4 {
			return nil, errors.Errorf("decoder %q: want type,listentype,host,port", entry)
		}
		typ := message.CanonicalType(strings.TrimSpace(parts[0]))
		if typ == "" {
			return nil, errors.Errorf("decoder %q: unknown type %q", entry, parts[0])
		}
		listen := strings.ToLower(strings.TrimSpace(parts[1]))
		if listen != "tcp" && listen != "udp" {
			return nil, errors.Errorf("decoder %q: listen type must be tcp or udp", entry)
		}
		port, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil || port < 1 || port > 65535 {
			return nil, errors.Errorf("decoder %q: bad port %q", entry, parts[3])
		}
		out = append(out, Decoder{
			Type:       typ,
			ListenType: listen,
			Host:       strings.TrimSpace(parts[2]),
			Port:       port,
		})
	}
	return out, nil
}

func parseAltitudes(spec string) ([]float64, error) {
	out := []float64{}
	for _, s := range strings.Split(spec, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return nil, errors.Errorf("bad altitude %q", s)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitList(spec string) []string {
	out := []string{}
	for _, s := range strings.Split(spec, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EnabledTypes reports, per canonical decoder type, whether any endpoint
// is configured for it. Feeds the metrics info gauge.
func (c Config) EnabledTypes() map[string]bool {
	out := make(map[string]bool, len(message.Types))
	for _, t := range message.Types {
		out[t] = false
	}
	for _, d := range c.Decoders {
		out[d.Type] = true
	}
	return out
}
