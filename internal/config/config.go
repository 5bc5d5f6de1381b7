// Package config loads the playback server configuration from YAML, an
// optional .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/internal/observability"
	"github.com/signalsfoundry/route-playback/model"
)

// DefaultPath is where the server looks for its YAML file.
const DefaultPath = "configs/playback.yaml"

// Route formats accepted in RouteConfig.Format.
const (
	FormatJSON    = "json"
	FormatGeoJSON = "geojson"
)

// Config is the root configuration structure.
type Config struct {
	Server         ServerConfig             `yaml:"server"`
	Logging        LoggingConfig            `yaml:"logging"`
	Tracing        TracingConfig            `yaml:"tracing"`
	Kafka          KafkaConfig              `yaml:"kafka"`
	Routes         []RouteConfig            `yaml:"routes" validate:"dive"`
	Variants       map[string]VariantConfig `yaml:"variants" validate:"dive"`
	DefaultVariant string                   `yaml:"default_variant"`

	// dir is the directory of the loaded file; relative route paths resolve
	// against it.
	dir string
}

// ServerConfig contains listener configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"omitempty,hostname_port"`
	MetricsAddr     string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format  string `yaml:"format" validate:"omitempty,oneof=json text"`
	Backend string `yaml:"backend" validate:"omitempty,oneof=slog zap"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// KafkaConfig configures trip event publishing. Publishing is off when no
// brokers are listed.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" validate:"dive,hostname_port"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout" validate:"gte=0"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// PointConfig is an inline route point.
type PointConfig struct {
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

// RouteConfig names one route and where its points come from. Either Path
// or Points is set.
type RouteConfig struct {
	ID     string        `yaml:"id" validate:"required"`
	Path   string        `yaml:"path" validate:"required_without=Points"`
	Format string        `yaml:"format" validate:"omitempty,oneof=json geojson"`
	Points []PointConfig `yaml:"points" validate:"dive"`
}

// VariantConfig overrides parts of core.DefaultPresentation. Unset fields
// keep the default.
type VariantConfig struct {
	TickPeriod        time.Duration `yaml:"tick_period" validate:"gte=0"`
	SupportsPause     *bool         `yaml:"supports_pause"`
	ShowInfoPanel     bool          `yaml:"show_info_panel"`
	StartLabel        string        `yaml:"start_label"`
	EndLabel          string        `yaml:"end_label"`
	RouteLabel        string        `yaml:"route_label"`
	VehicleLabel      string        `yaml:"vehicle_label" validate:"omitempty,oneof=popup tooltip"`
	TotalTripDuration time.Duration `yaml:"total_trip_duration" validate:"gte=0"`
	Zoom              *int          `yaml:"zoom" validate:"omitempty,gte=0,lte=22"`
	TileURL           string        `yaml:"tile_url"`
	LineColor         string        `yaml:"line_color"`
	CompleteColor     string        `yaml:"complete_color"`
	CompletionText    string        `yaml:"completion_text"`
}

// Default returns the configuration used when no file is present: the
// built-in variants and no routes.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads, overrides from the environment and validates the YAML file at
// path. An empty path or a missing DefaultPath yields Default with
// environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultPath {
			cfg := Default()
			if err := cfg.applyEnv(); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Routes))
	for _, r := range c.Routes {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("invalid config: duplicate route id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	if _, ok := c.Variants[c.DefaultVariant]; !ok {
		return fmt.Errorf("invalid config: default_variant %q is not a configured variant", c.DefaultVariant)
	}
	for name := range c.Variants {
		p, err := c.Presentation(name)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid config: variant %q: %w", name, err)
		}
	}
	return nil
}

// applyEnv overrides the ambient knobs from the environment. A value that
// does not parse is an error.
func (c *Config) applyEnv() error {
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Logging.Backend, "LOG_BACKEND")
	setString(&c.Server.Addr, "HTTP_ADDR")
	setString(&c.Server.MetricsAddr, "METRICS_ADDR")
	if v, ok := os.LookupEnv("PLAYBACK_TRACING_ENABLED"); ok {
		c.Tracing.Enabled = strings.EqualFold(v, "true")
	}
	setString(&c.Tracing.Exporter, "PLAYBACK_TRACING_EXPORTER")
	setString(&c.Tracing.Endpoint, "PLAYBACK_OTLP_ENDPOINT")
	setString(&c.Tracing.ServiceName, "PLAYBACK_TRACING_SERVICE_NAME")
	if v := os.Getenv("PLAYBACK_TRACING_SAMPLE_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PLAYBACK_TRACING_SAMPLE_RATIO %q: %w", v, err)
		}
		c.Tracing.SampleRatio = ratio
	}
	if v := os.Getenv("PLAYBACK_KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Kafka.Brokers = brokers
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = observability.DefaultServiceName
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "route-playback.trips"
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 50 * time.Millisecond
	}
	for i := range c.Routes {
		if c.Routes[i].Format == "" {
			c.Routes[i].Format = formatFromPath(c.Routes[i].Path)
		}
	}
	if c.Variants == nil {
		c.Variants = make(map[string]VariantConfig)
	}
	for name, v := range BuiltinVariants() {
		if _, ok := c.Variants[name]; !ok {
			c.Variants[name] = v
		}
	}
	if c.DefaultVariant == "" {
		c.DefaultVariant = "pausable"
	}
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson":
		return FormatGeoJSON
	default:
		return FormatJSON
	}
}

// LoggerConfig converts to the logging package's config.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Backend:   c.Logging.Backend,
		AddSource: true,
	}
}

// TracingConfig converts to the observability package's config.
func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

// VariantNames returns the configured variant names, sorted.
func (c *Config) VariantNames() []string {
	names := make([]string, 0, len(c.Variants))
	for name := range c.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presentation builds the presentation for the named variant. An empty name
// selects DefaultVariant.
func (c *Config) Presentation(name string) (core.Presentation, error) {
	if name == "" {
		name = c.DefaultVariant
	}
	v, ok := c.Variants[name]
	if !ok {
		return core.Presentation{}, fmt.Errorf("unknown variant %q", name)
	}
	return v.Presentation(), nil
}

// Presentation applies the overrides to a fresh default presentation.
func (v VariantConfig) Presentation() core.Presentation {
	p := core.DefaultPresentation()
	if v.TickPeriod > 0 {
		p.TickPeriod = v.TickPeriod
	}
	if v.SupportsPause != nil {
		p.SupportsPause = *v.SupportsPause
	}
	p.ShowInfoPanel = v.ShowInfoPanel
	if v.StartLabel != "" {
		p.Labels.Start = v.StartLabel
	}
	if v.EndLabel != "" {
		p.Labels.End = v.EndLabel
	}
	p.Labels.Route = v.RouteLabel
	if v.VehicleLabel != "" {
		p.VehicleLabel = core.LabelMode(v.VehicleLabel)
	}
	if v.TotalTripDuration > 0 {
		p.TotalTripDuration = v.TotalTripDuration
	}
	if v.Zoom != nil {
		p.Zoom = *v.Zoom
	}
	if v.TileURL != "" {
		p.TileURL = v.TileURL
	}
	if v.LineColor != "" {
		p.Line.Color = v.LineColor
	}
	if v.CompleteColor != "" {
		p.Line.CompleteColor = v.CompleteColor
	}
	if v.CompletionText != "" {
		p.CompletionText = v.CompletionText
	}
	return p
}

// BuiltinVariants reproduces the component variants: a plain player with no
// pause, the pausable player, one with an info panel and remaining-time
// estimate, and one with an interactive vehicle tooltip.
func BuiltinVariants() map[string]VariantConfig {
	off := false
	on := true
	labels := func(v VariantConfig) VariantConfig {
		v.StartLabel = "Rishihood University"
		v.EndLabel = "Pacific Mall Delhi"
		v.RouteLabel = "Route from Rishihood to Pacific Mall"
		return v
	}
	return map[string]VariantConfig{
		"classic":  labels(VariantConfig{SupportsPause: &off}),
		"pausable": labels(VariantConfig{SupportsPause: &on}),
		"info-panel": labels(VariantConfig{
			SupportsPause:     &on,
			ShowInfoPanel:     true,
			TotalTripDuration: core.DefaultTotalTripDuration,
		}),
		"tooltip": labels(VariantConfig{SupportsPause: &on, VehicleLabel: string(core.LabelTooltip)}),
	}
}

// Source returns the coordinate source for the route. Relative paths
// resolve against the directory of the config file.
func (c *Config) Source(r RouteConfig) core.CoordinateSource {
	if len(r.Points) > 0 {
		pts := make(core.StaticSource, len(r.Points))
		for i, p := range r.Points {
			pts[i] = model.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
		}
		return pts
	}
	path := r.Path
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	if r.Format == FormatGeoJSON {
		return core.GeoJSONSource{Path: path}
	}
	return core.JSONSource{Path: path}
}
