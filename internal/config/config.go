// Package config loads the server settings from the environment and an
// optional YAML catalog of listeners, devices, geofences and calendars.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	TCPPort       string
	MetricsPort   string
	GRPCServer    string
	RedisAddr     string
	RedisDB       int
	ProxyAddr     string
	NATSURL       string
	MongoURI      string
	MongoDatabase string
	LogLevel      string
	RawLogDir     string
	ConfigFile    string

	File File
}

// File is the YAML document.
type File struct {
	Filter    Filter            `yaml:"filter"`
	Server    Server            `yaml:"server"`
	Transsync Transsync         `yaml:"transsync"`
	Listeners []Listener        `yaml:"listeners"`
	Defaults  map[string]string `yaml:"defaults"`
	Devices   []Device          `yaml:"devices"`
	Geofences []Geofence        `yaml:"geofences"`
	Calendars []Calendar        `yaml:"calendars"`
}

// Filter mirrors the filter.* keys. Times are seconds, distances meters,
// speed knots. Zero disables a check.
type Filter struct {
	Invalid               bool    `yaml:"invalid"`
	Zero                  bool    `yaml:"zero"`
	Duplicate             bool    `yaml:"duplicate"`
	Future                int64   `yaml:"future"`
	Accuracy              float64 `yaml:"accuracy"`
	Approximate           bool    `yaml:"approximate"`
	Static                bool    `yaml:"static"`
	Distance              float64 `yaml:"distance"`
	MaxSpeed              float64 `yaml:"maxSpeed"`
	MinPeriod             int64   `yaml:"minPeriod"`
	SkipLimit             int64   `yaml:"skipLimit"`
	SkipAttributesEnabled bool    `yaml:"skipAttributesEnabled"`
	SkipAttributes        string  `yaml:"skipAttributes"`
}

type Server struct {
	IdleTimeout int64 `yaml:"idleTimeout"` // seconds
	MaxBuffer   int   `yaml:"maxBuffer"`
}

type Transsync struct {
	DistanceFilter float64 `yaml:"distanceFilter"` // meters
}

type Listener struct {
	Protocol  string `yaml:"protocol"`
	Transport string `yaml:"transport"`
	Port      int    `yaml:"port"`
}

type Device struct {
	ID          int64             `yaml:"id"`
	UniqueID    string            `yaml:"uniqueId"`
	Name        string            `yaml:"name"`
	Attributes  map[string]string `yaml:"attributes"`
	GeofenceIDs []int64           `yaml:"geofenceIds"`
}

type Geofence struct {
	ID         int64        `yaml:"id"`
	Name       string       `yaml:"name"`
	CalendarID int64        `yaml:"calendarId"`
	Circle     *Circle      `yaml:"circle"`
	Polygon    [][2]float64 `yaml:"polygon"` // [lat, lon] pairs
}

type Circle struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Radius    float64 `yaml:"radius"`
}

type Calendar struct {
	ID       int64    `yaml:"id"`
	Name     string   `yaml:"name"`
	Timezone string   `yaml:"timezone"`
	Windows  []Window `yaml:"windows"`
}

type Window struct {
	Days  []string `yaml:"days"`
	Start string   `yaml:"start"`
	End   string   `yaml:"end"`
}

// Load reads the environment, then the YAML file at path (or CONFIG_FILE
// when path is empty), then the FILTER_* overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Config{
		TCPPort:       getEnv("TCP_PORT", "8001"),
		MetricsPort:   getEnv("METRICS_PORT", "9000"),
		GRPCServer:    getEnv("GRPC_SERVER", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		ProxyAddr:     getEnv("PROXY_ADDR", ""),
		NATSURL:       getEnv("NATS_URL", ""),
		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "track"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RawLogDir:     getEnv("RAW_LOG_DIR", ""),
		ConfigFile:    path,
	}
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: REDIS_DB: %v", ErrInvalidConfig, err)
	}
	cfg.RedisDB = db

	if cfg.ConfigFile == "" {
		cfg.ConfigFile = getEnv("CONFIG_FILE", "")
	}
	if cfg.ConfigFile != "" {
		data, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg.File, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	if err := applyFilterEnv(&cfg.File.Filter); err != nil {
		return Config{}, err
	}
	if len(cfg.File.Listeners) == 0 {
		cfg.File.Listeners = defaultListeners(cfg.TCPPort)
	}
	if err := cfg.File.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return f, nil
}

func defaultListeners(tcpPort string) []Listener {
	port, err := strconv.Atoi(tcpPort)
	if err != nil || port <= 0 {
		port = 8001
	}
	return []Listener{{Protocol: "teltonika", Transport: "tcp", Port: port}}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func applyFilterEnv(f *Filter) error {
	var err error
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" && err == nil {
			b, e := strconv.ParseBool(v)
			if e != nil {
				err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, e)
				return
			}
			*dst = b
		}
	}
	setInt := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" && err == nil {
			n, e := strconv.ParseInt(v, 10, 64)
			if e != nil {
				err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, e)
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" && err == nil {
			n, e := strconv.ParseFloat(v, 64)
			if e != nil {
				err = fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, e)
				return
			}
			*dst = n
		}
	}
	setBool("FILTER_INVALID", &f.Invalid)
	setBool("FILTER_ZERO", &f.Zero)
	setBool("FILTER_DUPLICATE", &f.Duplicate)
	setInt("FILTER_FUTURE", &f.Future)
	setFloat("FILTER_ACCURACY", &f.Accuracy)
	setBool("FILTER_APPROXIMATE", &f.Approximate)
	setBool("FILTER_STATIC", &f.Static)
	setFloat("FILTER_DISTANCE", &f.Distance)
	setFloat("FILTER_MAX_SPEED", &f.MaxSpeed)
	setInt("FILTER_MIN_PERIOD", &f.MinPeriod)
	setInt("FILTER_SKIP_LIMIT", &f.SkipLimit)
	setBool("FILTER_SKIP_ATTRIBUTES_ENABLED", &f.SkipAttributesEnabled)
	if v := os.Getenv("FILTER_SKIP_ATTRIBUTES"); v != "" {
		f.SkipAttributes = v
	}
	return err
}

// IdleTimeoutDuration is zero when unset so the server default applies.
func (s Server) IdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}
