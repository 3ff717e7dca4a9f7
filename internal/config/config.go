// Package config loads the people counter configuration.
//
// Values are layered: built-in defaults, then the selected preset, then an
// optional YAML file, then PEOPLE_COUNTER_* environment variables and finally
// command line flags.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override
const EnvPrefix = "PEOPLE_COUNTER"

// Source types
const (
	SourceSHM    = "shm"
	SourceWebRTC = "webrtc"
)

// Detector types
const (
	DetectorHTTP = "http"
	DetectorSHM  = "shm"
)

// Audio backends
const (
	AudioMalgo = "malgo"
	AudioPulse = "pulse"
	AudioNull  = "null"
)

// Config is the full runtime configuration
type Config struct {
	Preset   string `mapstructure:"preset" yaml:"preset"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`

	Trigger   TriggerConfig   `mapstructure:"trigger" yaml:"trigger"`
	Smoothing SmoothingConfig `mapstructure:"smoothing" yaml:"smoothing"`
	Counter   CounterConfig   `mapstructure:"counter" yaml:"counter"`
	Source    SourceConfig    `mapstructure:"source" yaml:"source"`
	Detector  DetectorConfig  `mapstructure:"detector" yaml:"detector"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Web       WebConfig       `mapstructure:"web" yaml:"web"`
}

// TriggerConfig tunes the alert state machine
type TriggerConfig struct {
	StabilityThreshold int     `mapstructure:"stability_threshold" yaml:"stability_threshold"`
	CooldownSeconds    float64 `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`
	ReplaySuppressed   bool    `mapstructure:"replay_suppressed" yaml:"replay_suppressed"`
}

// Cooldown converts CooldownSeconds to a duration
func (t TriggerConfig) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds * float64(time.Second))
}

// SmoothingConfig sizes the median window
type SmoothingConfig struct {
	HistoryCapacity int `mapstructure:"history_capacity" yaml:"history_capacity"`
}

// CounterConfig controls the producer and consumer loops
type CounterConfig struct {
	Subsample    int           `mapstructure:"subsample" yaml:"subsample"`
	DetectRate   float64       `mapstructure:"detect_rate" yaml:"detect_rate"` // detections per second, 0 = unlimited
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
}

// SourceConfig selects where frames come from
type SourceConfig struct {
	Type         string        `mapstructure:"type" yaml:"type"`
	SHMName      string        `mapstructure:"shm_name" yaml:"shm_name"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// DetectorConfig selects and tunes the object detector
type DetectorConfig struct {
	Type          string        `mapstructure:"type" yaml:"type"`
	URL           string        `mapstructure:"url" yaml:"url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinConfidence float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	ImageSize     int           `mapstructure:"image_size" yaml:"image_size"`
	SHMName       string        `mapstructure:"shm_name" yaml:"shm_name"`
}

// AudioConfig selects the playback backend and clip files
type AudioConfig struct {
	Backend string   `mapstructure:"backend" yaml:"backend"`
	ClipDir string   `mapstructure:"clip_dir" yaml:"clip_dir"`
	Clips   []string `mapstructure:"clips" yaml:"clips"` // index i holds the clip for count i+1
}

// JournalConfig enables the JSON lines action journal
type JournalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MQTTConfig configures announcement publishing
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
	Retain   bool   `mapstructure:"retain" yaml:"retain"`
}

// WebConfig configures the status monitor
type WebConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"` // empty disables the server
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	STUNServers       []string      `mapstructure:"stun_servers" yaml:"stun_servers"`
	MaxPublishers     int           `mapstructure:"max_publishers" yaml:"max_publishers"`
}

// DefaultClips are the clip file names for counts 1..5
var DefaultClips = []string{
	"1_person.wav",
	"2_people.wav",
	"3_people.wav",
	"4_people.wav",
	"5_people.wav",
}

// Default returns the built-in configuration (the "stable" preset)
func Default() Config {
	return Config{
		Preset:   PresetStable,
		LogLevel: "info",
		Trigger: TriggerConfig{
			StabilityThreshold: 5,
			CooldownSeconds:    1.0,
			ReplaySuppressed:   true,
		},
		Smoothing: SmoothingConfig{HistoryCapacity: 5},
		Counter: CounterConfig{
			Subsample:    2,
			TickInterval: 300 * time.Millisecond,
		},
		Source: SourceConfig{
			Type:         SourceSHM,
			SHMName:      "/pet_camera_mjpeg_frame",
			PollInterval: 10 * time.Millisecond,
		},
		Detector: DetectorConfig{
			Type:          DetectorHTTP,
			URL:           "http://127.0.0.1:8000/detect",
			Timeout:       2 * time.Second,
			MinConfidence: 0.4,
			ImageSize:     640,
			SHMName:       "/pet_camera_detections",
		},
		Audio: AudioConfig{
			Backend: AudioMalgo,
			ClipDir: "clips",
			Clips:   append([]string(nil), DefaultClips...),
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://127.0.0.1:1883",
			Topic:    "people-counter/announcements",
			ClientID: "people-counter",
		},
		Web: WebConfig{
			Addr:              ":8090",
			KeepaliveInterval: 30 * time.Second,
			STUNServers:       []string{"stun:stun.l.google.com:19302"},
			MaxPublishers:     1,
		},
	}
}

// RegisterFlags defines the command line overrides on fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("preset", d.Preset, "Tuning preset: "+strings.Join(PresetNames(), ", "))
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn, error, silent")
	fs.Bool("log-json", d.LogJSON, "Emit JSON logs instead of console output")
	fs.Int("stability-threshold", d.Trigger.StabilityThreshold, "Consecutive ticks a count must hold before it is committed (1-10)")
	fs.Float64("cooldown", d.Trigger.CooldownSeconds, "Minimum seconds between audio actions (0.5-5.0, or 0)")
	fs.Bool("replay-suppressed", d.Trigger.ReplaySuppressed, "Announce commits that were blocked by the cooldown once it expires")
	fs.Int("history", d.Smoothing.HistoryCapacity, "Median window size (odd, 1-15)")
	fs.Int("subsample", d.Counter.Subsample, "Run detection on every Nth frame")
	fs.String("source", d.Source.Type, "Frame source: shm, webrtc")
	fs.String("detector", d.Detector.Type, "Detector: http, shm")
	fs.String("detector-url", d.Detector.URL, "Inference endpoint for the http detector")
	fs.String("audio", d.Audio.Backend, "Audio backend: malgo, pulse, null")
	fs.String("clip-dir", d.Audio.ClipDir, "Directory holding the count clips")
	fs.String("journal", d.Journal.Path, "Append actions to this JSON lines file")
	fs.Bool("mqtt", d.MQTT.Enabled, "Publish announcements over MQTT")
	fs.String("http", d.Web.Addr, "Status monitor listen address (empty disables)")
}

// flagKeys maps flag names to configuration keys
var flagKeys = map[string]string{
	"preset":              "preset",
	"log-level":           "log_level",
	"log-json":            "log_json",
	"stability-threshold": "trigger.stability_threshold",
	"cooldown":            "trigger.cooldown_seconds",
	"replay-suppressed":   "trigger.replay_suppressed",
	"history":             "smoothing.history_capacity",
	"subsample":           "counter.subsample",
	"source":              "source.type",
	"detector":            "detector.type",
	"detector-url":        "detector.url",
	"audio":               "audio.backend",
	"clip-dir":            "audio.clip_dir",
	"journal":             "journal.path",
	"mqtt":                "mqtt.enabled",
	"http":                "web.addr",
}

// Load builds the configuration. path may be empty, in which case
// people-counter.yaml is looked up in the working directory. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("people-counter")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	// Preset values only fill keys the file, env and flags left unset.
	name := v.GetString("preset")
	preset, ok := LookupPreset(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	v.SetDefault("trigger.stability_threshold", preset.StabilityThreshold)
	v.SetDefault("trigger.cooldown_seconds", preset.CooldownSeconds)
	v.SetDefault("smoothing.history_capacity", preset.HistoryCapacity)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("preset", d.Preset)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("trigger.replay_suppressed", d.Trigger.ReplaySuppressed)
	v.SetDefault("counter.subsample", d.Counter.Subsample)
	v.SetDefault("counter.detect_rate", d.Counter.DetectRate)
	v.SetDefault("counter.tick_interval", d.Counter.TickInterval)
	v.SetDefault("source.type", d.Source.Type)
	v.SetDefault("source.shm_name", d.Source.SHMName)
	v.SetDefault("source.poll_interval", d.Source.PollInterval)
	v.SetDefault("detector.type", d.Detector.Type)
	v.SetDefault("detector.url", d.Detector.URL)
	v.SetDefault("detector.timeout", d.Detector.Timeout)
	v.SetDefault("detector.min_confidence", d.Detector.MinConfidence)
	v.SetDefault("detector.image_size", d.Detector.ImageSize)
	v.SetDefault("detector.shm_name", d.Detector.SHMName)
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.clip_dir", d.Audio.ClipDir)
	v.SetDefault("audio.clips", d.Audio.Clips)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.retain", d.MQTT.Retain)
	v.SetDefault("web.addr", d.Web.Addr)
	v.SetDefault("web.keepalive_interval", d.Web.KeepaliveInterval)
	v.SetDefault("web.stun_servers", d.Web.STUNServers)
	v.SetDefault("web.max_publishers", d.Web.MaxPublishers)
}

// Validation errors
var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrInvalid       = errors.New("invalid configuration")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks every field and reports all problems at once
func Validate(c *Config) error {
	var errs []error

	if _, ok := LookupPreset(c.Preset); !ok {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownPreset, c.Preset))
	}

	if t := c.Trigger.StabilityThreshold; t < 1 || t > 10 {
		errs = append(errs, invalid("trigger.stability_threshold %d out of range 1-10", t))
	}
	// Only the direct preset may disable the cooldown
	cd := c.Trigger.CooldownSeconds
	if math.IsNaN(cd) || (!(cd == 0 && c.Preset == PresetDirect) && (cd < 0.5 || cd > 5.0)) {
		errs = append(errs, invalid("trigger.cooldown_seconds %g out of range 0.5-5.0", cd))
	}

	if h := c.Smoothing.HistoryCapacity; h < 1 || h > 15 || h%2 == 0 {
		errs = append(errs, invalid("smoothing.history_capacity %d must be odd and within 1-15", h))
	}

	if c.Counter.Subsample < 1 {
		errs = append(errs, invalid("counter.subsample %d must be at least 1", c.Counter.Subsample))
	}
	if c.Counter.DetectRate < 0 {
		errs = append(errs, invalid("counter.detect_rate %g must not be negative", c.Counter.DetectRate))
	}
	if c.Counter.TickInterval <= 0 {
		errs = append(errs, invalid("counter.tick_interval %s must be positive", c.Counter.TickInterval))
	}

	switch c.Source.Type {
	case SourceSHM:
		if c.Source.SHMName == "" {
			errs = append(errs, invalid("source.shm_name is required for the shm source"))
		}
	case SourceWebRTC:
		if c.Web.Addr == "" {
			errs = append(errs, invalid("the webrtc source needs web.addr for signaling"))
		}
		if c.Web.MaxPublishers < 1 {
			errs = append(errs, invalid("web.max_publishers %d must be at least 1", c.Web.MaxPublishers))
		}
	default:
		errs = append(errs, invalid("source.type %q unknown", c.Source.Type))
	}

	switch c.Detector.Type {
	case DetectorHTTP:
		if c.Detector.URL == "" {
			errs = append(errs, invalid("detector.url is required for the http detector"))
		}
		if c.Detector.ImageSize <= 0 {
			errs = append(errs, invalid("detector.image_size %d must be positive", c.Detector.ImageSize))
		}
	case DetectorSHM:
		if c.Detector.SHMName == "" {
			errs = append(errs, invalid("detector.shm_name is required for the shm detector"))
		}
	default:
		errs = append(errs, invalid("detector.type %q unknown", c.Detector.Type))
	}
	if mc := c.Detector.MinConfidence; math.IsNaN(mc) || mc < 0 || mc > 1 {
		errs = append(errs, invalid("detector.min_confidence %g out of range 0-1", mc))
	}

	switch c.Audio.Backend {
	case AudioMalgo, AudioPulse, AudioNull:
	default:
		errs = append(errs, invalid("audio.backend %q unknown", c.Audio.Backend))
	}
	if len(c.Audio.Clips) > 5 {
		errs = append(errs, invalid("audio.clips lists %d clips, at most 5 are used", len(c.Audio.Clips)))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, invalid("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, invalid("mqtt.topic is required when mqtt is enabled"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, invalid("mqtt.qos %d out of range 0-2", c.MQTT.QoS))
		}
	}

	return errors.Join(errs...)
}

// Dump renders the configuration as YAML with secrets masked
func Dump(c *Config) ([]byte, error) {
	masked := *c
	if masked.MQTT.Password != "" {
		masked.MQTT.Password = "********"
	}
	return yaml.Marshal(&masked)
}
