// Package config loads mantis's configuration once at process start via
// spf13/viper bound to MANTIS_-prefixed environment variables (with an
// optional .env file loaded first by joho/godotenv), grounded on
// 88lin-divinesense's cmd/ wiring: a fully-populated struct is built once
// and threaded into constructors, rather than reading global viper state
// from inside business logic.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Host    string
	Port    int
	Trusted bool
}

// StoreConfig controls the durable state file.
type StoreConfig struct {
	Path string
}

// StreamConfig controls the stream operation.
type StreamConfig struct {
	Timeout time.Duration
	Window  time.Duration
}

// LoopConfig controls one of the cleaner/synchronizer aligned-tick loops.
type LoopConfig struct {
	Reference time.Time
	Interval  time.Duration
}

// SynchronizerConfig controls the synchronizer loop.
type SynchronizerConfig struct {
	LoopConfig
	StreamWindow time.Duration
}

// ServiceConfig is one external HTTP collaborator's connection info.
type ServiceConfig struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// URL renders the service's base URL, e.g. "http://calendar:10300/api".
func (c ServiceConfig) URL() string {
	u := c.Scheme + "://" + c.Host
	if c.Port != 0 {
		u += ":" + strconv.Itoa(c.Port)
	}
	return u + c.Path
}

// EmistreamSRTConfig carries the mixing endpoint's SRT listener address.
// Host is resolved via DNS at stream time, not here.
type EmistreamSRTConfig struct {
	Host string
	Port int
}

// Config is mantis's full, immutable-after-startup configuration.
type Config struct {
	Server       ServerConfig
	Store        StoreConfig
	Stream       StreamConfig
	Cleaner      LoopConfig
	Synchronizer SynchronizerConfig

	Calendar      ServiceConfig
	Records       ServiceConfig
	Prerecordings ServiceConfig
	Reserve       ServiceConfig

	EmistreamSRT EmistreamSRTConfig

	FFmpegPath string
}

// Load reads an optional .env file, then binds and reads MANTIS_-prefixed
// environment variables into a Config, applying the defaults a bare
// install needs to boot against localhost services.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("mantis")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := Config{
		Server: ServerConfig{
			Host:    v.GetString("server.host"),
			Port:    v.GetInt("server.port"),
			Trusted: v.GetBool("server.trusted"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Stream: StreamConfig{
			Timeout: v.GetDuration("operations.stream.timeout"),
			Window:  v.GetDuration("operations.stream.window"),
		},
		Cleaner: LoopConfig{
			Reference: time.Now().UTC(),
			Interval:  v.GetDuration("cleaner.interval"),
		},
		Synchronizer: SynchronizerConfig{
			LoopConfig: LoopConfig{
				Reference: time.Now().UTC(),
				Interval:  v.GetDuration("synchronizer.interval"),
			},
			StreamWindow: v.GetDuration("synchronizer.synchronizers.stream.window"),
		},
		Calendar:      serviceConfig(v, "calendar"),
		Records:       serviceConfig(v, "records"),
		Prerecordings: serviceConfig(v, "prerecordings"),
		Reserve:       serviceConfig(v, "reserve"),
		EmistreamSRT: EmistreamSRTConfig{
			Host: v.GetString("emistream.srt.host"),
			Port: v.GetInt("emistream.srt.port"),
		},
		FFmpegPath: v.GetString("ffmpeg.path"),
	}

	return cfg, nil
}

func serviceConfig(v *viper.Viper, name string) ServiceConfig {
	return ServiceConfig{
		Scheme: v.GetString(name + ".scheme"),
		Host:   v.GetString(name + ".host"),
		Port:   v.GetInt(name + ".port"),
		Path:   v.GetString(name + ".path"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 10200)
	v.SetDefault("server.trusted", false)

	v.SetDefault("store.path", "/var/lib/mantis/state.json")

	v.SetDefault("operations.stream.timeout", time.Hour)
	v.SetDefault("operations.stream.window", 24*time.Hour)

	v.SetDefault("cleaner.interval", time.Hour)
	v.SetDefault("synchronizer.interval", 5*time.Minute)
	v.SetDefault("synchronizer.synchronizers.stream.window", time.Hour)

	v.SetDefault("calendar.scheme", "http")
	v.SetDefault("calendar.host", "localhost")
	v.SetDefault("calendar.port", 10300)
	v.SetDefault("calendar.path", "")

	v.SetDefault("records.scheme", "http")
	v.SetDefault("records.host", "localhost")
	v.SetDefault("records.port", 10400)
	v.SetDefault("records.path", "")

	v.SetDefault("prerecordings.scheme", "http")
	v.SetDefault("prerecordings.host", "localhost")
	v.SetDefault("prerecordings.port", 10500)
	v.SetDefault("prerecordings.path", "")

	v.SetDefault("reserve.scheme", "http")
	v.SetDefault("reserve.host", "localhost")
	v.SetDefault("reserve.port", 10600)
	v.SetDefault("reserve.path", "")

	v.SetDefault("emistream.srt.host", "localhost")
	v.SetDefault("emistream.srt.port", 10601)

	v.SetDefault("ffmpeg.path", "ffmpeg")
}
