// Package config loads pagecast.yaml and applies PAGECAST_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "pagecast.yaml"
	DefaultListen          = ":5000"
	DefaultStaticBaseURL   = "http://localhost:5000"
	DefaultImagesDir       = "images"
	DefaultSeenDB          = "pagecast.db"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultQueueInterval   = 30 * time.Minute
	DefaultSyncInterval    = 3 * time.Minute
	DefaultPublishDelay    = 5 * time.Second
)

// Channel kinds.
const (
	KindQueue = "queue"
	KindSync  = "sync"
)

// Mirror targets a channel can cross-post to.
const (
	MirrorInstagram = "instagram"
	MirrorMastodon  = "mastodon"
	MirrorTwitter   = "twitter"
	MirrorBluesky   = "bluesky"
)

var knownMirrors = []string{MirrorInstagram, MirrorMastodon, MirrorTwitter, MirrorBluesky}

// Duration wraps time.Duration for YAML strings like "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Listen          string   `yaml:"listen" env:"PAGECAST_LISTEN"`
	StaticBaseURL   string   `yaml:"static_base_url" env:"PAGECAST_STATIC_BASE_URL"`
	ImagesDir       string   `yaml:"images_dir" env:"PAGECAST_IMAGES_DIR"`
	SeenDB          string   `yaml:"seen_db" env:"PAGECAST_SEEN_DB"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	Graph    GraphConfig     `yaml:"graph"`
	Channels []ChannelConfig `yaml:"channels"`
}

type GraphConfig struct {
	BaseURL string `yaml:"base_url"`
	Version string `yaml:"version"`
	// AccessToken wins over AccessTokenFile.
	AccessToken       string   `yaml:"access_token" env:"PAGECAST_GRAPH_ACCESS_TOKEN"`
	AccessTokenFile   string   `yaml:"access_token_file"`
	Timeout           Duration `yaml:"timeout"`
	RetryMax          int      `yaml:"retry_max"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

type ChannelConfig struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Interval Duration `yaml:"interval"`
	// AutoStart starts the channel when serve comes up.
	AutoStart bool `yaml:"autostart"`

	// Queue channels post Queue to PageID.
	Queue  string `yaml:"queue"`
	PageID string `yaml:"page_id"`

	// Sync channels read PageID (or the page called PageName) and publish
	// to InstagramUserID.
	PageName        string   `yaml:"page_name"`
	InstagramUserID string   `yaml:"instagram_user_id"`
	FeedLimit       int      `yaml:"feed_limit"`
	// RetryDelay is the pause after a failed sync cycle. Unset means the
	// live interval plus a minute.
	RetryDelay      Duration `yaml:"retry_delay"`
	PublishDelay    Duration `yaml:"publish_delay"`

	Mirrors []string `yaml:"mirrors"`
}

// Default returns the stock three-channel setup.
func Default() *Config {
	cfg := &Config{
		Channels: []ChannelConfig{
			{
				Name:            "tour",
				Kind:            KindQueue,
				Queue:           "posts/tour_posts.json",
				PageID:          "967550829768297",
				InstagramUserID: "17841472248438802",
				Mirrors:         []string{MirrorInstagram},
			},
			{
				Name:   "nz",
				Kind:   KindQueue,
				Queue:  "posts/visa_posts.json",
				PageID: "954901604381882",
			},
			{
				Name:            "insta",
				Kind:            KindSync,
				PageID:          "519872534547188",
				InstagramUserID: "17841472248438802",
			},
		},
	}
	cfg.Graph.AccessTokenFile = "token.txt"
	applyDefaults(cfg)
	return cfg
}

// Load reads path, falling back to Default when the file does not exist,
// then applies env overrides and validates.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigFile
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = Default()
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		applyDefaults(cfg)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := resolveToken(&cfg.Graph); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.StaticBaseURL == "" {
		cfg.StaticBaseURL = DefaultStaticBaseURL
	}
	if cfg.ImagesDir == "" {
		cfg.ImagesDir = DefaultImagesDir
	}
	if cfg.SeenDB == "" {
		cfg.SeenDB = DefaultSeenDB
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = DefaultShutdownTimeout
	}
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		ch.Kind = strings.ToLower(strings.TrimSpace(ch.Kind))
		if ch.Interval.Duration == 0 {
			if ch.Kind == KindSync {
				ch.Interval.Duration = DefaultSyncInterval
			} else {
				ch.Interval.Duration = DefaultQueueInterval
			}
		}
		if ch.PublishDelay.Duration == 0 {
			ch.PublishDelay.Duration = DefaultPublishDelay
		}
	}
}

// resolveToken reads the token file when no token was given inline. A
// missing file leaves the token empty; Graph targets then fail to build.
func resolveToken(g *GraphConfig) error {
	if g.AccessToken != "" || g.AccessTokenFile == "" {
		return nil
	}
	data, err := os.ReadFile(g.AccessTokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read access token file: %w", err)
	}
	g.AccessToken = strings.TrimSpace(string(data))
	return nil
}

// Validate checks the channel definitions.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("channels: at least one channel must be configured")
	}

	var errs []error
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("channels[%d]: name is required", i))
			continue
		}
		if name == "all" {
			errs = append(errs, fmt.Errorf("channels[%d]: %q is reserved", i, name))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate name %q", i, name))
		}
		seen[name] = true

		if ch.Interval.Duration <= 0 {
			errs = append(errs, fmt.Errorf("channel %s: interval must be positive", name))
		}
		switch ch.Kind {
		case KindQueue:
			if ch.Queue == "" {
				errs = append(errs, fmt.Errorf("channel %s: queue is required", name))
			}
			if ch.PageID == "" {
				errs = append(errs, fmt.Errorf("channel %s: page_id is required", name))
			}
		case KindSync:
			if ch.PageID == "" && ch.PageName == "" {
				errs = append(errs, fmt.Errorf("channel %s: page_id or page_name is required", name))
			}
			if ch.InstagramUserID == "" {
				errs = append(errs, fmt.Errorf("channel %s: instagram_user_id is required", name))
			}
		default:
			errs = append(errs, fmt.Errorf("channel %s: unknown kind %q (want %s or %s)", name, ch.Kind, KindQueue, KindSync))
		}

		for _, m := range ch.Mirrors {
			if !slices.Contains(knownMirrors, m) {
				errs = append(errs, fmt.Errorf("channel %s: unknown mirror %q", name, m))
			}
			if m == MirrorInstagram && ch.InstagramUserID == "" {
				errs = append(errs, fmt.Errorf("channel %s: instagram mirror needs instagram_user_id", name))
			}
		}
	}
	return errors.Join(errs...)
}

// Channel returns the named channel.
func (c *Config) Channel(name string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}
