package tracker

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/rankwatch/internal/browser"
	"github.com/hazyhaar/rankwatch/serp"
)

// Config is the top-level tracker configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Place    SurfaceConfig  `yaml:"place"`
	Blog     SurfaceConfig  `yaml:"blog"`
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// TimezoneOffsetMin keys run dates to the target market's local day,
	// minutes east of UTC. Default 540 (UTC+9): servers in any region must
	// agree on which calendar day a run belongs to. Pointer so an explicit
	// 0 keeps UTC instead of being treated as unset.
	TimezoneOffsetMin *int `yaml:"timezone_offset_min"`

	// MaxResults is how deep each keyword is harvested before the target is
	// declared absent. Default 300.
	MaxResults int `yaml:"max_results"`

	// Settle is the pause after each scroll/pagination trigger.
	Settle time.Duration `yaml:"settle"`

	// LoadAttempts bounds load-more triggers per keyword. Default 10.
	LoadAttempts int `yaml:"load_attempts"`
}

// BrowserConfig controls Chrome lifecycle and the tab pool.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	PoolSize         int           `yaml:"pool_size"`
	UserAgent        string        `yaml:"user_agent"`
	ViewportWidth    int           `yaml:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
}

// SurfaceConfig describes one search surface.
type SurfaceConfig struct {
	// SearchURL is a template; the escaped keyword replaces %s.
	SearchURL string `yaml:"search_url"`

	// Selectors pin the surface's markup version.
	Selectors serp.SelectorSet `yaml:"selectors"`

	// HTTPFirst tries a plain GET before spending a browser tab. Only
	// server-rendered surfaces qualify.
	HTTPFirst bool `yaml:"http_first"`

	// PageParam and PageSize drive HTTP pagination (HTTPFirst surfaces).
	PageParam string `yaml:"page_param"`
	PageSize  int    `yaml:"page_size"`
}

// SnapshotConfig describes where the place's own listing metadata lives.
type SnapshotConfig struct {
	// HomeURL is a template; the place ID replaces %s.
	HomeURL string `yaml:"home_url"`

	Root        string `yaml:"root"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
	Hours       string `yaml:"hours"`
	Keyword     string `yaml:"keyword"`
}

// TZOffsetMin returns the run-date timezone offset, minutes east of UTC.
func (c *Config) TZOffsetMin() int {
	if c.TimezoneOffsetMin == nil {
		return 540
	}
	return *c.TimezoneOffsetMin
}

// SearchURLFor renders the surface's search URL for a keyword.
func (s SurfaceConfig) SearchURLFor(keyword string) string {
	return fmt.Sprintf(s.SearchURL, url.QueryEscape(keyword))
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tracker: parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero fields. Selector defaults are the markup version
// current at build time; production overrides them from YAML when the
// platform rotates class names.
func (c *Config) ApplyDefaults() {
	if c.TimezoneOffsetMin == nil {
		v := 540
		c.TimezoneOffsetMin = &v
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 300
	}
	if c.Settle <= 0 {
		c.Settle = 800 * time.Millisecond
	}
	if c.LoadAttempts <= 0 {
		c.LoadAttempts = 10
	}
	if c.Browser.PoolSize <= 0 {
		c.Browser.PoolSize = 3
	}
	if len(c.Browser.ResourceBlocking) == 0 {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}

	if c.Place.SearchURL == "" {
		c.Place.SearchURL = "https://map.naver.com/p/search/%s"
	}
	if c.Place.Selectors.Item == "" {
		c.Place.Selectors = serp.PlaceDefaults()
	}

	if c.Blog.SearchURL == "" {
		c.Blog.SearchURL = "https://search.naver.com/search.naver?ssc=tab.blog.all&query=%s"
		c.Blog.HTTPFirst = true
	}
	if c.Blog.Selectors.Item == "" {
		c.Blog.Selectors = serp.BlogDefaults()
	}
	if c.Blog.PageParam == "" {
		c.Blog.PageParam = "start"
	}
	if c.Blog.PageSize <= 0 {
		c.Blog.PageSize = 30
	}

	if c.Snapshot.HomeURL == "" {
		c.Snapshot.HomeURL = "https://m.place.naver.com/place/%s/home"
	}
	if c.Snapshot.Root == "" {
		c.Snapshot.Root = "div#_pcmap_list_scroll_container, div.place_section"
	}
	if c.Snapshot.Category == "" {
		c.Snapshot.Category = "span.DJJvD"
	}
	if c.Snapshot.Description == "" {
		c.Snapshot.Description = "div.T8RFa"
	}
	if c.Snapshot.Hours == "" {
		c.Snapshot.Hours = "div.w9QyJ"
	}
	if c.Snapshot.Keyword == "" {
		c.Snapshot.Keyword = "span.rIgUk"
	}
}

// BrowserManagerConfig maps the YAML browser section onto the pool's config.
func (c *Config) BrowserManagerConfig() browser.Config {
	return browser.Config{
		RemoteURL:        c.Browser.Remote,
		PoolSize:         c.Browser.PoolSize,
		UserAgent:        c.Browser.UserAgent,
		ViewportWidth:    c.Browser.ViewportWidth,
		ViewportHeight:   c.Browser.ViewportHeight,
		ResourceBlocking: c.Browser.ResourceBlocking,
		NavTimeout:       c.Browser.NavTimeout,
	}
}
