package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tankobon/cf"
	"tankobon/models"
	"tankobon/parser"

	"gopkg.in/yaml.v3"
)

const (
	appName     = "tankobon"
	logFileName = "tankobon.log"
)

// Config holds every tunable of the downloader, the job queue and the
// HTTP front end.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	DownloadDir string `yaml:"download_dir"`
	Listen      string `yaml:"listen"`
	MangapiURL  string `yaml:"mangapi_url"`
	RootURL     string `yaml:"root_url"`
	LogLevel    string `yaml:"log_level"`

	Workers           int           `yaml:"workers"`
	AssetTimeout      time.Duration `yaml:"asset_timeout"`
	PageInterval      time.Duration `yaml:"page_interval"`
	MinImageDimension int           `yaml:"min_image_dimension"`
	JPEGQuality       int           `yaml:"jpeg_quality"`

	SoftTimeLimit time.Duration `yaml:"soft_time_limit"`
	HardTimeLimit time.Duration `yaml:"hard_time_limit"`
	ResultTTL     time.Duration `yaml:"result_ttl"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	StaleAfter    time.Duration `yaml:"stale_after"`

	PaginationStallLimit int `yaml:"pagination_stall_limit"`
	MaxPages             int `yaml:"max_pages"`

	Headless        bool   `yaml:"headless"`
	ChromePath      string `yaml:"chrome_path"`
	BrowserSessions int    `yaml:"browser_sessions"`

	// SourceCost scales the job time limits per source, keyed by the
	// lowercase source name. Missing sources cost 1.
	SourceCost map[string]float64 `yaml:"source_cost"`

	MarkSubstitutedPages bool `yaml:"mark_substituted_pages"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) Config {
	return Config{
		DataDir:     dataDir,
		DownloadDir: filepath.Join(dataDir, "downloads"),
		Listen:      ":8000",
		MangapiURL:  "http://localhost:3000",
		RootURL:     "http://localhost:8000",
		LogLevel:    "info",

		Workers:           2,
		AssetTimeout:      10 * time.Second,
		MinImageDimension: 72,
		JPEGQuality:       90,

		SoftTimeLimit: 25 * time.Minute,
		HardTimeLimit: 30 * time.Minute,
		ResultTTL:     time.Hour,
		SessionTTL:    1800 * time.Second,
		StaleAfter:    2 * time.Hour,

		PaginationStallLimit: 1,
		MaxPages:             500,

		Headless:        true,
		BrowserSessions: 1,

		SourceCost: map[string]float64{
			"asura":       1.5,
			"weebcentral": 1.5,
			"toonily":     1.5,
		},

		MarkSubstitutedPages: true,
	}
}

// DefaultDataDir is <UserConfigDir>/tankobon, falling back to
// ~/.config/tankobon.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName)
	}
	dir, _ := parser.ExpandPath("~/.config/" + appName)
	return dir
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load builds the configuration from the defaults, the YAML file at path
// and then the environment. A missing file is not an error; an empty path
// means DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default(DefaultDataDir())
	// derived from the final data dir unless set explicitly
	cfg.DownloadDir = ""

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config %s: %w", path, err)
		}
		log.Printf("[Config] Loaded %s", path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("error reading config %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg.normalize()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TANKOBON_DATA_DIR"); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup("MANGAPI_URL"); ok && v != "" {
		c.MangapiURL = v
	}
	if v, ok := lookup("ROOT_URL"); ok && v != "" {
		c.RootURL = v
	}
	if v, ok := lookup("TANKOBON_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("TANKOBON_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TANKOBON_WORKERS %q: %w", v, err)
		}
		c.Workers = n
	}
	return nil
}

func (c Config) normalize() (Config, error) {
	var err error
	if c.DataDir, err = parser.ExpandPath(c.DataDir); err != nil {
		return Config{}, fmt.Errorf("invalid data_dir: %w", err)
	}
	if c.DownloadDir == "" {
		c.DownloadDir = filepath.Join(c.DataDir, "downloads")
	}
	if c.DownloadDir, err = parser.ExpandPath(c.DownloadDir); err != nil {
		return Config{}, fmt.Errorf("invalid download_dir: %w", err)
	}
	if c.Workers < 1 {
		return Config{}, fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.HardTimeLimit < c.SoftTimeLimit {
		return Config{}, fmt.Errorf("hard_time_limit (%s) is shorter than soft_time_limit (%s)", c.HardTimeLimit, c.SoftTimeLimit)
	}
	c.RootURL = strings.TrimRight(c.RootURL, "/")
	c.MangapiURL = strings.TrimRight(c.MangapiURL, "/")
	c.LogLevel = strings.ToLower(c.LogLevel)
	return c, nil
}

// Cost returns the time limit multiplier for src.
func (c Config) Cost(src models.Source) float64 {
	if v, ok := c.SourceCost[src.String()]; ok && v > 0 {
		return v
	}
	return 1
}

// Debug reports whether verbose challenge logging is on.
func (c Config) Debug() bool {
	return c.LogLevel == "debug"
}

// LogPath is the main log file inside the data dir.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, logFileName)
}

// EnsureDirs creates the data and download directories.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.DownloadDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("error creating directory %s: %w", dir, err)
			}
			log.Printf("[Config] Directory %s created", dir)
		} else if err != nil {
			return fmt.Errorf("error checking directory %s: %w", dir, err)
		}
	}
	return nil
}

// InitLogging sends the standard logger to stderr and to the log file in
// the data dir. In debug mode the challenge debug log is opened as well.
// The returned closer flushes both files.
func InitLogging(c Config) (io.Closer, error) {
	if err := c.EnsureDirs(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(c.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if c.Debug() {
		if err := cf.InitCFLogger(c.DataDir); err != nil {
			log.Printf("[Config] ⚠️ CF debug log disabled: %v", err)
		}
	}

	log.Printf("[Config] %s %s (%s) starting, data dir %s", appName, Version, GitCommit, c.DataDir)
	return logCloser{f}, nil
}

type logCloser struct{ f *os.File }

func (l logCloser) Close() error {
	cf.CloseCFLogger()
	log.SetOutput(os.Stderr)
	return l.f.Close()
}
