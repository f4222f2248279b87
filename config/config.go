package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	FileName  = "digifusion.toml"
	EnvPrefix = "DIGIFUSION"
)

type Config struct {
	DataDir           string        `mapstructure:"data_dir"`
	ListenAddr        string        `mapstructure:"listen_addr"`
	UploadsDir        string        `mapstructure:"uploads_dir"`
	UploadsURL        string        `mapstructure:"uploads_url"`
	PluginsDir        string        `mapstructure:"plugins_dir"`
	StyleURL          string        `mapstructure:"style_url"`
	CartURL           string        `mapstructure:"cart_url"`
	GoogleFontsURL    string        `mapstructure:"google_fonts_url"`
	FontUserAgent     string        `mapstructure:"font_user_agent"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	FontCheckInterval time.Duration `mapstructure:"font_check_interval"`
	AdminToken        string        `mapstructure:"admin_token"`
	NonceSecret       string        `mapstructure:"nonce_secret"`
	SecureCookies     bool          `mapstructure:"secure_cookies"`
	LogLevel          string        `mapstructure:"log_level"`
}

// file is the on-disk shape; durations are written as Go duration strings.
type file struct {
	DataDir           string `toml:"data_dir"`
	ListenAddr        string `toml:"listen_addr"`
	UploadsDir        string `toml:"uploads_dir"`
	UploadsURL        string `toml:"uploads_url"`
	PluginsDir        string `toml:"plugins_dir"`
	StyleURL          string `toml:"style_url"`
	CartURL           string `toml:"cart_url"`
	GoogleFontsURL    string `toml:"google_fonts_url"`
	FontUserAgent     string `toml:"font_user_agent"`
	HTTPTimeout       string `toml:"http_timeout"`
	FontCheckInterval string `toml:"font_check_interval"`
	AdminToken        string `toml:"admin_token,omitempty"`
	NonceSecret       string `toml:"nonce_secret,omitempty"`
	SecureCookies     bool   `toml:"secure_cookies"`
	LogLevel          string `toml:"log_level"`
}

func Default() Config {
	return Config{
		DataDir:           ".",
		ListenAddr:        ":8080",
		UploadsDir:        "uploads",
		UploadsURL:        "/uploads",
		PluginsDir:        "plugins",
		StyleURL:          "/style.css",
		CartURL:           "/cart/",
		GoogleFontsURL:    "https://fonts.googleapis.com/css",
		FontUserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		HTTPTimeout:       30 * time.Second,
		FontCheckInterval: 24 * time.Hour,
		LogLevel:          "info",
	}
}

// Path returns the config file location inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads dataDir/digifusion.toml when present. DIGIFUSION_* environment
// variables override file values; missing values take their defaults.
// Relative directories are resolved against the data dir.
func Load(dataDir string) (Config, error) {
	v := viper.New()
	def := Default()
	def.DataDir = dataDir

	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("uploads_dir", def.UploadsDir)
	v.SetDefault("uploads_url", def.UploadsURL)
	v.SetDefault("plugins_dir", def.PluginsDir)
	v.SetDefault("style_url", def.StyleURL)
	v.SetDefault("cart_url", def.CartURL)
	v.SetDefault("google_fonts_url", def.GoogleFontsURL)
	v.SetDefault("font_user_agent", def.FontUserAgent)
	v.SetDefault("http_timeout", def.HTTPTimeout)
	v.SetDefault("font_check_interval", def.FontCheckInterval)
	v.SetDefault("admin_token", def.AdminToken)
	v.SetDefault("nonce_secret", def.NonceSecret)
	v.SetDefault("secure_cookies", def.SecureCookies)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := Path(dataDir)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}
	cfg.UploadsDir = resolve(cfg.DataDir, cfg.UploadsDir)
	cfg.PluginsDir = resolve(cfg.DataDir, cfg.PluginsDir)
	return cfg, nil
}

func resolve(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

func relative(base, dir string) string {
	rel, err := filepath.Rel(base, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dir
	}
	return rel
}

// DatabasePath is the SQLite file holding settings, posts and plugin state.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "digifusion.db")
}

// Save writes cfg to its data dir atomically.
func Save(cfg Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := toml.Marshal(file{
		DataDir:           cfg.DataDir,
		ListenAddr:        cfg.ListenAddr,
		UploadsDir:        relative(cfg.DataDir, cfg.UploadsDir),
		UploadsURL:        cfg.UploadsURL,
		PluginsDir:        relative(cfg.DataDir, cfg.PluginsDir),
		StyleURL:          cfg.StyleURL,
		CartURL:           cfg.CartURL,
		GoogleFontsURL:    cfg.GoogleFontsURL,
		FontUserAgent:     cfg.FontUserAgent,
		HTTPTimeout:       cfg.HTTPTimeout.String(),
		FontCheckInterval: cfg.FontCheckInterval.String(),
		AdminToken:        cfg.AdminToken,
		NonceSecret:       cfg.NonceSecret,
		SecureCookies:     cfg.SecureCookies,
		LogLevel:          cfg.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	cfgPath := Path(cfg.DataDir)
	tmp := cfgPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, cfgPath)
}
