package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MailConfig holds the SMTP relay settings and the sender identity. It is the
// only section that may change at runtime (see watchConfigFile).
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Duration accepts Go duration strings ("10m") or nanosecond ints in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// Std converts back to the standard duration type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type JWTConfig struct {
	Secret     string   `yaml:"secret"`
	SessionTTL Duration `yaml:"session_ttl"`
	ResetTTL   Duration `yaml:"reset_ttl"`
}

// DebugConfig gates diagnostics that must never be on by default. When
// ExposeResetToken is set the raw reset token is included in the reset mail
// and the forgot-password response, which is only acceptable against a test
// relay.
type DebugConfig struct {
	ExposeResetToken bool `yaml:"expose_reset_token"`
}

type Config struct {
	Addr        string      `yaml:"addr"`
	BaseURL     string      `yaml:"base_url"`
	DatabaseDSN string      `yaml:"database_dsn"`
	AutoMigrate bool        `yaml:"auto_migrate"`
	UploadBase  string      `yaml:"upload_base"`
	JWT         JWTConfig   `yaml:"jwt"`
	Mail        MailConfig  `yaml:"mail"`
	Debug       DebugConfig `yaml:"debug"`

	// path of the YAML file the config was loaded from, empty when env-only
	file string
}

// loadConfig reads ./.env (non-destructively), applies defaults and env vars,
// then lets an optional YAML file (CONFIG_FILE) override both.
func loadConfig() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		Addr:        ":8081",
		BaseURL:     "http://localhost:8081",
		AutoMigrate: true,
		UploadBase:  "uploads",
		JWT: JWTConfig{
			SessionTTL: Duration(24 * time.Hour),
			ResetTTL:   Duration(10 * time.Minute),
		},
		Mail: MailConfig{Port: 587, From: "no-reply@localhost"},
	}

	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	cfg.DatabaseDSN = os.Getenv("DB_DSN")
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		cfg.AutoMigrate = !(lv == "false" || lv == "0" || lv == "no")
	}
	if v := os.Getenv("UPLOAD_BASE"); v != "" {
		cfg.UploadBase = v
	}
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("RESET_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RESET_TOKEN_TTL: %w", err)
		}
		cfg.JWT.ResetTTL = Duration(d)
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		cfg.JWT.SessionTTL = Duration(d)
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Mail.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.Mail.Port = p
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Mail.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Mail.Password = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
	if v := os.Getenv("DEBUG_EXPOSE_RESET_TOKEN"); v == "1" || strings.EqualFold(v, "true") {
		cfg.Debug.ExposeResetToken = true
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
		cfg.file = path
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

// watchConfigFile watches the YAML config file and calls onMail with the new
// mail section whenever it changes. Credentials for the relay rotate without
// a restart; everything else requires one. No-op when config came from env.
func (c *Config) watchConfigFile(log *zap.Logger, onMail func(MailConfig)) (func() error, error) {
	if c.file == "" {
		return func() error { return nil }, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(c.file)); err != nil {
		watcher.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(c.file) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				fresh := *c
				if err := fresh.applyFile(c.file); err != nil {
					log.Warn("config reload failed", zap.Error(err))
					continue
				}
				log.Info("mail config reloaded", zap.String("host", fresh.Mail.Host))
				onMail(fresh.Mail)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return watcher.Close, nil
}

// loadDotEnv loads key=value pairs from a local .env file into the environment
// without overwriting variables that are already set. Lines starting with # are ignored.
func loadDotEnv() {
	path := ".env"
	if _, err := os.Stat(path); err != nil {
		return // no .env file
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// split on first '='
		if eq := strings.IndexByte(line, '='); eq > 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.TrimSpace(line[eq+1:])
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
}
