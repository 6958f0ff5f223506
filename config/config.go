package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// EnvPrefix is the prefix of environment variables read by Load,
// e.g. FAST_STATIC_PORT or FAST_STATIC_LOG_LEVEL.
const EnvPrefix = "FAST_STATIC"

// Config holds all application configuration.
type Config struct {
	Port      int  `config:"port"`
	TrigMode  int  `config:"trig.mode"`
	TimeoutMS int  `config:"timeout.ms"`
	OptLinger bool `config:"opt.linger"`
	MaxConns  int  `config:"max.conns"`
	Threads   int  `config:"threads"`

	Root string `config:"root"`

	DBPath     string `config:"db.path"`
	DBPoolSize int    `config:"db.pool.size"`

	LogEnabled   bool   `config:"log.enabled"`
	LogLevel     string `config:"log.level"`
	LogDir       string `config:"log.dir"`
	LogQueueSize int    `config:"log.queue.size"`

	LegacyFormDecoding bool `config:"legacy.form"`

	GOGC int    `config:"gogc"`
	Env  string `config:"env"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	root := "resources"
	if wd, err := os.Getwd(); err == nil {
		root = filepath.Join(wd, "resources")
	}
	return &Config{
		Port:         1316,
		TrigMode:     3,
		TimeoutMS:    60000,
		MaxConns:     65536,
		Threads:      6,
		Root:         root,
		DBPath:       "users.pb",
		DBPoolSize:   12,
		LogEnabled:   true,
		LogLevel:     "info",
		LogDir:       "./log",
		LogQueueSize: 1024,
		GOGC:         200,
		Env:          "development",
	}
}

func (c *Config) bind(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port (1024-65535)")
	fs.IntVar(&c.TrigMode, "trig-mode", c.TrigMode, "Trigger mode: 0 LT/LT, 1 conn ET, 2 listen ET, 3 ET/ET")
	fs.IntVar(&c.TimeoutMS, "timeout", c.TimeoutMS, "Idle connection timeout (milliseconds, 0 disables)")
	fs.BoolVar(&c.OptLinger, "linger", c.OptLinger, "Enable SO_LINGER on the listening socket")
	fs.IntVar(&c.MaxConns, "max-conns", c.MaxConns, "Maximum concurrent client connections")
	fs.IntVar(&c.Threads, "threads", c.Threads, "Worker pool size")
	fs.StringVar(&c.Root, "root", c.Root, "Served directory")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "User table file (empty keeps users in memory)")
	fs.IntVar(&c.DBPoolSize, "db-pool", c.DBPoolSize, "Credential store session pool size")
	fs.BoolVar(&c.LogEnabled, "log", c.LogEnabled, "Enable logging")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug/info/warn/error)")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "Log directory (empty logs to stderr)")
	fs.IntVar(&c.LogQueueSize, "log-queue", c.LogQueueSize, "Async log queue size (0 writes synchronously)")
	fs.BoolVar(&c.LegacyFormDecoding, "legacy-form", c.LegacyFormDecoding, "Rewrite %XX form escapes as decimal digits")
	fs.IntVar(&c.GOGC, "gogc", c.GOGC, "GC target percentage")
	fs.StringVar(&c.Env, "env", c.Env, "Environment (development/production)")
}

// Load builds the configuration from defaults, then an optional JSON file
// (-config), then FAST_STATIC_* environment variables. Flags given
// explicitly in args win over both.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("fast-static", flag.ContinueOnError)
	var file string
	fs.StringVar(&file, "config", "", "JSON configuration file")
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	m := NewManager()
	if file != "" {
		if err := m.LoadFromJSON(file); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return nil, fmt.Errorf("reapply flag -%s: %w", name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New loads configuration from the command line and environment and
// exits on error.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1024 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range [1024, 65535]", c.Port))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if c.Threads <= 0 {
		errs = append(errs, fmt.Errorf("threads must be positive, got %d", c.Threads))
	}
	if c.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("max conns must be positive, got %d", c.MaxConns))
	}
	if c.DBPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("db pool size must be positive, got %d", c.DBPoolSize))
	}
	if c.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %d", c.TimeoutMS))
	}
	return errors.Join(errs...)
}
