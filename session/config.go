package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/drawbridge"
	"github.com/wippyai/drawbridge/ctype"
	"github.com/wippyai/drawbridge/errors"
)

// ConfigFile is the file name LoadConfig looks for
const ConfigFile = "drawbridge.json"

// EnvPrefix prefixes environment variables that override configuration
const EnvPrefix = "DRAWBRIDGE_"

// Duration is a time.Duration that reads "1.5s" style strings from JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config configures a session. The zero value is not usable; start from
// DefaultConfig or LoadConfig.
type Config struct {
	// Logger receives session, rpc and callback logs and, with RemoteLog,
	// the companion's entries.
	Logger *zap.Logger `json:"-"`

	// Bootstrap starts the companion process
	Bootstrap Bootstrap `json:"-"`

	// Space holds caller-side memsync buffers
	Space drawbridge.Space `json:"-"`

	// TracerProvider adds a span per dispatched request when set
	TracerProvider trace.TracerProvider `json:"-"`

	// ID names the session; a uuid is generated when empty
	ID string `json:"id,omitempty"`

	// Host is the loopback interface both channels listen on
	Host string `json:"host"`

	// CallerABI is the data model of the calling process
	CallerABI string `json:"caller_abi"`

	// LogLevel is shared by both sides and changeable at runtime
	LogLevel string `json:"log_level"`

	// Companion is the companion executable started by Exec when no Bootstrap is set
	Companion string `json:"companion,omitempty"`

	// SearchPath is handed to the companion's library loader
	SearchPath []string `json:"search_path,omitempty"`

	ConnectTimeout   Duration `json:"connect_timeout"`
	ConnectInterval  Duration `json:"connect_interval"`
	TerminateTimeout Duration `json:"terminate_timeout"`

	// CompressThreshold is the rpc payload size above which frames are
	// zstd compressed
	CompressThreshold int `json:"compress_threshold"`

	// RemoteLog forwards companion log entries to Logger
	RemoteLog bool `json:"remote_log"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		CallerABI:         ctype.HostABI().Name,
		LogLevel:          "info",
		ConnectTimeout:    Duration(30 * time.Second),
		ConnectInterval:   Duration(10 * time.Millisecond),
		TerminateTimeout:  Duration(5 * time.Second),
		CompressThreshold: 64 << 10,
		RemoteLog:         true,
	}
}

// DefaultPaths lists the configuration files LoadConfig reads when called
// without paths, lowest precedence first.
func DefaultPaths() []string {
	paths := []string{filepath.Join("/etc/drawbridge", ConfigFile)}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "drawbridge", ConfigFile))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ConfigFile))
	}
	return paths
}

// LoadConfig merges the given JSON files over DefaultConfig, then applies
// DRAWBRIDGE_* environment variables. Missing files are skipped.
func LoadConfig(paths ...string) (Config, error) {
	cfg := DefaultConfig()
	if len(paths) == 0 {
		paths = DefaultPaths()
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read "+p)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse "+p)
		}
	}
	if err := cfg.applyEnv(os.Environ()); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(env []string) error {
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		if err := c.Set(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), v); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns one parameter by its JSON key
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "id":
		c.ID = value
	case "host":
		c.Host = value
	case "caller_abi":
		c.CallerABI = value
	case "log_level":
		_, err = zapcore.ParseLevel(value)
		c.LogLevel = value
	case "companion":
		c.Companion = value
	case "search_path":
		c.SearchPath = filepath.SplitList(value)
	case "connect_timeout":
		err = setDuration(&c.ConnectTimeout, value)
	case "connect_interval":
		err = setDuration(&c.ConnectInterval, value)
	case "terminate_timeout":
		err = setDuration(&c.TerminateTimeout, value)
	case "compress_threshold":
		c.CompressThreshold, err = strconv.Atoi(value)
	case "remote_log":
		c.RemoteLog, err = strconv.ParseBool(value)
	default:
		return errors.NotFound(errors.PhaseConfig, "parameter", key)
	}
	if err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(key).
			Cause(err).
			Detail("invalid value %q", value).
			Build()
	}
	return nil
}

func setDuration(d *Duration, value string) error {
	v, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if _, err := ctype.ABIByName(c.CallerABI); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "caller_abi")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log_level")
	}
	if c.ConnectTimeout <= 0 || c.ConnectInterval <= 0 || c.TerminateTimeout <= 0 {
		return errors.InvalidInput(errors.PhaseConfig, "timeouts must be positive")
	}
	if c.Host == "" {
		return errors.InvalidInput(errors.PhaseConfig, "host is empty")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("<Config id=%s host=%s caller_abi=%s log_level=%s>", c.ID, c.Host, c.CallerABI, c.LogLevel)
}
