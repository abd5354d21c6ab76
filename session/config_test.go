package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/drawbridge/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	system := writeFile(t, dir, "system.json", `{"log_level": "warn", "connect_timeout": "5s", "compress_threshold": 1024}`)
	user := writeFile(t, dir, "user.json", `{"log_level": "error", "search_path": ["/opt/libs"]}`)
	t.Setenv("DRAWBRIDGE_COMPRESS_THRESHOLD", "2048")
	t.Setenv("DRAWBRIDGE_REMOTE_LOG", "false")

	cfg, err := LoadConfig(system, filepath.Join(dir, "missing.json"), user)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("log_level = %s, want error", cfg.LogLevel)
	}
	if time.Duration(cfg.ConnectTimeout) != 5*time.Second {
		t.Errorf("connect_timeout = %v", time.Duration(cfg.ConnectTimeout))
	}
	if cfg.CompressThreshold != 2048 || cfg.RemoteLog {
		t.Errorf("env not applied: %+v", cfg)
	}
	if len(cfg.SearchPath) != 1 || cfg.SearchPath[0] != "/opt/libs" {
		t.Errorf("search_path = %v", cfg.SearchPath)
	}
	if time.Duration(cfg.TerminateTimeout) != 5*time.Second {
		t.Errorf("default terminate_timeout lost: %v", time.Duration(cfg.TerminateTimeout))
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		env     [2]string
		kind    errors.Kind
	}{
		{"bad json", `{"log_level": `, [2]string{}, errors.KindInvalidInput},
		{"bad level", `{"log_level": "loud"}`, [2]string{}, errors.KindInvalidInput},
		{"bad abi", `{"caller_abi": "pdp11"}`, [2]string{}, errors.KindInvalidInput},
		{"bad env duration", `{}`, [2]string{"DRAWBRIDGE_CONNECT_TIMEOUT", "soon"}, errors.KindInvalidInput},
		{"unknown env key", `{}`, [2]string{"DRAWBRIDGE_COLOUR", "blue"}, errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env[0] != "" {
				t.Setenv(tt.env[0], tt.env[1])
			}
			p := writeFile(t, dir, "cfg.json", tt.content)
			_, err := LoadConfig(p)
			if !errors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: tt.kind}) {
				t.Errorf("err = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestConfig_Set(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		key, value string
		check      func(Config) bool
	}{
		{"host", "::1", func(c Config) bool { return c.Host == "::1" }},
		{"terminate_timeout", "250ms", func(c Config) bool { return time.Duration(c.TerminateTimeout) == 250*time.Millisecond }},
		{"search_path", "/a" + string(os.PathListSeparator) + "/b", func(c Config) bool { return len(c.SearchPath) == 2 }},
		{"companion", "/usr/bin/companion", func(c Config) bool { return c.Companion == "/usr/bin/companion" }},
	}
	for _, tt := range tests {
		if err := cfg.Set(tt.key, tt.value); err != nil {
			t.Errorf("Set(%s): %v", tt.key, err)
			continue
		}
		if !tt.check(cfg) {
			t.Errorf("Set(%s, %s) not applied", tt.key, tt.value)
		}
	}
	if err := cfg.Set("compress_threshold", "lots"); err == nil {
		t.Error("expected an error for a non-numeric threshold")
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1m30s"`)); err != nil || time.Duration(d) != 90*time.Second {
		t.Errorf("string form = %v, %v", time.Duration(d), err)
	}
	if err := d.UnmarshalJSON([]byte(`1000`)); err != nil || time.Duration(d) != time.Microsecond {
		t.Errorf("numeric form = %v, %v", time.Duration(d), err)
	}
	b, err := Duration(2 * time.Second).MarshalJSON()
	if err != nil || string(b) != `"2s"` {
		t.Errorf("MarshalJSON = %s, %v", b, err)
	}
}
