package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Repetitions != 10 {
		t.Errorf("Repetitions = %d, want %d", cfg.Repetitions, 10)
	}
	if cfg.ProColor != (geom.Color{0, 0, 0.9}) {
		t.Errorf("ProColor = %v, want blue", cfg.ProColor)
	}
	if cfg.UseEyetracker {
		t.Error("UseEyetracker should be false by default")
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default config should be valid, got %v", errs)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
repetitions: 4
fix_delay: 0.5
use_eyetracker: true
pro_color: [0, 0.5, 1]
sensor_size: [0.8, 0.8, 0.2]
unknown_option: ignored
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Repetitions != 4 {
		t.Errorf("Repetitions = %d, want %d", cfg.Repetitions, 4)
	}
	if cfg.FixDelay != 0.5 {
		t.Errorf("FixDelay = %v, want %v", cfg.FixDelay, 0.5)
	}
	if !cfg.UseEyetracker {
		t.Error("UseEyetracker should be true")
	}
	if cfg.ProColor != (geom.Color{0, 0.5, 1}) {
		t.Errorf("ProColor = %v", cfg.ProColor)
	}
	if cfg.SensorSize != (geom.Vec3{0.8, 0.8, 0.2}) {
		t.Errorf("SensorSize = %v", cfg.SensorSize)
	}
	// Untouched options keep defaults.
	if cfg.GoDelay != 1 {
		t.Errorf("GoDelay = %v, want default 1", cfg.GoDelay)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	data := `{"fix_delay": 2, "tar_dist": 0.6, "controller": 1}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FixDelay != 2 || cfg.TarDist != 0.6 || cfg.Controller != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	data := `
go_delay = 0.25
anti_color = [1.0, 0.0, 0.0]
environment = "lab.osgb"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GoDelay != 0.25 {
		t.Errorf("GoDelay = %v, want 0.25", cfg.GoDelay)
	}
	if cfg.AntiColor != geom.Red {
		t.Errorf("AntiColor = %v, want red", cfg.AntiColor)
	}
	if cfg.Environment != "lab.osgb" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing experiment config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"negative fix delay", func(c *Config) { c.FixDelay = -1 }, "fix_delay"},
		{"negative go delay", func(c *Config) { c.GoDelay = -0.1 }, "go_delay"},
		{"zero target size", func(c *Config) { c.TarSize = 0 }, "tar_size"},
		{"color out of range", func(c *Config) { c.TextColor = geom.Color{2, 0, 0} }, "text_color"},
		{"negative controller", func(c *Config) { c.Controller = -1 }, "controller"},
		{"gaze tolerance with eye tracker", func(c *Config) { c.UseEyetracker = true; c.GazeTolerance = 0 }, "gaze_tolerance"},
		{"flat sensor", func(c *Config) { c.SensorSize[2] = 0 }, "sensor_size[2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(&cfg)
			errs := cfg.Validate()
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %q, got %v", tt.field, errs)
			}
			if err := cfg.Err(); !errors.Is(err, fault.ErrConfig) {
				t.Errorf("Err() = %v, want ErrConfig", err)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	cfg.FixDelay = 1.5
	cfg.GoDelay = 0.25
	if got := cfg.FixDelayDuration().Milliseconds(); got != 1500 {
		t.Errorf("FixDelayDuration = %dms, want 1500ms", got)
	}
	if got := cfg.GoDelayDuration().Milliseconds(); got != 250 {
		t.Errorf("GoDelayDuration = %dms, want 250ms", got)
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	t.Setenv("TEST_JOURNAL_DIR", "/srv/lab")

	yaml := `
log_level: debug
journal:
  path: "${TEST_JOURNAL_DIR}/journal.db"
inspector:
  enabled: true
  port: 9000
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", s.LogLevel, "debug")
	}
	if s.Journal.Path != "/srv/lab/journal.db" {
		t.Errorf("Journal.Path = %q", s.Journal.Path)
	}
	if !s.Inspector.Enabled || s.Inspector.Port != 9000 {
		t.Errorf("Inspector = %+v", s.Inspector)
	}
	if s.Output.Dir != "data" {
		t.Errorf("Output.Dir = %q, want default %q", s.Output.Dir, "data")
	}
}

func TestLoadSettingsMissing(t *testing.T) {
	t.Setenv("VX_LOG_LEVEL", "trace")
	s, err := LoadSettings("/nonexistent/path/settings.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if s.LogLevel != "trace" {
		t.Errorf("LogLevel = %q, want env override %q", s.LogLevel, "trace")
	}
}

func TestInterpolateEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("NUM_123", "456")

	tests := []struct {
		input string
		want  string
	}{
		{"${FOO}", "bar"},
		{"prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"${UNSET_VAR}", "${UNSET_VAR}"}, // unresolved stays
		{"${FOO} and ${NUM_123}", "bar and 456"},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		got := interpolateEnvVars(tt.input)
		if got != tt.want {
			t.Errorf("interpolateEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
