package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
)

// Config holds the experiment options consumed by the trial engine.
// Unknown keys in a config file are ignored.
type Config struct {
	Repetitions      int        `yaml:"repetitions" json:"repetitions" toml:"repetitions"`
	FixDelay         float64    `yaml:"fix_delay" json:"fix_delay" toml:"fix_delay"` // seconds
	GoDelay          float64    `yaml:"go_delay" json:"go_delay" toml:"go_delay"`    // seconds
	UseEyetracker    bool       `yaml:"use_eyetracker" json:"use_eyetracker" toml:"use_eyetracker"`
	ProColor         geom.Color `yaml:"pro_color" json:"pro_color" toml:"pro_color"`
	AntiColor        geom.Color `yaml:"anti_color" json:"anti_color" toml:"anti_color"`
	TextColor        geom.Color `yaml:"text_color" json:"text_color" toml:"text_color"`
	TarSize          float64    `yaml:"tar_size" json:"tar_size" toml:"tar_size"`
	TarDist          float64    `yaml:"tar_dist" json:"tar_dist" toml:"tar_dist"`
	TargetOffset     float64    `yaml:"target_offset" json:"target_offset" toml:"target_offset"`
	Controller       int        `yaml:"controller" json:"controller" toml:"controller"`
	Environment      string     `yaml:"environment" json:"environment" toml:"environment"`
	GazeTolerance    float64    `yaml:"gaze_tolerance" json:"gaze_tolerance" toml:"gaze_tolerance"` // degrees
	SensorSize       geom.Vec3  `yaml:"sensor_size" json:"sensor_size" toml:"sensor_size"`
	ValidationScheme string     `yaml:"validation_scheme" json:"validation_scheme" toml:"validation_scheme"`
	AutoSave         bool       `yaml:"auto_save" json:"auto_save" toml:"auto_save"`

	// EyeHeight is derived from the head pose after calibration and is
	// never read from a file.
	EyeHeight float64 `yaml:"-" json:"eyeheight" toml:"-"`
}

// Default returns the options used by the reference pro/anti reach task.
func Default() Config {
	return Config{
		Repetitions:      10,
		FixDelay:         1,
		GoDelay:          1,
		UseEyetracker:    false,
		ProColor:         geom.Color{0, 0, 0.9},
		AntiColor:        geom.Color{0.9, 0, 0},
		TextColor:        geom.Color{0.9, 0.9, 0.9},
		TarSize:          0.05,
		TarDist:          0.5,
		TargetOffset:     0.3,
		Controller:       0,
		Environment:      "ground_wood.osgb",
		GazeTolerance:    2.0,
		SensorSize:       geom.Vec3{1.0, 1.0, 0.1},
		ValidationScheme: "CR5",
	}
}

// FixDelayDuration returns FixDelay as a time.Duration.
func (c Config) FixDelayDuration() time.Duration {
	return seconds(c.FixDelay)
}

// GoDelayDuration returns GoDelay as a time.Duration.
func (c Config) GoDelayDuration() time.Duration {
	return seconds(c.GoDelay)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// FieldError is a single invalid option.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks option ranges. It does not require Repetitions since a
// design may carry its own repeat count.
func (c Config) Validate() []FieldError {
	var errs []FieldError
	add := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	if c.Repetitions < 0 {
		add("repetitions", "must be >= 0")
	}
	if c.FixDelay < 0 {
		add("fix_delay", "must be >= 0")
	}
	if c.GoDelay < 0 {
		add("go_delay", "must be >= 0")
	}
	if !c.ProColor.Valid() {
		add("pro_color", "components must be within [0, 1]")
	}
	if !c.AntiColor.Valid() {
		add("anti_color", "components must be within [0, 1]")
	}
	if !c.TextColor.Valid() {
		add("text_color", "components must be within [0, 1]")
	}
	if c.TarSize <= 0 {
		add("tar_size", "must be > 0")
	}
	if c.TarDist <= 0 {
		add("tar_dist", "must be > 0")
	}
	if c.TargetOffset < 0 {
		add("target_offset", "must be >= 0")
	}
	if c.Controller < 0 {
		add("controller", "must be >= 0")
	}
	if c.UseEyetracker && c.GazeTolerance <= 0 {
		add("gaze_tolerance", "must be > 0 when use_eyetracker is set")
	}
	for i, v := range c.SensorSize {
		if v <= 0 {
			add(fmt.Sprintf("sensor_size[%d]", i), "must be > 0")
		}
	}
	return errs
}

// Err folds Validate into a single ErrConfig error, or nil.
func (c Config) Err() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", fault.ErrConfig, strings.Join(msgs, "; "))
}

// Load reads experiment options from a YAML, JSON or TOML file, picked by
// extension. Options missing from the file keep their Default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := Decode(path, data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode parses data into cfg, choosing the format by the extension of
// name. Fields absent from data are left untouched.
func Decode(name string, data []byte, cfg *Config) error {
	text := interpolateEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		if _, err := toml.Decode(text, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", name, err)
		}
	default:
		// yaml.v3 accepts JSON documents as well.
		if err := yaml.Unmarshal([]byte(text), cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", name, err)
		}
	}
	return nil
}

// Settings represents runtime settings from .vx/settings.yaml.
type Settings struct {
	LogLevel  string            `yaml:"log_level"`
	Journal   JournalSettings   `yaml:"journal"`
	Inspector InspectorSettings `yaml:"inspector"`
	Output    OutputSettings    `yaml:"output"`
}

// JournalSettings controls the bbolt trial journal.
type JournalSettings struct {
	Path string `yaml:"path"`
}

// InspectorSettings defines session monitor settings.
type InspectorSettings struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// OutputSettings sets where exports land when an experiment file has no
// output block.
type OutputSettings struct {
	Dir string `yaml:"dir"`
}

// DefaultSettings returns Settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		LogLevel: "info",
		Journal: JournalSettings{
			Path: filepath.Join(".vx", "journal.db"),
		},
		Inspector: InspectorSettings{
			Port: 4300,
		},
		Output: OutputSettings{
			Dir: "data",
		},
	}
}

// LoadSettings reads runtime settings. Returns defaults if the file
// doesn't exist. VX_LOG_LEVEL and VX_JOURNAL override the file.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&s)
			return s, nil
		}
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(interpolateEnvVars(string(data))), &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	applyEnv(&s)
	return s, nil
}

func applyEnv(s *Settings) {
	if v := os.Getenv("VX_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("VX_JOURNAL"); v != "" {
		s.Journal.Path = v
	}
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
