package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"citygrid.ai/internal/sim/city"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	Grid              Grid           `yaml:"grid" json:"grid"`
	StartingResources map[string]int `yaml:"starting_resources" json:"starting_resources"`

	EconomyTickMs int `yaml:"economy_tick_ms" json:"economy_tick_ms"`
	// AutosaveMs of 0 disables autosave.
	AutosaveMs int `yaml:"autosave_ms" json:"autosave_ms"`

	Storage    Storage    `yaml:"storage" json:"storage"`
	RateLimits RateLimits `yaml:"rate_limits" json:"rate_limits"`
}

type Grid struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

type Storage struct {
	Backend string `yaml:"backend" json:"backend"` // "file", "gdata", "sqlite"
	Path    string `yaml:"path" json:"path"`
	AppName string `yaml:"app_name" json:"app_name"`
}

type RateLimits struct {
	CommandsPerSec float64 `yaml:"commands_per_sec" json:"commands_per_sec"`
	Burst          int     `yaml:"burst" json:"burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Grid:            Grid{Width: 32, Height: 32},
		StartingResources: map[string]int{
			"Gold": 1000,
			"Wood": 500,
		},
		EconomyTickMs: 1000,
		AutosaveMs:    10000,
		Storage: Storage{
			Backend: "file",
			Path:    "gamestate.snap.zst",
			AppName: "citygrid",
		},
		RateLimits: RateLimits{CommandsPerSec: 20, Burst: 40},
	}
}

// Load reads a tuning file on top of Defaults, so omitted keys keep their
// default values. A starting_resources map replaces the default map
// whole rather than merging into it.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	t.StartingResources = nil
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Defaults(), fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.StartingResources == nil {
		t.StartingResources = Defaults().StartingResources
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Grid.Width <= 0 || t.Grid.Height <= 0 {
		errs = append(errs, fmt.Errorf("grid must be positive, got %dx%d", t.Grid.Width, t.Grid.Height))
	}
	if t.EconomyTickMs <= 0 {
		errs = append(errs, fmt.Errorf("economy_tick_ms must be positive"))
	}
	if t.AutosaveMs < 0 {
		errs = append(errs, fmt.Errorf("autosave_ms must not be negative"))
	}
	switch t.Storage.Backend {
	case "file", "sqlite", "gdata":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", t.Storage.Backend))
	}
	if _, err := t.StartingVector(); err != nil {
		errs = append(errs, fmt.Errorf("starting_resources: %w", err))
	}
	return errors.Join(errs...)
}

func (t Tuning) StartingVector() (city.Vector, error) {
	m := make(map[city.ResourceType]int, len(t.StartingResources))
	for name, n := range t.StartingResources {
		rt, err := city.ParseResourceType(name)
		if err != nil {
			return city.Vector{}, err
		}
		m[rt] = n
	}
	return city.NewVector(m)
}

func (t Tuning) EconomyInterval() time.Duration {
	return time.Duration(t.EconomyTickMs) * time.Millisecond
}

func (t Tuning) AutosaveInterval() time.Duration {
	return time.Duration(t.AutosaveMs) * time.Millisecond
}
