package tuning

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Tuning is the server configuration. Values come from defaults, then the
// YAML file, then PHASECRAFT_* environment variables.
type Tuning struct {
	TickRateHz int    `yaml:"tick_rate_hz" env:"PHASECRAFT_TICK_RATE_HZ"`
	Side       string `yaml:"side"         env:"PHASECRAFT_SIDE"`

	Phase       PhaseLimits `yaml:"phase"`
	World       WorldShape  `yaml:"world"`
	SpawnGuard  SpawnGuard  `yaml:"spawn_guard"`
	Persistence Persistence `yaml:"persistence"`
	Stream      Stream      `yaml:"stream"`
}

type PhaseLimits struct {
	MaxDepth        int `yaml:"max_depth"         env:"PHASECRAFT_MAX_DEPTH"`
	MaxPostDispatch int `yaml:"max_post_dispatch" env:"PHASECRAFT_MAX_POST_DISPATCH"`
}

type WorldShape struct {
	ID           string `yaml:"id"            env:"PHASECRAFT_WORLD_ID"`
	FlatRadius   int    `yaml:"flat_radius"   env:"PHASECRAFT_FLAT_RADIUS"`
	SurfaceY     int    `yaml:"surface_y"     env:"PHASECRAFT_SURFACE_Y"`
	FireTicks    int    `yaml:"fire_ticks"    env:"PHASECRAFT_FIRE_TICKS"`
	PickupRadius int    `yaml:"pickup_radius" env:"PHASECRAFT_PICKUP_RADIUS"`

	// StarterItems are "item:count" specs given to each player on join.
	StarterItems []string `yaml:"starter_items" env:"PHASECRAFT_STARTER_ITEMS" envSeparator:","`
}

type SpawnGuard struct {
	Enabled   bool     `yaml:"enabled"   env:"PHASECRAFT_SPAWN_GUARD"`
	Radius    int      `yaml:"radius"    env:"PHASECRAFT_SPAWN_GUARD_RADIUS"`
	Protected []string `yaml:"protected" env:"PHASECRAFT_SPAWN_GUARD_PROTECTED" envSeparator:","`
}

type Persistence struct {
	DataDir        string `yaml:"data_dir"         env:"PHASECRAFT_DATA_DIR"`
	Journal        bool   `yaml:"journal"          env:"PHASECRAFT_JOURNAL"`
	Index          bool   `yaml:"index"            env:"PHASECRAFT_INDEX"`
	IndexQueueSize int    `yaml:"index_queue_size" env:"PHASECRAFT_INDEX_QUEUE_SIZE"`
}

type Stream struct {
	Enabled    bool `yaml:"enabled"     env:"PHASECRAFT_STREAM"`
	SendBuffer int  `yaml:"send_buffer" env:"PHASECRAFT_STREAM_SEND_BUFFER"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 20,
		Side:       "server",
		Phase: PhaseLimits{
			MaxDepth:        32,
			MaxPostDispatch: 64,
		},
		World: WorldShape{
			ID:           "overworld",
			FlatRadius:   16,
			SurfaceY:     4,
			FireTicks:    20,
			PickupRadius: 1,
			StarterItems: []string{"stone:16", "sand:8", "iron_sword:1", "spawn_egg:zombie:2"},
		},
		SpawnGuard: SpawnGuard{
			Enabled:   true,
			Radius:    4,
			Protected: []string{"bedrock"},
		},
		Persistence: Persistence{
			DataDir:        "./data",
			Journal:        true,
			Index:          true,
			IndexQueueSize: 65536,
		},
		Stream: Stream{
			Enabled:    true,
			SendBuffer: 256,
		},
	}
}

// Load reads path over the defaults and applies the process environment. An
// empty path skips the file.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ApplyEnv(&t, nil); err != nil {
		return t, err
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// ApplyEnv overrides fields from environ, or from the process environment
// when environ is nil. Unset variables leave fields alone.
func ApplyEnv(t *Tuning, environ map[string]string) error {
	var err error
	if environ == nil {
		err = env.Parse(t)
	} else {
		err = env.ParseWithOptions(t, env.Options{Environment: environ})
	}
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Normalize trims strings and replaces non-positive limits with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	t.Side = strings.ToLower(strings.TrimSpace(t.Side))
	if t.Side == "" {
		t.Side = d.Side
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Phase.MaxDepth <= 0 {
		t.Phase.MaxDepth = d.Phase.MaxDepth
	}
	if t.Phase.MaxPostDispatch <= 0 {
		t.Phase.MaxPostDispatch = d.Phase.MaxPostDispatch
	}
	t.World.ID = strings.TrimSpace(t.World.ID)
	if t.World.ID == "" {
		t.World.ID = d.World.ID
	}
	if t.World.FireTicks <= 0 {
		t.World.FireTicks = d.World.FireTicks
	}
	if t.World.PickupRadius < 0 {
		t.World.PickupRadius = 0
	}
	prot := t.SpawnGuard.Protected[:0]
	for _, b := range t.SpawnGuard.Protected {
		if b = strings.TrimSpace(b); b != "" {
			prot = append(prot, b)
		}
	}
	t.SpawnGuard.Protected = prot
	if t.Persistence.IndexQueueSize <= 0 {
		t.Persistence.IndexQueueSize = d.Persistence.IndexQueueSize
	}
	if t.Stream.SendBuffer <= 0 {
		t.Stream.SendBuffer = d.Stream.SendBuffer
	}
}

func (t Tuning) Validate() error {
	if t.Side != "server" && t.Side != "client" {
		return fmt.Errorf("side must be server or client, got %q", t.Side)
	}
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz %d out of range (1..1000)", t.TickRateHz)
	}
	if t.Phase.MaxDepth < 2 {
		return fmt.Errorf("phase.max_depth must be at least 2, got %d", t.Phase.MaxDepth)
	}
	if t.World.FlatRadius < 0 || t.World.FlatRadius > 256 {
		return fmt.Errorf("world.flat_radius %d out of range (0..256)", t.World.FlatRadius)
	}
	if t.World.SurfaceY < 1 || t.World.SurfaceY > 255 {
		return fmt.Errorf("world.surface_y %d out of range (1..255)", t.World.SurfaceY)
	}
	for _, spec := range t.World.StarterItems {
		if _, _, err := ParseItemSpec(spec); err != nil {
			return fmt.Errorf("world.starter_items: %w", err)
		}
	}
	if t.SpawnGuard.Radius < 0 {
		return fmt.Errorf("spawn_guard.radius must not be negative")
	}
	if (t.Persistence.Journal || t.Persistence.Index) && strings.TrimSpace(t.Persistence.DataDir) == "" {
		return fmt.Errorf("persistence.data_dir is required when the journal or index is enabled")
	}
	return nil
}

// ParseItemSpec splits "item:count" at the last colon, so item names may
// contain colons themselves.
func ParseItemSpec(spec string) (item string, count int, err error) {
	i := strings.LastIndex(spec, ":")
	if i <= 0 || i == len(spec)-1 {
		return "", 0, fmt.Errorf("item spec %q: want item:count", spec)
	}
	count, err = strconv.Atoi(spec[i+1:])
	if err != nil || count <= 0 {
		return "", 0, fmt.Errorf("item spec %q: bad count", spec)
	}
	return spec[:i], count, nil
}
