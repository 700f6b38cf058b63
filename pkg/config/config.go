// Package config is the daemon configuration, read from the command line and
// from a JSON file in the data directory.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/experience"
	"github.com/Hubmakerlabs/localstr/pkg/ingest"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/units"
)

var log, chk = slog.New(os.Stderr)

const FileName = "config.json"

type ImportCmd struct {
	FromFile []string `arg:"-f,--fromfile,separate" help:"read from files instead of stdin (can use flag repeatedly for multiple files)"`
	NoVerify bool     `arg:"--noverify" help:"store events without checking their ids"`
}

type InitCfg struct{}
type Wipe struct{}

type Config struct {
	InitCfgCmd *InitCfg   `arg:"subcommand:initcfg" json:"-" help:"write the configuration file"`
	ImportCmd  *ImportCmd `arg:"subcommand:import" json:"-" help:"import events from line structured JSON"`
	WipeCmd    *Wipe      `arg:"subcommand:wipe" json:"-" help:"empty every store"`
	DataDir    string     `arg:"-d,--datadir" json:"-" help:"directory holding the stores and the configuration file"`
	LogLevel   string     `arg:"--loglevel" json:"log_level" help:"set log level [off,fatal,error,warn,info,debug,trace] (can also use GODEBUG environment variable)"`
	// Store sizes are in mebibytes and only apply when a store is created.
	EventsSize int64 `arg:"--eventssize" json:"events_size" help:"initial size of the event store in MiB"`
	SocialSize int64 `arg:"--socialsize" json:"social_size" help:"initial size of the profile and follow store in MiB"`
	RelaysSize int64 `arg:"--relayssize" json:"relays_size" help:"initial size of the relay directory in MiB"`
	AssetsSize int64 `arg:"--assetssize" json:"assets_size" help:"size of the asset cache in MiB"`
	HitsSize   int64 `arg:"--hitssize" json:"hits_size" help:"size of the asset hit log in MiB"`
	// Hold is the longest an incoming event waits before it is written.
	Hold time.Duration `arg:"--hold" json:"hold" help:"how long incoming events are held to batch their writes"`
	// EvictFraction of the eligible assets is removed when the asset cache
	// is full.
	EvictFraction float64 `arg:"--evict" json:"evict_fraction" help:"share of cached assets evicted when the cache is full"`
	// EvictGrace protects assets cached more recently than this.
	EvictGrace     time.Duration `arg:"--grace" json:"evict_grace" help:"assets younger than this are not evicted"`
	ReduceFraction float64       `arg:"--reduce" json:"reduce_fraction" help:"share of the oldest asset hits dropped when the hit log is full"`
	ProfileCache   int           `arg:"--profilecache" json:"profile_cache" help:"number of profiles kept decoded in memory"`
}

// DefaultDataDir is ~/.localstr, or .localstr when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".localstr"
	}
	return filepath.Join(home, ".localstr")
}

func Default() *Config {
	o := experience.DefaultOptions()
	return &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       "info",
		EventsSize:     o.Events.MapSize / units.MiB,
		SocialSize:     o.Social.MapSize / units.MiB,
		RelaysSize:     o.Relays.MapSize / units.MiB,
		AssetsSize:     o.Assets.MapSize / units.MiB,
		HitsSize:       o.Hits.MapSize / units.MiB,
		Hold:           ingest.DefaultHold,
		EvictFraction:  o.EvictFraction,
		EvictGrace:     o.EvictGrace,
		ReduceFraction: o.ReduceFraction,
		ProfileCache:   o.ProfileCache,
	}
}

// Path is the configuration file in the data directory.
func (c *Config) Path() string { return filepath.Join(c.DataDir, FileName) }

// Override copies the fields set in o over those of c.
func (c *Config) Override(o *Config) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	for _, f := range []struct{ dst, src *int64 }{
		{&c.EventsSize, &o.EventsSize},
		{&c.SocialSize, &o.SocialSize},
		{&c.RelaysSize, &o.RelaysSize},
		{&c.AssetsSize, &o.AssetsSize},
		{&c.HitsSize, &o.HitsSize},
	} {
		if *f.src > 0 {
			*f.dst = *f.src
		}
	}
	if o.Hold > 0 {
		c.Hold = o.Hold
	}
	if o.EvictFraction > 0 {
		c.EvictFraction = o.EvictFraction
	}
	if o.EvictGrace > 0 {
		c.EvictGrace = o.EvictGrace
	}
	if o.ReduceFraction > 0 {
		c.ReduceFraction = o.ReduceFraction
	}
	if o.ProfileCache > 0 {
		c.ProfileCache = o.ProfileCache
	}
	c.InitCfgCmd, c.ImportCmd, c.WipeCmd = o.InitCfgCmd, o.ImportCmd, o.WipeCmd
}

// Level is the slog level named by LogLevel.
func (c *Config) Level() (l int, err error) {
	var ok bool
	if l, ok = slog.ParseLevel(c.LogLevel); !ok {
		err = log.E.Err("unknown log level %q", c.LogLevel)
	}
	return
}

// Options sizes the store families.
func (c *Config) Options() (o experience.Options) {
	o = experience.DefaultOptions()
	o.Events.MapSize = c.EventsSize * units.MiB
	o.Social.MapSize = c.SocialSize * units.MiB
	o.Relays.MapSize = c.RelaysSize * units.MiB
	o.Assets.MapSize = c.AssetsSize * units.MiB
	o.Hits.MapSize = c.HitsSize * units.MiB
	o.EvictFraction = c.EvictFraction
	o.EvictGrace = c.EvictGrace
	o.ReduceFraction = c.ReduceFraction
	o.ProfileCache = c.ProfileCache
	return
}

func (c *Config) Save(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot save nil config")
		log.E.Ln(err)
		return
	}
	var b []byte
	if b, err = json.MarshalIndent(c, "", "    "); chk.E(err) {
		return
	}
	if err = os.MkdirAll(filepath.Dir(filename), 0700); chk.E(err) {
		return
	}
	if err = os.WriteFile(filename, b, 0600); chk.E(err) {
		return
	}
	return
}

func (c *Config) Load(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot load into nil config")
		chk.E(err)
		return
	}
	var b []byte
	if b, err = os.ReadFile(filename); err != nil {
		return
	}
	if err = json.Unmarshal(b, c); chk.E(err) {
		return
	}
	return
}
