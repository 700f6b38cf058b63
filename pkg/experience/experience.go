// Package experience opens the store families of a local working set and
// binds the engines that live in them.
package experience

import (
	"errors"
	"os"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/assets"
	"github.com/Hubmakerlabs/localstr/pkg/events"
	"github.com/Hubmakerlabs/localstr/pkg/follows"
	"github.com/Hubmakerlabs/localstr/pkg/profiles"
	"github.com/Hubmakerlabs/localstr/pkg/relays"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/puzpuzpuz/xsync/v2"
)

var log, chk = slog.New(os.Stderr)

// Engine is a schema owning module. Config names the store family it lives
// in and Bind opens its sub-databases there.
type Engine interface {
	Config() store.Config
	Bind(st *store.Store) error
}

// Env is a directory of store families, each opened once and shared by the
// engines that name it.
type Env struct {
	Dir    string
	stores *xsync.MapOf[string, *store.Store]
}

func NewEnv(dir string) *Env {
	return &Env{Dir: dir, stores: xsync.NewMapOf[*store.Store]()}
}

// Open binds e to its store family, opening the family on first use.
func Open[E Engine](env *Env, e E) (E, error) {
	cfg := e.Config()
	var err error
	st, _ := env.stores.Compute(cfg.Name,
		func(old *store.Store, loaded bool) (*store.Store, bool) {
			if loaded {
				return old, false
			}
			var st *store.Store
			if st, err = store.Open(env.Dir, cfg); chk.E(err) {
				return nil, true
			}
			return st, false
		})
	if err != nil {
		return e, err
	}
	if err = e.Bind(st); chk.E(err) {
		return e, err
	}
	log.D.F("bound %T to %s", e, cfg.Name)
	return e, nil
}

// Store returns the open store family called name.
func (env *Env) Store(name string) (st *store.Store, ok bool) {
	return env.stores.Load(name)
}

// Stats reports every open family.
func (env *Env) Stats() (out map[string]store.Stat) {
	out = make(map[string]store.Stat)
	env.stores.Range(func(name string, st *store.Store) bool {
		out[name] = st.Stat()
		return true
	})
	return
}

// Close closes every family, returning the first error.
func (env *Env) Close() (err error) {
	env.stores.Range(func(name string, st *store.Store) bool {
		if e := st.Close(); chk.E(e) && err == nil {
			err = e
		}
		env.stores.Delete(name)
		return true
	})
	return
}

// Options sizes the families and tunes the engines.
type Options struct {
	Events, Social, Relays, Assets, Hits store.Config
	// ProfileCache is the number of decoded profiles kept in memory.
	ProfileCache int
	// EvictFraction is the share of eviction candidates removed when the
	// asset store is full.
	EvictFraction float64
	// EvictGrace exempts assets cached more recently from eviction.
	EvictGrace time.Duration
	// ReduceFraction is the share of each asset's oldest hits dropped when
	// the hit log is full.
	ReduceFraction float64
	Clock          stamp.Clock
}

func DefaultOptions() Options {
	return Options{
		Events:         events.DefaultConfig(),
		Social:         profiles.DefaultConfig(),
		Relays:         relays.DefaultConfig(),
		Assets:         assets.DefaultConfig(),
		Hits:           assets.HitsConfig(),
		ProfileCache:   profiles.DefaultCacheSize,
		EvictFraction:  assets.DefaultFraction,
		EvictGrace:     assets.DefaultGrace,
		ReduceFraction: 0.5,
	}
}

// Experience is the full local working set.
type Experience struct {
	*Env
	Events   *events.Store
	Profiles *profiles.Store
	Follows  *follows.Store
	Relays   *relays.Store
	Assets   *assets.Cache
	Hits     *assets.Popularity
}

// New opens every family under dir and binds all engines.
func New(dir string, o Options) (x *Experience, err error) {
	if err = os.MkdirAll(dir, 0700); chk.E(err) {
		return
	}
	x = &Experience{Env: NewEnv(dir)}
	defer func() {
		if err != nil {
			chk.E(x.Close())
			x = nil
		}
	}()
	if x.Events, err = Open(x.Env, events.New(o.Events)); err != nil {
		return
	}
	if x.Profiles, err = Open(x.Env,
		profiles.New(o.Social, o.ProfileCache)); err != nil {
		return
	}
	if x.Follows, err = Open(x.Env, follows.New(o.Social, o.Clock)); err != nil {
		return
	}
	if x.Relays, err = Open(x.Env, relays.New(o.Relays)); err != nil {
		return
	}
	if x.Hits, err = Open(x.Env, assets.NewPopularity(o.Hits,
		o.Clock)); err != nil {
		return
	}
	if o.ReduceFraction > 0 {
		x.Hits.ReduceFraction = o.ReduceFraction
	}
	if x.Assets, err = Open(x.Env, assets.NewCache(o.Assets, x.Hits,
		o.Clock)); err != nil {
		return
	}
	if o.EvictFraction > 0 {
		x.Assets.Fraction = o.EvictFraction
	}
	if o.EvictGrace > 0 {
		x.Assets.Grace = o.EvictGrace
	}
	return
}

// Close flushes buffered asset hits and closes the families.
func (x *Experience) Close() error {
	if x.Assets != nil && x.Assets.DB() != nil {
		x.Assets.FlushHits()
	}
	return x.Env.Close()
}

// Wipe empties every sub-database of every family.
func (x *Experience) Wipe() (err error) {
	if x.Assets != nil {
		x.Assets.FlushHits()
	}
	var errs []error
	x.stores.Range(func(name string, st *store.Store) bool {
		dbs := st.DBs()
		if e := st.Drop(dbs...); chk.E(e) {
			errs = append(errs, e)
			return true
		}
		log.I.F("wiped %d sub-databases of %s", len(dbs), name)
		return true
	})
	if x.Profiles != nil {
		x.Profiles.Clear()
	}
	return errors.Join(errs...)
}
