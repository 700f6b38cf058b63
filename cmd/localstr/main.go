package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/config"
	"github.com/Hubmakerlabs/localstr/pkg/experience"
	"github.com/Hubmakerlabs/localstr/pkg/ingest"
	"github.com/Hubmakerlabs/localstr/pkg/interrupt"
	"github.com/Hubmakerlabs/localstr/pkg/relays"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/alexflint/go-arg"
)

var (
	AppName = "localstr"
	Version = "v0.0.1"
)

var log, chk = slog.New(os.Stderr)

var args config.Config

func main() {
	arg.MustParse(&args)
	conf := config.Default()
	if args.DataDir != "" {
		conf.DataDir = args.DataDir
	}
	var err error
	if args.InitCfgCmd == nil {
		if err = conf.Load(conf.Path()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			log.E.F("failed to load configuration: '%s'", err)
			os.Exit(1)
		}
	}
	conf.Override(&args)
	var lvl int
	if lvl, err = conf.Level(); chk.E(err) {
		os.Exit(1)
	}
	slog.SetLogLevel(lvl)
	log.T.S(conf)
	if conf.InitCfgCmd != nil {
		if err = conf.Save(conf.Path()); chk.E(err) {
			log.E.F("failed to write configuration: '%s'", err)
			os.Exit(1)
		}
		log.I.Ln("wrote", conf.Path())
		return
	}
	log.I.F("%s %s using %s", AppName, Version, conf.DataDir)
	var x *experience.Experience
	if x, err = experience.New(conf.DataDir, conf.Options()); chk.E(err) {
		log.E.F("unable to open stores: '%s'", err)
		os.Exit(1)
	}
	defer func() { chk.E(x.Close()) }()
	switch {
	case conf.WipeCmd != nil:
		if err = x.Wipe(); chk.E(err) {
			os.Exit(1)
		}
		return
	case conf.ImportCmd != nil:
		p := ingest.New(x, conf.Hold)
		go p.Run(context.Background())
		n := Import(p, conf.ImportCmd)
		p.Finish()
		<-p.Done()
		log.I.Ln("imported", n, "events")
		return
	}
	serve(x, conf)
}

// serve keeps the stores open, flushing asset hits and reporting usage,
// until interrupted. Events piped to stdin are ingested as they arrive.
func serve(x *experience.Experience, conf *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	p := ingest.New(x, conf.Hold)
	p.OnDelta = func(d relays.Delta) {
		log.I.F("relays added %v removed %v", d.Added, d.Removed)
	}
	go p.Run(ctx)
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		go func() {
			n := importFrom(p, os.Stdin, "stdin", true)
			log.I.Ln("stdin closed after", n, "events")
		}()
	}
	interrupt.AddHandler(func() {
		cancel()
		<-p.Done()
	})
	hits := time.NewTicker(conf.Hold)
	defer hits.Stop()
	report := time.NewTicker(time.Minute)
	defer report.Stop()
	for {
		select {
		case <-interrupt.HandlersDone.Wait():
			return
		case <-hits.C:
			x.Assets.FlushHits()
		case <-report.C:
			for name, st := range x.Stats() {
				log.D.F("%s: %d of %d bytes in %d databases", name, st.Used,
					st.Limit, st.DBs)
			}
		}
	}
}
