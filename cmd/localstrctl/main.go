package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Hubmakerlabs/localstr/pkg/config"
	"github.com/Hubmakerlabs/localstr/pkg/experience"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/urfave/cli/v2"
)

var log, chk = slog.New(os.Stderr)

const name = "localstrctl"

const version = "0.0.1"

// open loads the configuration of the data directory and opens its stores.
func open(cCtx *cli.Context) (x *experience.Experience, err error) {
	conf := config.Default()
	if d := cCtx.String("datadir"); d != "" {
		conf.DataDir = d
	}
	if err = conf.Load(conf.Path()); err != nil {
		log.D.F("no configuration in %s, using defaults: %v", conf.DataDir,
			err)
	}
	return experience.New(conf.DataDir, conf.Options())
}

// with runs fn on the opened stores and closes them.
func with(fn func(cCtx *cli.Context, x *experience.Experience) error) cli.ActionFunc {
	return func(cCtx *cli.Context) (err error) {
		if cCtx.Bool("V") {
			slog.SetLogLevel(slog.Debug)
		}
		var x *experience.Experience
		if x, err = open(cCtx); err != nil {
			return
		}
		defer func() { chk.E(x.Close()) }()
		return fn(cCtx, x)
	}
}

// hexKey accepts a hex public key or an npub.
func hexKey(s string) (string, error) {
	if !strings.HasPrefix(s, "npub1") {
		return s, nil
	}
	prefix, v, err := nip19.Decode(s)
	if err != nil {
		return "", err
	}
	pk, ok := v.(string)
	if prefix != "npub" || !ok {
		return "", fmt.Errorf("%s is not an npub", s)
	}
	return pk, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:    name,
		Usage:   "inspect a local working set",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Aliases: []string{"d"},
				Value: config.DefaultDataDir(), Usage: "data directory"},
			&cli.BoolFlag{Name: "V", Usage: "verbose"},
		},
		Commands: []*cli.Command{
			{
				Name:  "events",
				Usage: "list stored events, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 20, Usage: "number of events"},
					&cli.IntFlag{Name: "kind", Value: -1, Usage: "only events of this kind"},
					&cli.StringFlag{Name: "id", Usage: "show one event"},
				},
				Action: with(doEvents),
			},
			{
				Name:      "profile",
				Usage:     "show the stored profile of a key",
				ArgsUsage: "[pubkey|npub]",
				Action:    with(doProfile),
			},
			{
				Name:      "follows",
				Usage:     "list the keys a key follows",
				ArgsUsage: "[pubkey|npub]...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "names", Usage: "show profile names"},
				},
				Action: with(doFollows),
			},
			{
				Name:      "relays",
				Usage:     "list the relays of a key, or every known relay",
				ArgsUsage: "[pubkey|npub]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "owners", Usage: "show the owners of each relay"},
				},
				Action: with(doRelays),
			},
			{
				Name:  "assets",
				Usage: "asset cache",
				Subcommands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "show cache usage",
						Action: with(doAssetStats),
					},
					{
						Name:  "evict",
						Usage: "evict the least popular assets",
						Flags: []cli.Flag{
							&cli.Float64Flag{Name: "fraction", Value: 0.25,
								Usage: "share of eligible assets to evict"},
						},
						Action: with(doAssetEvict),
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "show store usage",
				Action: with(doStats),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
