package main

import (
	"errors"
	"fmt"

	"github.com/Hubmakerlabs/localstr/pkg/experience"
	"github.com/Hubmakerlabs/localstr/pkg/profiles"
	"github.com/nbd-wtf/go-nostr"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slices"
)

func doEvents(cCtx *cli.Context, x *experience.Experience) (err error) {
	if id := cCtx.String("id"); id != "" {
		var ev *nostr.Event
		if ev, err = x.Events.GetEvent(id); err != nil {
			return
		}
		if ev == nil {
			return fmt.Errorf("event %s not found", id)
		}
		return printJSON(ev)
	}
	var evs []*nostr.Event
	if k := cCtx.Int("kind"); k >= 0 {
		evs, err = x.Events.GetEventsOfKind(k, cCtx.Int("n"))
	} else {
		evs, err = x.Events.GetEvents(cCtx.Int("n"))
	}
	if err != nil {
		return
	}
	for _, ev := range evs {
		fmt.Println(ev.String())
	}
	return
}

func doProfile(cCtx *cli.Context, x *experience.Experience) (err error) {
	if cCtx.NArg() != 1 {
		return errors.New("profile takes one key")
	}
	var pk string
	if pk, err = hexKey(cCtx.Args().First()); err != nil {
		return
	}
	var p *profiles.Profile
	if p, err = x.Profiles.Get(pk); err != nil {
		return
	}
	if p == nil {
		return fmt.Errorf("no profile for %s", pk)
	}
	fmt.Println(p.Npub())
	return printJSON(p)
}

func doFollows(cCtx *cli.Context, x *experience.Experience) (err error) {
	var pks []string
	for _, a := range cCtx.Args().Slice() {
		var pk string
		if pk, err = hexKey(a); err != nil {
			return
		}
		pks = append(pks, pk)
	}
	if len(pks) == 0 {
		return errors.New("follows takes at least one key")
	}
	var friends map[string][]string
	if friends, err = x.Follows.GetFriends(pks); err != nil {
		return
	}
	for _, pk := range pks {
		fmt.Printf("%s follows %d\n", pk, len(friends[pk]))
		var names map[string]*profiles.Profile
		if cCtx.Bool("names") {
			if names, err = x.Profiles.GetMany(friends[pk]); err != nil {
				return
			}
		}
		for _, f := range friends[pk] {
			if p := names[f]; p != nil {
				fmt.Printf("  %s %s\n", f, p.ShortName())
				continue
			}
			fmt.Printf("  %s\n", f)
		}
	}
	return
}

func doRelays(cCtx *cli.Context, x *experience.Experience) (err error) {
	var urls []string
	if cCtx.NArg() > 0 {
		var pk string
		if pk, err = hexKey(cCtx.Args().First()); err != nil {
			return
		}
		urls, err = x.Relays.GetRelays(pk)
	} else {
		urls, err = x.Relays.All()
	}
	if err != nil {
		return
	}
	for _, u := range urls {
		if !cCtx.Bool("owners") {
			fmt.Println(u)
			continue
		}
		var owners []string
		if owners, err = x.Relays.Owners(u); err != nil {
			return
		}
		fmt.Printf("%s %d owners\n", u, len(owners))
	}
	return
}

func doAssetStats(_ *cli.Context, x *experience.Experience) (err error) {
	s, err := x.Assets.Stats()
	if err != nil {
		return
	}
	fmt.Printf("assets %d\nused %d of %d bytes\n", s.Assets, s.Used, s.Limit)
	return
}

func doAssetEvict(cCtx *cli.Context, x *experience.Experience) (err error) {
	removed, err := x.Assets.RemoveLeastPopular(cCtx.Float64("fraction"), nil)
	if err != nil {
		return
	}
	for _, h := range removed {
		fmt.Println(h)
	}
	fmt.Printf("evicted %d assets\n", len(removed))
	return
}

func doStats(_ *cli.Context, x *experience.Experience) (err error) {
	st := x.Stats()
	names := make([]string, 0, len(st))
	for n := range st {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		fmt.Printf("%-8s %12d / %12d bytes, %d databases\n", n, st[n].Used,
			st[n].Limit, st[n].DBs)
	}
	return
}
