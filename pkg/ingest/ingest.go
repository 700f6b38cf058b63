// Package ingest turns the notifications of the relay connections into
// batched writes: events are coalesced in a holder and every released batch
// is written with one transaction per store family and chunk of MaxTxn
// events.
package ingest

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/experience"
	"github.com/Hubmakerlabs/localstr/pkg/follows"
	"github.com/Hubmakerlabs/localstr/pkg/holder"
	"github.com/Hubmakerlabs/localstr/pkg/keys/urlhash"
	"github.com/Hubmakerlabs/localstr/pkg/qu"
	"github.com/Hubmakerlabs/localstr/pkg/relays"
	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/stamp"
	"github.com/Hubmakerlabs/localstr/pkg/store"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/exp/slices"
)

var log, chk = slog.New(os.Stderr)

const (
	DefaultHold = 250 * time.Millisecond
	// DefaultMaxTxn is how many events one transaction writes at most.
	DefaultMaxTxn = 1024
)

// State is a relay connection state change.
type State int

const (
	None State = iota
	Connecting
	Connected
	EOSE
	Disconnected
	Failed
)

var stateNames = []string{"none", "connecting", "connected", "eose",
	"disconnected", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Notification is one message from a relay connection, either an event
// received on a subscription or a change of connection state.
type Notification struct {
	SubID string
	Relay string
	Event *nostr.Event
	State State
}

// Result counts what one flush did.
type Result struct {
	Events     int
	Profiles   int
	Follows    int
	RelayLists int
	Skipped    int
	States     int
	// Delta is the change in the relay directory, to be applied to the set
	// of open connections.
	Delta relays.Delta
}

type Pipeline struct {
	x *experience.Experience
	h *holder.Holder[Notification]
	// OnDelta is called after a flush changed the relay directory.
	OnDelta func(relays.Delta)
	// OnFlush is called after every flush.
	OnFlush func(Result, error)
	// MaxTxn bounds the events written per transaction. A chunk that is
	// still more than badger can hold is halved until it fits.
	MaxTxn int
	done   qu.C
}

// New creates a pipeline writing to x, releasing batches at most once per
// hold.
func New(x *experience.Experience, hold time.Duration) *Pipeline {
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Pipeline{
		x:      x,
		h:      holder.New[Notification](hold),
		MaxTxn: DefaultMaxTxn,
		done:   qu.T(),
	}
}

// Push queues notifications. It returns false once the pipeline is
// finishing.
func (p *Pipeline) Push(ns ...Notification) bool { return p.h.Append(ns...) }

// PushEvent queues an event received on subID from relay.
func (p *Pipeline) PushEvent(subID, relay string, ev *nostr.Event) bool {
	return p.h.Append(Notification{SubID: subID, Relay: relay, Event: ev})
}

// Pending is the number of queued notifications.
func (p *Pipeline) Pending() int { return p.h.Pending() }

// Finish stops accepting notifications. Run writes what is queued and
// returns.
func (p *Pipeline) Finish() { p.h.Finish() }

// Done is closed when Run has returned.
func (p *Pipeline) Done() <-chan struct{} { return p.done.Wait() }

// Run writes released batches until Finish is called or ctx is cancelled.
// Either way the queue is drained before it returns.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.done.Q()
	go p.h.Run(ctx)
	for {
		batch, ok := p.h.Next(ctx)
		if !ok {
			break
		}
		p.flush(batch)
	}
	p.h.Finish()
	for {
		batch, ok := p.h.Next(context.Background())
		if !ok {
			break
		}
		p.flush(batch)
	}
	log.D.Ln("ingest pipeline stopped")
}

func (p *Pipeline) flush(batch []Notification) {
	r, err := p.Flush(batch)
	chk.E(err)
	if p.OnFlush != nil {
		p.OnFlush(r, err)
	}
}

// fatal errors abort a family transaction, anything else only rejects the
// event that caused it.
func fatal(err error) bool {
	return errors.Is(err, store.ErrStoreFull) ||
		errors.Is(err, store.ErrTxnTooBig) ||
		errors.Is(err, store.ErrClosed) ||
		errors.Is(err, store.ErrBadTxn) ||
		errors.Is(err, store.ErrReadOnly)
}

// Flush writes one batch. The events family, the social family and the
// relay directory are each written in transactions of at most MaxTxn
// events. An event that conflicts with stored data is skipped, a full store
// is grown once if its configuration allows it.
func (p *Pipeline) Flush(batch []Notification) (r Result, err error) {
	var evs []*nostr.Event
	seen := make(map[string]struct{}, len(batch))
	for _, n := range batch {
		if n.Event == nil {
			r.States++
			log.D.F("%s %s: %s", n.Relay, n.SubID, n.State)
			continue
		}
		if _, dup := seen[n.Event.ID]; dup {
			continue
		}
		seen[n.Event.ID] = struct{}{}
		evs = append(evs, n.Event)
	}
	if len(evs) == 0 {
		return
	}
	social := append(latest(evs, nostr.KindProfileMetadata),
		latest(evs, nostr.KindContactList)...)
	lists := append(latest(evs, nostr.KindContactList),
		latest(evs, nostr.KindRelayListMetadata)...)
	slices.SortStableFunc(lists, func(a, b *nostr.Event) int {
		return int(a.CreatedAt - b.CreatedAt)
	})
	err = errors.Join(
		p.chunked(evs, func(evs []*nostr.Event) error {
			return p.writeEvents(evs, &r)
		}),
		p.chunked(social, func(evs []*nostr.Event) error {
			return p.writeSocial(evs, &r)
		}),
		p.chunked(lists, func(evs []*nostr.Event) error {
			return p.writeRelays(evs, &r)
		}),
	)
	log.D.F("flushed %d notifications: %d events %d profiles %d follow "+
		"lists %d relay lists %d skipped", len(batch), r.Events, r.Profiles,
		r.Follows, r.RelayLists, r.Skipped)
	if !r.Delta.Empty() && p.OnDelta != nil {
		p.OnDelta(r.Delta)
	}
	return
}

// update runs fn in a write transaction of st, growing st and running fn
// again if it fails with store.ErrStoreFull.
func update(st *store.Store, fn func(tx *store.Txn) error) (err error) {
	if err = st.Update(fn); !errors.Is(err, store.ErrStoreFull) {
		return
	}
	var limit int64
	if limit, err = st.Grow(); err != nil {
		log.W.F("store %s is full and cannot grow", st.Name)
		return store.ErrStoreFull
	}
	log.D.F("retrying write to %s with limit %d", st.Name, limit)
	return st.Update(fn)
}

// chunked runs write over evs in slices of at most MaxTxn.
func (p *Pipeline) chunked(evs []*nostr.Event,
	write func([]*nostr.Event) error) error {

	size := p.MaxTxn
	if size <= 0 {
		size = DefaultMaxTxn
	}
	var errs []error
	for len(evs) > 0 {
		n := min(size, len(evs))
		errs = append(errs, split(evs[:n], write))
		evs = evs[n:]
	}
	return errors.Join(errs...)
}

// split runs write over evs, halving evs while it is more than one
// transaction can hold. A single event that is still too big fails.
func split(evs []*nostr.Event, write func([]*nostr.Event) error) error {
	err := write(evs)
	if !errors.Is(err, store.ErrTxnTooBig) || len(evs) < 2 {
		return err
	}
	log.D.F("%d events are too many for one transaction, splitting",
		len(evs))
	half := len(evs) / 2
	return errors.Join(split(evs[:half], write), split(evs[half:], write))
}

func (p *Pipeline) writeEvents(evs []*nostr.Event, r *Result) error {
	var written, skipped int
	err := update(p.x.Events.DB(), func(tx *store.Txn) (err error) {
		written, skipped = 0, 0
		for _, ev := range evs {
			if err = p.x.Events.WriteEvents([]*nostr.Event{ev},
				tx); err != nil {
				if fatal(err) {
					return
				}
				log.D.F("skipping event %s: %v", ev.ID, err)
				skipped++
				continue
			}
			written++
		}
		return nil
	})
	if err == nil {
		r.Events += written
		r.Skipped += skipped
	}
	return err
}

// latest keeps the newest event of each author among those of kind.
func latest(evs []*nostr.Event, kind int) (out []*nostr.Event) {
	byAuthor := make(map[string]*nostr.Event)
	for _, ev := range evs {
		if ev.Kind != kind {
			continue
		}
		if prev, ok := byAuthor[ev.PubKey]; ok && prev.CreatedAt >= ev.CreatedAt {
			continue
		}
		byAuthor[ev.PubKey] = ev
	}
	for _, ev := range byAuthor {
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b *nostr.Event) int {
		if a.CreatedAt != b.CreatedAt {
			return int(a.CreatedAt - b.CreatedAt)
		}
		if a.PubKey < b.PubKey {
			return -1
		}
		return 1
	})
	return
}

// writeSocial writes the newest profiles and contact lists of each author.
func (p *Pipeline) writeSocial(evs []*nostr.Event, r *Result) error {
	var profs, fols, skipped int
	var touched []string
	err := update(p.x.Profiles.DB(), func(tx *store.Txn) (err error) {
		profs, fols, skipped, touched = 0, 0, 0, nil
		for _, ev := range evs {
			if ev.Kind != nostr.KindProfileMetadata {
				continue
			}
			if err = p.x.Profiles.SetFromEvent(ev, tx); err != nil {
				if fatal(err) {
					return
				}
				log.D.F("skipping profile %s: %v", ev.ID, err)
				skipped++
				continue
			}
			touched = append(touched, ev.PubKey)
			profs++
		}
		for _, ev := range evs {
			if ev.Kind != nostr.KindContactList {
				continue
			}
			var followees []string
			if followees, err = follows.ParseContacts(ev); err == nil {
				err = p.x.Follows.Set(ev.PubKey, followees, tx)
			}
			if err != nil {
				if fatal(err) {
					return
				}
				log.D.F("skipping contact list %s: %v", ev.ID, err)
				skipped++
				continue
			}
			fols++
		}
		return nil
	})
	// the cache may have been filled from inside the transaction
	p.x.Profiles.Invalidate(touched...)
	if err == nil {
		r.Profiles += profs
		r.Follows += fols
		r.Skipped += skipped
	}
	return err
}

// writeRelays applies relay lists, oldest first.
func (p *Pipeline) writeRelays(lists []*nostr.Event, r *Result) error {
	var delta relays.Delta
	var n, skipped int
	err := update(p.x.Relays.DB(), func(tx *store.Txn) (err error) {
		delta, n, skipped = relays.Delta{}, 0, 0
		for _, ev := range lists {
			var urls []string
			if urls, err = relays.ParseRelayList(ev); err != nil {
				log.D.F("skipping relay list %s: %v", ev.ID, err)
				skipped++
				continue
			}
			// contact lists that carry no relays are not relay lists
			if ev.Kind == nostr.KindContactList && len(urls) == 0 {
				continue
			}
			var d relays.Delta
			if d, err = p.x.Relays.SetRelays(urls, ev.PubKey,
				stamp.FromUnix(int64(ev.CreatedAt)), tx); err != nil {
				if fatal(err) {
					return
				}
				log.D.F("skipping relay list %s: %v", ev.ID, err)
				skipped++
				continue
			}
			delta.Merge(d)
			n++
		}
		return nil
	})
	if err == nil {
		r.RelayLists += n
		r.Skipped += skipped
		r.Delta.Merge(delta)
	}
	return err
}

// StoreFetched caches an asset fetched from url.
func (p *Pipeline) StoreFetched(url string, data []byte,
	contentType string) error {

	return p.x.Assets.StoreAsset(data, contentType, urlhash.New(url))
}
