// Package poller runs the outer loop: once per cycle it fans one task per
// eligible user across a bounded worker pool, and inside each task fetches
// both platforms concurrently, filters, resolves conflicts, and races to
// reserve. One user's failure never touches another user's task or the next
// cycle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/offer-sniper/internal/cache"
	"github.com/example/offer-sniper/internal/dispatch"
	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
	"github.com/example/offer-sniper/internal/domain/user"
	"github.com/example/offer-sniper/internal/endtime"
	"github.com/example/offer-sniper/internal/filter"
	"github.com/example/offer-sniper/internal/notify"
	"github.com/example/offer-sniper/internal/platform"
	"github.com/example/offer-sniper/internal/token"
)

// Store is the slice of the persistence collaborator the poller reads.
type Store interface {
	GetActiveUsers(ctx context.Context) ([]user.User, error)
	GetPolicy(ctx context.Context, userID string) (policy.UserPolicy, error)
	GetEndtimeFormulas(ctx context.Context, userID string) ([]policy.EndtimeFormula, error)
	GetBookedSlots(ctx context.Context, userID string) ([]policy.BookedSlot, error)
	GetBlockedDays(ctx context.Context, userID string) ([]policy.BlockedDay, error)
	GetCredentials(ctx context.Context, userID string, p offer.Platform) (user.Credentials, error)
	LogDecision(ctx context.Context, userID string, o offer.Offer, status offer.DecisionStatus, reason, explanation string) error
	GetOrCreateOfferMessageKey(ctx context.Context, userID string, p offer.Platform, offerID string) (string, error)
}

type Notifier interface {
	Enqueue(userID string, kind notify.Kind, text, actionRef string)
}

// Clients is one worker's private pair of platform adapters; workers never
// share transport state.
type Clients struct {
	DriverApp platform.Client
	Portal    platform.Client
}

func (c Clients) byPlatform() map[offer.Platform]platform.Client {
	return map[offer.Platform]platform.Client{
		offer.PlatformDriverApp: c.DriverApp,
		offer.PlatformPortal:    c.Portal,
	}
}

type Options struct {
	Interval       time.Duration
	PollTimeout    time.Duration
	ReserveTimeout time.Duration
	Workers        int
	FastMode       bool
}

type Poller struct {
	store      Store
	tokens     *token.Manager
	cache      *cache.Service
	notifier   Notifier
	newClients func() Clients
	opts       Options

	mu     sync.Mutex
	warned map[string]time.Time

	now func() time.Time
	log *slog.Logger
}

func New(st Store, tokens *token.Manager, cacheSvc *cache.Service, notifier Notifier, newClients func() Clients, opts Options) *Poller {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 15 * time.Second
	}
	return &Poller{
		store:      st,
		tokens:     tokens,
		cache:      cacheSvc,
		notifier:   notifier,
		newClients: newClients,
		opts:       opts,
		warned:     make(map[string]time.Time),
		now:        time.Now,
		log:        slog.With("component", "poller"),
	}
}

// Run loops until the context is canceled, then drains in-flight tasks so no
// claim is abandoned mid-call.
func (p *Poller) Run(ctx context.Context) error {
	hk := cron.New()
	if _, err := hk.AddFunc("@daily", func() { p.cache.SweepAccepted(24 * time.Hour) }); err != nil {
		return fmt.Errorf("housekeeping schedule: %w", err)
	}
	if _, err := hk.AddFunc("@every 1m", func() { p.cache.SweepRejected(time.Minute) }); err != nil {
		return fmt.Errorf("housekeeping schedule: %w", err)
	}
	hk.Start()
	defer hk.Stop()

	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()

	p.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle fans out one task per eligible user across the bounded pool and
// waits for all of them. Exported so tests and the CLI can run one cycle.
func (p *Poller) Cycle(ctx context.Context) {
	users, err := p.store.GetActiveUsers(ctx)
	if err != nil {
		// Configuration unreadable: this cycle is lost, the loop is not.
		p.log.Error("cycle aborted: cannot list users", "error", err)
		return
	}
	if len(users) == 0 {
		return
	}

	tasks := make(chan user.User)
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		cl := p.newClients()
		d := dispatch.New(cl.byPlatform(), p.tokens)
		d.Verbose = !p.opts.FastMode
		if p.opts.ReserveTimeout > 0 {
			d.ReserveTimeout = p.opts.ReserveTimeout
		}
		go func() {
			defer wg.Done()
			for u := range tasks {
				p.runUser(ctx, u, cl, d)
			}
		}()
	}
	for _, u := range users {
		if !u.Eligible() {
			continue
		}
		tasks <- u
	}
	close(tasks)
	wg.Wait()
}

// runUser executes one user's cycle. Panics and errors are contained here.
func (p *Poller) runUser(ctx context.Context, u user.User, cl Clients, d *dispatch.Dispatcher) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("user task panicked", "user", u.ID, "panic", r)
		}
	}()

	snap, ok := p.snapshot(ctx, u.ID)
	if !ok {
		return
	}

	creds := p.loadCredentials(ctx, u.ID)
	if len(creds) == 0 {
		if p.tokens.AllowIdentityProbe(u.ID) {
			p.log.Info("no platform credentials; identity resolution pending", "user", u.ID)
		}
		return
	}

	offers, intervals := p.fetchAll(ctx, u.ID, cl, creds)
	p.cache.PutIntervals(u.ID, intervals)

	committed := intervals
	for _, o := range offers {
		p.processOffer(ctx, u, snap, cl, d, creds, o, &committed)
	}
}

// snapshot returns the user's policy bundle, via the TTL cache.
func (p *Poller) snapshot(ctx context.Context, userID string) (cache.Snapshot, bool) {
	if snap, ok := p.cache.GetSnapshot(userID, -1); ok {
		return snap, true
	}
	pol, err := p.store.GetPolicy(ctx, userID)
	if err != nil {
		p.log.Warn("cannot read policy", "user", userID, "error", err)
		return cache.Snapshot{}, false
	}
	snap := cache.Snapshot{Policy: pol}
	if snap.Formulas, err = p.store.GetEndtimeFormulas(ctx, userID); err != nil {
		p.log.Warn("cannot read endtime formulas", "user", userID, "error", err)
	}
	if snap.BookedSlots, err = p.store.GetBookedSlots(ctx, userID); err != nil {
		p.log.Warn("cannot read booked slots", "user", userID, "error", err)
	}
	if snap.BlockedDays, err = p.store.GetBlockedDays(ctx, userID); err != nil {
		p.log.Warn("cannot read blocked days", "user", userID, "error", err)
	}
	p.cache.PutSnapshot(userID, snap)
	return snap, true
}

// loadCredentials returns the usable per-platform credentials, proactively
// refreshed. A platform with no stored credentials is simply absent.
func (p *Poller) loadCredentials(ctx context.Context, userID string) map[offer.Platform]user.Credentials {
	out := make(map[offer.Platform]user.Credentials, 2)
	var impossible []offer.Platform
	for _, pf := range []offer.Platform{offer.PlatformDriverApp, offer.PlatformPortal} {
		c, err := p.store.GetCredentials(ctx, userID, pf)
		if err != nil {
			continue
		}
		fresh, err := p.tokens.EnsureFresh(ctx, c)
		if errors.Is(err, token.ErrNoRefreshMaterial) && p.tokens.NeedsRefresh(c) {
			impossible = append(impossible, pf)
			continue
		}
		// Other refresh failures fall back to the stale token; the next 401
		// drives the reactive path.
		out[pf] = fresh
	}
	if len(out) == 0 && len(impossible) > 0 {
		p.warnExpired(userID)
	}
	return out
}

// warnExpired raises the pinned session-expired warning, at most once per
// hour per user.
func (p *Poller) warnExpired(userID string) {
	p.mu.Lock()
	last, seen := p.warned[userID]
	if seen && p.now().Sub(last) < time.Hour {
		p.mu.Unlock()
		return
	}
	p.warned[userID] = p.now()
	p.mu.Unlock()
	p.notifier.Enqueue(userID, notify.KindNotAccepted,
		"Session expired on all platforms and cannot be renewed automatically. Please log in again.", "")
}

type fetchResult struct {
	pf     offer.Platform
	offers []offer.Offer
	rides  []offer.Ride
}

// fetchAll runs the per-platform offer and ride fetches through a width-2
// sub-pool and merges once all complete. A failed fetch contributes nothing;
// a failed ride fetch falls back to the cached interval set.
func (p *Poller) fetchAll(ctx context.Context, userID string, cl Clients, creds map[offer.Platform]user.Credentials) ([]offer.Offer, []policy.Interval) {
	clients := cl.byPlatform()

	type task struct {
		pf    offer.Platform
		rides bool
	}
	var tasks []task
	for _, pf := range []offer.Platform{offer.PlatformDriverApp, offer.PlatformPortal} {
		if _, ok := creds[pf]; ok {
			tasks = append(tasks, task{pf: pf, rides: false}, task{pf: pf, rides: true})
		}
	}

	var (
		mu         sync.Mutex
		offersByPf = map[offer.Platform][]offer.Offer{}
		rides      []offer.Ride
		ridesFail  bool
	)
	sem := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := context.WithTimeout(ctx, p.opts.PollTimeout)
			defer cancel()

			c := creds[t.pf]
			client := clients[t.pf]
			if t.rides {
				sc, rr, err := p.fetchRidesOnce(callCtx, client, c)
				mu.Lock()
				defer mu.Unlock()
				if err != nil || sc != platform.StatusOK {
					ridesFail = true
					return
				}
				rides = append(rides, rr...)
				return
			}
			sc, oo, err := p.fetchOffersOnce(callCtx, client, c)
			if err != nil || sc != platform.StatusOK {
				p.log.Warn("offer fetch failed", "user", userID, "platform", t.pf, "status", sc.String(), "error", err)
				return
			}
			mu.Lock()
			offersByPf[t.pf] = oo
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Upstream-delivery order, platform order stable.
	var offers []offer.Offer
	offers = append(offers, offersByPf[offer.PlatformDriverApp]...)
	offers = append(offers, offersByPf[offer.PlatformPortal]...)

	intervals := ridesToIntervals(rides)
	if ridesFail {
		if cached, ok := p.cache.GetIntervals(userID); ok {
			intervals = mergeIntervals(intervals, cached)
		}
	}
	return offers, intervals
}

// fetchOffersOnce fetches with at most one forced-refresh retry on 401.
func (p *Poller) fetchOffersOnce(ctx context.Context, client platform.Client, c user.Credentials) (platform.StatusClass, []offer.Offer, error) {
	sc, oo, err := client.FetchOffers(ctx, c)
	if sc != platform.StatusUnauthorized {
		return sc, oo, err
	}
	renewed, rerr := p.tokens.ForceRefresh(ctx, c)
	if rerr != nil {
		return sc, nil, nil
	}
	return client.FetchOffers(ctx, renewed)
}

func (p *Poller) fetchRidesOnce(ctx context.Context, client platform.Client, c user.Credentials) (platform.StatusClass, []offer.Ride, error) {
	sc, rr, err := client.FetchRides(ctx, c)
	if sc != platform.StatusUnauthorized {
		return sc, rr, err
	}
	renewed, rerr := p.tokens.ForceRefresh(ctx, c)
	if rerr != nil {
		return sc, nil, nil
	}
	return client.FetchRides(ctx, renewed)
}

func ridesToIntervals(rides []offer.Ride) []policy.Interval {
	out := make([]policy.Interval, 0, len(rides))
	for _, r := range rides {
		iv := policy.Interval{Start: r.PickupAt}
		if r.DurationMin > 0 {
			iv.End = r.PickupAt.Add(time.Duration(r.DurationMin) * time.Minute)
		}
		out = append(out, iv)
	}
	return out
}

func mergeIntervals(a, b []policy.Interval) []policy.Interval {
	seen := make(map[time.Time]bool, len(a))
	for _, iv := range a {
		seen[iv.Start] = true
	}
	out := a
	for _, iv := range b {
		if !seen[iv.Start] {
			out = append(out, iv)
		}
	}
	return out
}

// processOffer runs one offer through end-time derivation, the filter
// pipeline, and (on pass) the reservation dispatcher. committed grows
// in place so later offers in the same cycle see this one's interval.
func (p *Poller) processOffer(ctx context.Context, u user.User, snap cache.Snapshot, cl Clients, d *dispatch.Dispatcher, creds map[offer.Platform]user.Credentials, o offer.Offer, committed *[]policy.Interval) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("offer processing panicked", "user", u.ID, "offer", o.ExternalID, "panic", r)
		}
	}()

	version := snap.Policy.ConfigVersion
	if p.cache.SeenAccepted(o.ExternalID) || p.cache.SeenRejected(o.ExternalID) {
		return
	}
	if p.cache.IsSuppressed(u.ID, o.Platform, o.ExternalID, version) {
		return
	}

	o.EndsAt = endtime.Compute(o.Ride, snap.Formulas, snap.Policy.Loc())

	outcome := filter.Evaluate(filter.Input{
		Offer:       o,
		Policy:      snap.Policy,
		BookedSlots: snap.BookedSlots,
		BlockedDays: snap.BlockedDays,
		Committed:   *committed,
		Now:         p.now(),
	})

	if !outcome.Accepted {
		p.cache.MarkRejected(o.ExternalID)
		explanation := ""
		text := fmt.Sprintf("Rejected offer %s (%.2f %s): %s", o.ExternalID, o.Price, o.Currency, outcome.Reason)
		if d.Verbose {
			// Fast mode runs the dispatcher non-verbose, skipping the full
			// breakdown to keep the loop tight between fetch and the next
			// claim attempt.
			explanation = filter.Explain(outcome.Results)
			text += "\n" + explanation
		}
		if err := p.store.LogDecision(ctx, u.ID, o, offer.DecisionRejected, outcome.Reason, explanation); err != nil {
			p.log.Warn("decision log failed", "user", u.ID, "offer", o.ExternalID, "error", err)
		}
		p.notifier.Enqueue(u.ID, notify.KindRejected, text, "")
		return
	}

	c, ok := creds[o.Platform]
	if !ok {
		// Offer from a platform we cannot claim on; nothing to do.
		return
	}

	res := d.Reserve(ctx, c, o)
	if res.Refreshed.UserID != "" {
		creds[o.Platform] = res.Refreshed
	}

	explanation := filter.Explain(outcome.Results)
	actionRef, err := p.store.GetOrCreateOfferMessageKey(ctx, u.ID, o.Platform, o.ExternalID)
	if err != nil {
		p.log.Warn("message key failed", "user", u.ID, "offer", o.ExternalID, "error", err)
	}

	switch res.Decision.Status {
	case offer.DecisionAccepted:
		iv := policy.Interval{Start: o.Ride.PickupAt, End: o.EndsAt}
		*committed = append(*committed, iv)
		p.cache.AppendInterval(u.ID, iv)
		p.cache.MarkAccepted(o.ExternalID)
		go p.refreshIntervals(ctx, u.ID, cl, copyCreds(creds))

		if err := p.store.LogDecision(ctx, u.ID, o, offer.DecisionAccepted, res.Decision.Reason, explanation); err != nil {
			p.log.Warn("decision log failed", "user", u.ID, "offer", o.ExternalID, "error", err)
		}
		text := fmt.Sprintf("Accepted offer %s: %.2f %s, pickup %s\n%s",
			o.ExternalID, o.Price, o.Currency, o.Ride.PickupAt.Format(time.RFC3339), explanation)
		p.notifier.Enqueue(u.ID, notify.KindAccepted, text, actionRef)

	default:
		p.cache.Suppress(u.ID, o.Platform, o.ExternalID, version)
		if err := p.store.LogDecision(ctx, u.ID, o, offer.DecisionNotAccepted, res.Decision.Reason, explanation); err != nil {
			p.log.Warn("decision log failed", "user", u.ID, "offer", o.ExternalID, "error", err)
		}
		text := fmt.Sprintf("Could not claim offer %s (%.2f %s): %s",
			o.ExternalID, o.Price, o.Currency, res.Decision.Reason)
		p.notifier.Enqueue(u.ID, notify.KindNotAccepted, text, actionRef)
	}
}

func copyCreds(in map[offer.Platform]user.Credentials) map[offer.Platform]user.Credentials {
	out := make(map[offer.Platform]user.Credentials, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// refreshIntervals re-reads both platforms' committed rides after a
// successful claim. Best effort: a failure only risks a stale conflict check
// next cycle.
func (p *Poller) refreshIntervals(ctx context.Context, userID string, cl Clients, creds map[offer.Platform]user.Credentials) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("interval refresh panicked", "user", userID, "panic", r)
		}
	}()
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PollTimeout)
	defer cancel()

	clients := cl.byPlatform()
	var all []offer.Ride
	for pf, c := range creds {
		sc, rides, err := clients[pf].FetchRides(callCtx, c)
		if err != nil || sc != platform.StatusOK {
			return
		}
		all = append(all, rides...)
	}
	p.cache.PutIntervals(userID, ridesToIntervals(all))
}
