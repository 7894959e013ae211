package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/normalize"
	"github.com/studykit/groupsync/internal/ratelimit"
	"github.com/studykit/groupsync/internal/session"
	"github.com/studykit/groupsync/internal/store"
)

// LeaderboardEntry is one derived ranking row. Entries are recomputed in
// full on every relevant change and never patched piecemeal, so a username
// and its trophies always come from the same derivation.
type LeaderboardEntry struct {
	UID            string
	Username       string
	MinutesStudied float64
	Likes          int64
	Nudges         int64
	TrophyGlyphs   []string
}

// StudyTime renders the entry's studied time in canonical HH:MM:SS form.
func (e LeaderboardEntry) StudyTime() string {
	return FormatHMS(e.MinutesStudied)
}

// GroupTotals carries the group-wide aggregates from the sentinel rows.
type GroupTotals struct {
	MinutesStudied float64
	Coins          int64
}

// Aggregator derives the enriched, sorted leaderboard from the raw
// statistics collection and exposes the like/nudge mutations.
type Aggregator struct {
	store   store.Client
	session *session.Context
	names   *NameResolver
	catalog TrophyCatalog
	limiter *ratelimit.LimiterStore
	log     *zap.Logger

	// gen numbers derivations so a slow one that finishes after a newer
	// notification has started is discarded, never emitted. emitMu holds the
	// generation check and the emit together; checked-then-preempted stale
	// derivations must not slip out after a newer one has been delivered.
	gen    atomic.Uint64
	emitMu sync.Mutex
}

// NewAggregator wires an aggregator. limiter may be nil to disable reaction
// rate limiting.
func NewAggregator(st store.Client, sess *session.Context, names *NameResolver, catalog TrophyCatalog, limiter *ratelimit.LimiterStore, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if catalog == nil {
		catalog = DefaultTrophyCatalog()
	}
	return &Aggregator{store: st, session: sess, names: names, catalog: catalog, limiter: limiter, log: log}
}

// Subscribe establishes the live statistics feed. Every notification
// triggers a full re-derivation — join, sort, totals — and the whole
// ordered sequence is emitted atomically, never a partial list.
func (a *Aggregator) Subscribe(fn func(entries []LeaderboardEntry, totals GroupTotals)) (store.CancelFunc, error) {
	return a.store.SubscribeCollection(collStatistics, func(docs []store.Document) {
		gen := a.gen.Add(1)
		entries, totals := a.derive(context.Background(), docs)
		a.emitIfCurrent(gen, fn, entries, totals)
	})
}

// emitIfCurrent delivers a completed derivation unless a newer notification
// has already begun its own (last-notification-wins). Check and emit happen
// under one lock: once a derivation has been delivered, no older generation
// can pass the check afterwards.
func (a *Aggregator) emitIfCurrent(gen uint64, fn func([]LeaderboardEntry, GroupTotals), entries []LeaderboardEntry, totals GroupTotals) bool {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if a.gen.Load() != gen {
		a.log.Debug("discarding stale leaderboard derivation", zap.Uint64("generation", gen))
		return false
	}
	fn(entries, totals)
	return true
}

// derive recomputes the full joined view from a statistics snapshot. The
// sentinel row is folded into the totals and excluded from the ranking;
// every other row is joined with its profile and trophy lookups, with
// per-row fallbacks so one failed lookup never aborts the derivation.
func (a *Aggregator) derive(ctx context.Context, docs []store.Document) ([]LeaderboardEntry, GroupTotals) {
	var totals GroupTotals
	entries := make([]LeaderboardEntry, 0, len(docs))

	for _, d := range docs {
		minutes, err := StudyMinutes(d.Fields["totalTimeStudied"])
		if err != nil {
			a.log.Warn("unreadable study time, counting zero",
				zap.String("uid", d.ID), zap.Error(err))
			minutes = 0
		}

		if d.ID == sentinelID {
			totals.MinutesStudied = minutes
			continue
		}

		likes, _ := d.Int64("likes")
		nudges, _ := d.Int64("nudges")
		entries = append(entries, LeaderboardEntry{
			UID:            d.ID,
			Username:       a.names.Resolve(ctx, d.ID),
			MinutesStudied: minutes,
			Likes:          likes,
			Nudges:         nudges,
			TrophyGlyphs:   a.trophiesFor(ctx, d.ID),
		})
	}

	totals.Coins = a.groupCoins(ctx)

	// Stable: ties keep their snapshot order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].MinutesStudied > entries[j].MinutesStudied
	})
	return entries, totals
}

// trophiesFor resolves a user's award set to glyphs; absence or a failed
// lookup is an empty sequence.
func (a *Aggregator) trophiesFor(ctx context.Context, uid string) []string {
	doc, ok, err := a.store.GetDocument(ctx, collTrophies, uid)
	if err != nil {
		a.log.Warn("trophy lookup failed, showing none",
			zap.String("uid", uid), zap.Error(err))
		return []string{}
	}
	if !ok {
		return []string{}
	}
	ids, _ := doc.Strings("items")
	return a.catalog.Glyphs(ids)
}

// groupCoins point-reads the shared coin total; the document is read-only
// for this engine and defaults to zero while absent.
func (a *Aggregator) groupCoins(ctx context.Context) int64 {
	doc, ok, err := a.store.GetDocument(ctx, collCoins, sentinelID)
	if err != nil {
		a.log.Warn("coin total lookup failed, showing zero", zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	coins, _ := doc.Int64("coins")
	return coins
}

// Like increments the target's like counter by one.
func (a *Aggregator) Like(ctx context.Context, targetUID string) error {
	return a.react(ctx, targetUID, "likes")
}

// Nudge increments the target's nudge counter by one.
func (a *Aggregator) Nudge(ctx context.Context, targetUID string) error {
	return a.react(ctx, targetUID, "nudges")
}

// react issues a pure, unconditional counter increment. No read precedes the
// write, so concurrent reactions from any number of callers accumulate
// correctly regardless of interleaving. Self-targeting, the sentinel row,
// and over-limit callers are rejected locally with zero remote writes.
func (a *Aggregator) react(ctx context.Context, targetUID, field string) error {
	user, ok := a.session.CurrentUser()
	if !ok {
		return ErrNotAuthenticated
	}
	target := normalize.UID(targetUID)
	if target == "" || target == sentinelID {
		return ErrInvalidTarget
	}
	if target == user.UID {
		return ErrSelfTarget
	}
	if a.limiter != nil && !a.limiter.AllowPair(user.UID, target) {
		return ErrRateLimited
	}

	if err := a.store.IncrementField(ctx, collStatistics, target, field, 1); err != nil {
		return fmt.Errorf("%s %s: %w", field, target, err)
	}
	return nil
}
