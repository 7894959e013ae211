// Package engine is the realtime synchronization core: it subscribes to the
// shared remote collections, merges their change notifications into
// consistent local views (chat stream, leaderboard, group settings), and
// issues the optimistic, idempotent mutations the UI exposes.
package engine

import "errors"

// Collection and document names of the shared store. The set is fixed; the
// engine is not a general pub/sub broker.
const (
	collMessages   = "globalChat"
	collStatistics = "statistics"
	collUsers      = "users"
	collTrophies   = "trophies"
	collSettings   = "settings"
	collCoins      = "coins"

	// sentinelID is the reserved document id holding group-aggregate
	// totals ("statistics/default", "coins/default") and the shared
	// settings document. The statistics sentinel row never ranks.
	sentinelID = "default"
)

// Validation failures are rejected locally, before any remote call; missing
// remote documents are fallbacks, never errors. Anything else that reaches
// the caller wraps the underlying transport error.
var (
	ErrEmptyMessage     = errors.New("message body is empty")
	ErrNotAuthenticated = errors.New("no signed-in user")
	ErrSelfTarget       = errors.New("cannot react to your own entry")
	ErrInvalidTarget    = errors.New("reaction target is not a user")
	ErrRateLimited      = errors.New("reaction rate limit exceeded")
	ErrUnknownSetting   = errors.New("unknown settings key")
	ErrEmptyUsername    = errors.New("username is empty")
)
