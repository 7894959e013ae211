// Package ratelimit provides per-key token-bucket limiting for the engine's
// like/nudge mutations. Keys are caller→target pairs, so one user hammering
// one target is throttled without affecting anyone else.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore maintains per-key rate limiters and performs periodic cleanup
// of keys that have gone quiet.
type LimiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[string]*clientEntry
	cleanupInterval time.Duration
	stopCh          chan struct{}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a store allowing limitPerMinute events per minute
// per key, with the given burst capacity.
func NewLimiterStore(limitPerMinute, burst int, cleanupInterval time.Duration) *LimiterStore {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	s := &LimiterStore{
		limit:           rate.Every(time.Minute / time.Duration(limitPerMinute)),
		burst:           burst,
		clients:         map[string]*clientEntry{},
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			s.mu.Lock()
			for k, v := range s.clients {
				if v.lastSeen.Before(cutoff) {
					delete(s.clients, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops internal goroutines (useful for tests).
func (s *LimiterStore) Stop() {
	close(s.stopCh)
}

func (s *LimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.clients[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Allow checks whether an event for the given key is permitted.
func (s *LimiterStore) Allow(key string) bool {
	return s.getLimiter(key).Allow()
}

// AllowPair checks whether an event from caller against target is permitted.
func (s *LimiterStore) AllowPair(caller, target string) bool {
	return s.Allow(PairKey(caller, target))
}

// PairKey builds the limiter key for a caller→target pair.
func PairKey(caller, target string) string {
	return fmt.Sprintf("%s->%s", caller, target)
}
