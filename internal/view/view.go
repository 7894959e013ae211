// Package view composes the session, chat stream, leaderboard aggregator,
// settings synchronizer, and display-name resolver into the UI-facing state
// machine. It owns every subscription handle explicitly and releases all of
// them on Close; there is no ambient listener registry.
package view

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/engine"
	"github.com/studykit/groupsync/internal/ratelimit"
	"github.com/studykit/groupsync/internal/session"
	"github.com/studykit/groupsync/internal/store"
)

// Screen identifies which surface is active.
type Screen int

const (
	ScreenChat Screen = iota
	ScreenLeaderboard
	ScreenSettings
	ScreenProfile
)

// State is the read-only, always-current tuple handed to the presentation
// layer. Slices are shared snapshots; the presentation must not mutate them.
type State struct {
	Screen      Screen
	Messages    []engine.Message
	Leaderboard []engine.LeaderboardEntry
	Totals      engine.GroupTotals
	Settings    engine.GroupSettings
	DisplayName string
	SignedIn    bool
}

// ShowLeaderboard reports whether the leaderboard panel should be surfaced.
// The underlying subscription runs regardless; this filters display only.
func (s State) ShowLeaderboard() bool { return s.Settings.EnableLeaderboard }

// ShowGroupStats reports whether group-aggregate statistics should be
// surfaced.
func (s State) ShowGroupStats() bool { return s.Settings.EnableGroupStats }

// ShowSharedCoins reports whether the group coin total should be surfaced.
func (s State) ShowSharedCoins() bool { return s.Settings.EnableSharedCoins }

// ShowTrophies reports whether trophy glyphs should be surfaced on
// leaderboard entries.
func (s State) ShowTrophies() bool { return s.Settings.ShowTrophies }

// ViewModel is the cross-component contract: which screen is active, what
// each screen may read, and which actions it may invoke.
type ViewModel struct {
	mu     sync.RWMutex
	state  State
	closed bool

	sess   *session.Context
	stream *engine.StreamManager
	board  *engine.Aggregator
	sync   *engine.SettingsSync
	names  *engine.NameResolver
	log    *zap.Logger

	onUpdate func(State)

	cancels    []store.CancelFunc
	nameCancel store.CancelFunc
}

// New composes a view model over the given store backend and session.
// onUpdate, when non-nil, receives a state snapshot after every change;
// limiter may be nil to disable reaction rate limiting.
func New(st store.Client, sess *session.Context, limiter *ratelimit.LimiterStore, log *zap.Logger, onUpdate func(State)) (*ViewModel, error) {
	if log == nil {
		log = zap.NewNop()
	}

	names := engine.NewNameResolver(st, log)
	vm := &ViewModel{
		sess:     sess,
		stream:   engine.NewStreamManager(st, sess, names, log),
		board:    engine.NewAggregator(st, sess, names, nil, limiter, log),
		sync:     engine.NewSettingsSync(st),
		names:    names,
		log:      log,
		onUpdate: onUpdate,
		state:    State{Screen: ScreenChat, Settings: engine.DefaultSettings()},
	}

	cancel, err := vm.stream.Subscribe(func(msgs []engine.Message) {
		vm.apply(func(s *State) { s.Messages = msgs })
	})
	if err != nil {
		vm.Close()
		return nil, err
	}
	vm.cancels = append(vm.cancels, cancel)

	cancel, err = vm.board.Subscribe(func(entries []engine.LeaderboardEntry, totals engine.GroupTotals) {
		vm.apply(func(s *State) {
			s.Leaderboard = entries
			s.Totals = totals
		})
	})
	if err != nil {
		vm.Close()
		return nil, err
	}
	vm.cancels = append(vm.cancels, cancel)

	cancel, err = vm.sync.Subscribe(func(settings engine.GroupSettings) {
		vm.apply(func(s *State) { s.Settings = settings })
	})
	if err != nil {
		vm.Close()
		return nil, err
	}
	vm.cancels = append(vm.cancels, cancel)

	// Identity changes rewire the display-name watch onto the new uid.
	vm.cancels = append(vm.cancels, store.CancelFunc(sess.OnChange(vm.onIdentity)))

	return vm, nil
}

// onIdentity reacts to pushed session changes: the old name watch is
// released and, when signed in, a fresh one follows the new profile live.
func (vm *ViewModel) onIdentity(u session.User, ok bool) {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return
	}
	if vm.nameCancel != nil {
		vm.nameCancel()
		vm.nameCancel = nil
	}
	vm.mu.Unlock()

	if !ok {
		vm.apply(func(s *State) {
			s.SignedIn = false
			s.DisplayName = ""
		})
		return
	}

	vm.apply(func(s *State) {
		s.SignedIn = true
		s.DisplayName = u.UID
	})

	cancel, err := vm.names.Watch(u.UID, func(name string) {
		vm.apply(func(s *State) { s.DisplayName = name })
	})
	if err != nil {
		vm.log.Warn("display name watch failed", zap.String("uid", u.UID), zap.Error(err))
		return
	}

	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		cancel()
		return
	}
	vm.nameCancel = cancel
	vm.mu.Unlock()
}

// apply mutates the state under the lock and pushes a snapshot to onUpdate.
func (vm *ViewModel) apply(mutate func(*State)) {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return
	}
	mutate(&vm.state)
	snapshot := vm.state
	fn := vm.onUpdate
	vm.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Snapshot returns the current state.
func (vm *ViewModel) Snapshot() State {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.state
}

// SetScreen switches the active surface.
func (vm *ViewModel) SetScreen(screen Screen) {
	vm.apply(func(s *State) { s.Screen = screen })
}

// SendMessage validates and appends a plain text chat message.
func (vm *ViewModel) SendMessage(ctx context.Context, text string) error {
	return vm.stream.Send(ctx, engine.TextBody(text))
}

// SendImageMessage appends a text message with an attached image.
func (vm *ViewModel) SendImageMessage(ctx context.Context, text string, image []byte) error {
	return vm.stream.Send(ctx, engine.TextWithImageBody(text, image))
}

// Like increments another user's like counter.
func (vm *ViewModel) Like(ctx context.Context, targetUID string) error {
	return vm.board.Like(ctx, targetUID)
}

// Nudge increments another user's nudge counter.
func (vm *ViewModel) Nudge(ctx context.Context, targetUID string) error {
	return vm.board.Nudge(ctx, targetUID)
}

// SetSetting merge-writes one group toggle.
func (vm *ViewModel) SetSetting(ctx context.Context, key engine.SettingKey, value bool) error {
	return vm.sync.Update(ctx, key, value)
}

// SetUsername updates the signed-in user's display name.
func (vm *ViewModel) SetUsername(ctx context.Context, name string) error {
	user, ok := vm.sess.CurrentUser()
	if !ok {
		return engine.ErrNotAuthenticated
	}
	return vm.names.SetUsername(ctx, user.UID, name)
}

// Close releases every active subscription. State stops changing once Close
// returns; further action calls still validate but their results are not
// reflected locally.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return
	}
	vm.closed = true
	cancels := vm.cancels
	vm.cancels = nil
	if vm.nameCancel != nil {
		cancels = append(cancels, vm.nameCancel)
		vm.nameCancel = nil
	}
	vm.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
}
