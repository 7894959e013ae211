package engine

import (
	"context"
	"fmt"

	"github.com/studykit/groupsync/internal/store"
)

// SettingKey names one group-wide feature toggle.
type SettingKey string

const (
	SettingGroupStats   SettingKey = "enableGroupStats"
	SettingLeaderboard  SettingKey = "enableLeaderboard"
	SettingSharedCoins  SettingKey = "enableSharedCoins"
	SettingShowTrophies SettingKey = "showTrophies"
)

// GroupSettings is the shared toggle document. Settings are advisory display
// filters: they gate what the presentation surfaces, never whether the
// underlying subscriptions run, so re-enabling a panel is instant.
type GroupSettings struct {
	EnableGroupStats  bool
	EnableLeaderboard bool
	EnableSharedCoins bool
	ShowTrophies      bool
}

// DefaultSettings applies while the shared settings document does not exist.
func DefaultSettings() GroupSettings {
	return GroupSettings{
		EnableGroupStats:  true,
		EnableLeaderboard: true,
		EnableSharedCoins: false,
		ShowTrophies:      true,
	}
}

// SettingsSync mirrors the single shared settings document and exposes a
// write-through update operation.
type SettingsSync struct {
	store store.Client
}

// NewSettingsSync wires a synchronizer over the shared settings document.
func NewSettingsSync(st store.Client) *SettingsSync {
	return &SettingsSync{store: st}
}

// Subscribe delivers the current toggle state now and on every remote
// change. Keys missing from the document keep their default values.
func (s *SettingsSync) Subscribe(fn func(GroupSettings)) (store.CancelFunc, error) {
	return s.store.SubscribeDocument(collSettings, sentinelID, func(doc store.Document, ok bool) {
		cur := DefaultSettings()
		if ok {
			if v, found := doc.Bool(string(SettingGroupStats)); found {
				cur.EnableGroupStats = v
			}
			if v, found := doc.Bool(string(SettingLeaderboard)); found {
				cur.EnableLeaderboard = v
			}
			if v, found := doc.Bool(string(SettingSharedCoins)); found {
				cur.EnableSharedCoins = v
			}
			if v, found := doc.Bool(string(SettingShowTrophies)); found {
				cur.ShowTrophies = v
			}
		}
		fn(cur)
	})
}

// Update merge-writes only the changed key. Sibling toggles are never
// touched, so concurrent edits by different participants cannot clobber
// each other.
func (s *SettingsSync) Update(ctx context.Context, key SettingKey, value bool) error {
	switch key {
	case SettingGroupStats, SettingLeaderboard, SettingSharedCoins, SettingShowTrophies:
	default:
		return ErrUnknownSetting
	}
	if err := s.store.PutMerge(ctx, collSettings, sentinelID, map[string]any{string(key): value}); err != nil {
		return fmt.Errorf("update setting %s: %w", key, err)
	}
	return nil
}
