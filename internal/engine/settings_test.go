package engine

import (
	"context"
	"errors"
	"testing"
)

func TestSettings_DefaultsWhileDocumentAbsent(t *testing.T) {
	st := newCountingStore()
	s := NewSettingsSync(st)

	var got GroupSettings
	cancel, err := s.Subscribe(func(settings GroupSettings) { got = settings })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	want := GroupSettings{EnableGroupStats: true, EnableLeaderboard: true, EnableSharedCoins: false, ShowTrophies: true}
	if got != want {
		t.Fatalf("defaults = %+v, want %+v", got, want)
	}
}

func TestSettings_UpdatePropagatesWithoutRefresh(t *testing.T) {
	st := newCountingStore()
	s := NewSettingsSync(st)
	ctx := context.Background()

	var got GroupSettings
	cancel, err := s.Subscribe(func(settings GroupSettings) { got = settings })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := s.Update(ctx, SettingLeaderboard, false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.EnableLeaderboard {
		t.Fatal("toggle did not reach the subscriber")
	}
	// sibling keys keep their defaults
	if !got.EnableGroupStats || !got.ShowTrophies {
		t.Fatalf("sibling defaults lost: %+v", got)
	}
}

func TestSettings_MergePreservesConcurrentEdits(t *testing.T) {
	st := newCountingStore()
	ctx := context.Background()

	// two participants edit different toggles through their own synchronizers
	sA := NewSettingsSync(st)
	sB := NewSettingsSync(st)

	if err := sA.Update(ctx, SettingLeaderboard, false); err != nil {
		t.Fatalf("A Update failed: %v", err)
	}
	if err := sB.Update(ctx, SettingSharedCoins, true); err != nil {
		t.Fatalf("B Update failed: %v", err)
	}
	if err := sA.Update(ctx, SettingLeaderboard, true); err != nil {
		t.Fatalf("A re-enable failed: %v", err)
	}

	var got GroupSettings
	cancel, err := sA.Subscribe(func(settings GroupSettings) { got = settings })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	// B's concurrent edit survived A's toggle round trip
	if !got.EnableSharedCoins {
		t.Fatalf("concurrent sibling edit clobbered: %+v", got)
	}
	if !got.EnableLeaderboard {
		t.Fatalf("re-enable lost: %+v", got)
	}
}

func TestSettings_RejectsUnknownKey(t *testing.T) {
	st := newCountingStore()
	s := NewSettingsSync(st)
	before := st.writes.Load()

	if err := s.Update(context.Background(), SettingKey("enableConfetti"), true); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("Update = %v, want ErrUnknownSetting", err)
	}
	if n := st.writes.Load() - before; n != 0 {
		t.Fatalf("rejected update issued %d remote writes", n)
	}
}
