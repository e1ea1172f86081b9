package config

import (
	"testing"
)

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewStore(Config{Trading: TradingConfig{Symbol: "BTCUSDT", Leverage: 5}})

	snap := store.Snapshot()
	snap.Trading.Leverage = 99

	if store.Snapshot().Trading.Leverage != 5 {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestStoreUpdateReplacesWholeValue(t *testing.T) {
	store := NewStore(Config{Trading: TradingConfig{Symbol: "BTCUSDT", IntervalMinutes: 5}})

	before := store.Snapshot()
	updated := store.Update(func(c Config) Config {
		c.Trading.IntervalMinutes = 15
		return c
	})

	if updated.Trading.IntervalMinutes != 15 || updated.Trading.Symbol != "BTCUSDT" {
		t.Errorf("update result wrong: %+v", updated.Trading)
	}
	if before.Trading.IntervalMinutes != 5 {
		t.Error("previously taken snapshot changed retroactively")
	}
	if store.Snapshot().Trading.IntervalMinutes != 15 {
		t.Error("update not published")
	}
}

func TestStoreNotifiesSubscribersOnUpdate(t *testing.T) {
	store := NewStore(Config{Trading: TradingConfig{IntervalMinutes: 5}})

	var seen []int
	store.Subscribe(func(c Config) {
		seen = append(seen, c.Trading.IntervalMinutes)
	})

	store.Update(func(c Config) Config {
		c.Trading.IntervalMinutes = 15
		return c
	})
	store.Update(func(c Config) Config {
		c.Trading.IntervalMinutes = 1
		return c
	})

	if len(seen) != 2 || seen[0] != 15 || seen[1] != 1 {
		t.Errorf("subscriber saw %v, want [15 1]", seen)
	}
}

func TestProviderKeyLookup(t *testing.T) {
	p := ProviderConfig{
		Name: "gemini",
		Keys: map[string]string{"openai": "a", "gemini": "b"},
	}
	if p.Key() != "b" {
		t.Errorf("Key() = %q", p.Key())
	}

	p.Name = "missing"
	if p.Key() != "" {
		t.Errorf("Key() for unknown provider = %q", p.Key())
	}
}
