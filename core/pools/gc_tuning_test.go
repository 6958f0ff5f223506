package pools

import (
	"runtime/debug"
	"testing"
)

func TestApplyGCConfig(t *testing.T) {
	orig := debug.SetGCPercent(100)
	defer debug.SetGCPercent(orig)

	prev := ApplyGCConfig(GCConfig{GOGC: 250})
	if prev != 100 {
		t.Errorf("Expected previous GOGC 100, got %d", prev)
	}
	if cur := debug.SetGCPercent(250); cur != 250 {
		t.Errorf("Expected GOGC 250, got %d", cur)
	}

	if prev := ApplyGCConfig(GCConfig{}); prev != 250 {
		t.Errorf("Expected zero config to keep GOGC 250, got %d", prev)
	}
}

func TestGetGCStats(t *testing.T) {
	stats := GetGCStats()
	if stats.NumGoroutine <= 0 {
		t.Errorf("Expected positive goroutine count, got %d", stats.NumGoroutine)
	}
	if stats.Sys == 0 {
		t.Error("Expected non-zero Sys")
	}
}
