package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "REDIS_URL", "LEXANCHOR_RETRY_DELAYS_MS", "LEXANCHOR_HOVER_FACT_MS", "LEXANCHOR_MATCH_TRIM_RATIO_PCT", "LEXANCHOR_SETTLE_ON_EDITS", "LEXANCHOR_RESULTS_TTL_SECONDS", "LEXANCHOR_HIGHLIGHT_EVERY_MS", "LEXANCHOR_HIGHLIGHT_BURST"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.HoverFact != 300*time.Millisecond || cfg.HoverCompliance != 500*time.Millisecond {
		t.Errorf("unexpected hover delays %v %v", cfg.HoverFact, cfg.HoverCompliance)
	}
	if !reflect.DeepEqual(cfg.RetryDelays, []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}) {
		t.Errorf("RetryDelays = %v", cfg.RetryDelays)
	}
	if cfg.Match.TrimRatio != 0.4 || cfg.Match.SubstringMaxChars != 80 {
		t.Errorf("unexpected match options %+v", cfg.Match)
	}
	if !cfg.SettleOnEdits {
		t.Error("expected settle-on-edits by default")
	}
	if cfg.ResultsTTL != 24*time.Hour {
		t.Errorf("ResultsTTL = %v", cfg.ResultsTTL)
	}
	if cfg.HighlightEvery != 250*time.Millisecond || cfg.HighlightBurst != 4 {
		t.Errorf("unexpected highlight throttle %v/%d", cfg.HighlightEvery, cfg.HighlightBurst)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEXANCHOR_RETRY_DELAYS_MS", "100, 250,1000")
	t.Setenv("LEXANCHOR_HOVER_ARGUMENT_MS", "750")
	t.Setenv("LEXANCHOR_MATCH_TRIM_RATIO_PCT", "25")
	t.Setenv("LEXANCHOR_RESULTS_TTL_SECONDS", "60")

	cfg := Load()
	want := []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, time.Second}
	if !reflect.DeepEqual(cfg.RetryDelays, want) {
		t.Errorf("RetryDelays = %v, want %v", cfg.RetryDelays, want)
	}
	if cfg.HoverArgument != 750*time.Millisecond {
		t.Errorf("HoverArgument = %v", cfg.HoverArgument)
	}
	if cfg.Match.TrimRatio != 0.25 {
		t.Errorf("TrimRatio = %v", cfg.Match.TrimRatio)
	}
	if cfg.ResultsTTL != time.Minute {
		t.Errorf("ResultsTTL = %v", cfg.ResultsTTL)
	}
}

func TestGetenvDurationsRejectsGarbage(t *testing.T) {
	t.Setenv("LEXANCHOR_RETRY_DELAYS_MS", "100,soon")
	fallback := []time.Duration{time.Second}
	if got := getenvDurations("LEXANCHOR_RETRY_DELAYS_MS", fallback); !reflect.DeepEqual(got, fallback) {
		t.Errorf("expected fallback, got %v", got)
	}
}
