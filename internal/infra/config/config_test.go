package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ranking.CandidateLimit != 5 {
		t.Fatalf("expected candidate limit 5, got %d", cfg.Ranking.CandidateLimit)
	}
	if cfg.Ledger.MaxRetries != 3 || cfg.Ledger.RetryBase != 100*time.Millisecond {
		t.Fatalf("unexpected ledger retry config: %+v", cfg.Ledger)
	}
	if cfg.Jobs.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Jobs.Workers)
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("RANKING_CANDIDATE_LIMIT", "3")
	t.Setenv("RANKING_ACTIVE_WINDOW", "24h")
	t.Setenv("EVENTS_QUEUE", "custom")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ranking.CandidateLimit != 3 {
		t.Fatalf("expected 3, got %d", cfg.Ranking.CandidateLimit)
	}
	if cfg.Ranking.ActiveWindow != 24*time.Hour {
		t.Fatalf("expected 24h window, got %s", cfg.Ranking.ActiveWindow)
	}
	if cfg.Events.Queue != "custom" {
		t.Fatalf("expected custom queue, got %s", cfg.Events.Queue)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"RANKING_CANDIDATE_LIMIT": "0",
		"RANKING_HOUR":            "24",
		"APP_ENV":                 "staging",
		"JOB_WORKERS":             "not-a-number",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Parse(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
