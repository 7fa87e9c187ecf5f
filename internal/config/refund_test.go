package config

import (
	"testing"
	"time"
)

func TestRefundPercentTiers(t *testing.T) {
	cfg := DefaultRefundConfig()

	cases := []struct {
		notice time.Duration
		want   float64
	}{
		{48 * time.Hour, 100},
		{24 * time.Hour, 100},
		{18 * time.Hour, 50},
		{12 * time.Hour, 50},
		{3 * time.Hour, 25},
		{90 * time.Minute, 0},
		{0, 0},
	}

	for _, tc := range cases {
		if got := cfg.RefundPercent(tc.notice); got != tc.want {
			t.Fatalf("notice %v: expected %.0f%%, got %.0f%%", tc.notice, tc.want, got)
		}
	}
}

func TestRefundPercentUnsortedTiers(t *testing.T) {
	cfg := RefundConfig{
		Tiers: []RefundTier{
			{Label: "none", MinNoticeHours: 0, Percent: 0},
			{Label: "full", MinNoticeHours: 24, Percent: 100},
			{Label: "half", MinNoticeHours: 12, Percent: 50},
		},
	}

	if got := cfg.RefundPercent(30 * time.Hour); got != 100 {
		t.Fatalf("expected highest tier to win, got %.0f%%", got)
	}
	if got := cfg.RefundPercent(13 * time.Hour); got != 50 {
		t.Fatalf("expected mid tier, got %.0f%%", got)
	}
}
