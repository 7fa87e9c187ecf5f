package config

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RefundTier maps a minimum notice before the appointment to a refund percent.
type RefundTier struct {
	Label          string  `mapstructure:"label" json:"label"`
	MinNoticeHours int     `mapstructure:"minNoticeHours" json:"min_notice_hours"`
	Percent        float64 `mapstructure:"percent" json:"percent"`
}

// RefundConfig holds the cancellation refund policy.
type RefundConfig struct {
	Tiers []RefundTier `mapstructure:"tiers" json:"tiers"`
}

func DefaultRefundConfig() RefundConfig {
	return RefundConfig{
		Tiers: []RefundTier{
			{Label: "full", MinNoticeHours: 24, Percent: 100},
			{Label: "half", MinNoticeHours: 12, Percent: 50},
			{Label: "quarter", MinNoticeHours: 2, Percent: 25},
			{Label: "none", MinNoticeHours: 0, Percent: 0},
		},
	}
}

// RefundPercent returns the refund percent for a cancellation made with the
// given notice before the booked slot. Tiers are matched highest notice first.
func (c RefundConfig) RefundPercent(notice time.Duration) float64 {
	hours := notice.Hours()
	tiers := append([]RefundTier(nil), c.Tiers...)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinNoticeHours > tiers[j].MinNoticeHours
	})
	for _, tier := range tiers {
		if hours >= float64(tier.MinNoticeHours) {
			return tier.Percent
		}
	}
	return 0
}

// RefundConfigHolder exposes the current refund policy and hot-reloads it
// when the backing file changes.
type RefundConfigHolder struct {
	current atomic.Value // holds RefundConfig
}

func NewRefundConfigHolder(log *zap.Logger) (*RefundConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("refund")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/repairlane/config")
	v.AddConfigPath("/etc/repairlane")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REPAIRLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRefundConfig()
		v.SetDefault("refund.tiers", defaults.Tiers)
	}

	holder := &RefundConfigHolder{}
	if err := holder.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := holder.reload(v); err != nil {
			log.Warn("refund config reload failed", zap.Error(err))
			return
		}
		log.Info("refund config reloaded")
	})
	v.WatchConfig()

	return holder, nil
}

func (h *RefundConfigHolder) reload(v *viper.Viper) error {
	var cfg RefundConfig
	if err := v.UnmarshalKey("refund", &cfg); err != nil {
		return err
	}
	if len(cfg.Tiers) == 0 {
		cfg = DefaultRefundConfig()
	}
	h.current.Store(cfg)
	return nil
}

// Current returns the active refund policy.
func (h *RefundConfigHolder) Current() RefundConfig {
	if cfg, ok := h.current.Load().(RefundConfig); ok {
		return cfg
	}
	return DefaultRefundConfig()
}
