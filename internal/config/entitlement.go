package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EntitlementConfig tunes the gating layer: grace windows, cache TTLs and
// the denial-audit suppression window. It reloads at runtime so operators
// can widen a grace window without a deploy.
type EntitlementConfig struct {
	FeatureCacheTTL    time.Duration `mapstructure:"featureCacheTTL"`
	AddonGraceDays     int           `mapstructure:"addonGraceDays"`
	DenialAuditWindow  time.Duration `mapstructure:"denialAuditWindow"`
	CheckoutRetryLimit int           `mapstructure:"checkoutRetryLimit"`
}

func DefaultEntitlementConfig() EntitlementConfig {
	return EntitlementConfig{
		FeatureCacheTTL:    60 * time.Second,
		AddonGraceDays:     7,
		DenialAuditWindow:  5 * time.Minute,
		CheckoutRetryLimit: 3,
	}
}

// EntitlementConfigHolder hands out the current config snapshot.
type EntitlementConfigHolder struct {
	current atomic.Value // holds EntitlementConfig
}

func NewEntitlementConfigHolder() (*EntitlementConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("entitlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/tenantry")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TENANTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultEntitlementConfig()
		v.SetDefault("entitlement.featureCacheTTL", defaults.FeatureCacheTTL)
		v.SetDefault("entitlement.addonGraceDays", defaults.AddonGraceDays)
		v.SetDefault("entitlement.denialAuditWindow", defaults.DenialAuditWindow)
		v.SetDefault("entitlement.checkoutRetryLimit", defaults.CheckoutRetryLimit)
	}

	var cfg EntitlementConfig
	if err := v.UnmarshalKey("entitlement", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateEntitlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EntitlementConfig
		if err := v.UnmarshalKey("entitlement", &updated); err != nil {
			log.Printf("[entitlement-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateEntitlementConfig(updated); err != nil {
			log.Printf("[entitlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
	})

	return holder, nil
}

// NewStaticEntitlementConfigHolder wraps a fixed snapshot with no file
// watching. Useful where reloads are unwanted.
func NewStaticEntitlementConfigHolder(cfg EntitlementConfig) *EntitlementConfigHolder {
	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

// Current returns the active snapshot.
func (h *EntitlementConfigHolder) Current() EntitlementConfig {
	if h == nil {
		return DefaultEntitlementConfig()
	}
	if cfg, ok := h.current.Load().(EntitlementConfig); ok {
		return cfg
	}
	return DefaultEntitlementConfig()
}

func (c EntitlementConfig) withDefaults() EntitlementConfig {
	defaults := DefaultEntitlementConfig()
	if c.FeatureCacheTTL <= 0 {
		c.FeatureCacheTTL = defaults.FeatureCacheTTL
	}
	if c.AddonGraceDays <= 0 {
		c.AddonGraceDays = defaults.AddonGraceDays
	}
	if c.DenialAuditWindow <= 0 {
		c.DenialAuditWindow = defaults.DenialAuditWindow
	}
	if c.CheckoutRetryLimit <= 0 {
		c.CheckoutRetryLimit = defaults.CheckoutRetryLimit
	}
	return c
}

func validateEntitlementConfig(c EntitlementConfig) error {
	if c.FeatureCacheTTL > time.Hour {
		return errors.New("featureCacheTTL above one hour defeats invalidation")
	}
	if c.AddonGraceDays > 90 {
		return errors.New("addonGraceDays must be at most 90")
	}
	return nil
}
