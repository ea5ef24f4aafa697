package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ManagerConfig points a protocol face at the shared target manager service.
type ManagerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// LifecycleConfig controls the time-derived parts of the target lifecycle.
type LifecycleConfig struct {
	// ProcessingDuration is how long a target stays in the processing
	// state after creation or an image replacement.
	ProcessingDuration time.Duration
	// DeletionGraceWindow is how long after a delete the query API still
	// recognizes the target (and answers with a server error).
	DeletionGraceWindow time.Duration
}

// EnginesConfig selects the matching and rating strategies at startup.
type EnginesConfig struct {
	MatchStrategy   string
	RatingStrategy  string
	HardcodedRating int
}

// AuthConfig holds the clock-skew tolerances. The two emulated APIs accept
// different amounts of skew.
type AuthConfig struct {
	ManagementSkewTolerance time.Duration
	QuerySkewTolerance      time.Duration
}

type AppConfig struct {
	Environment   string
	VWS           HTTPConfig
	VWQ           HTTPConfig
	TargetManager HTTPConfig
	Manager       ManagerConfig
	Lifecycle     LifecycleConfig
	Engines       EnginesConfig
	Auth          AuthConfig
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VUMOCK")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("vws.host", "0.0.0.0")
	v.SetDefault("vws.port", 5000)
	v.SetDefault("vwq.host", "0.0.0.0")
	v.SetDefault("vwq.port", 5001)
	v.SetDefault("targetmanager.host", "0.0.0.0")
	v.SetDefault("targetmanager.port", 5002)
	for _, app := range []string{"vws", "vwq", "targetmanager"} {
		v.SetDefault(app+".readtimeout", "10s")
		v.SetDefault(app+".writetimeout", "15s")
		v.SetDefault(app+".idletimeout", "60s")
	}

	v.SetDefault("manager.baseurl", "http://127.0.0.1:5002")
	v.SetDefault("manager.timeout", "30s")

	v.SetDefault("lifecycle.processingduration", "2s")
	v.SetDefault("lifecycle.deletiongracewindow", "3s")

	v.SetDefault("engines.matchstrategy", "exact")
	v.SetDefault("engines.ratingstrategy", "quality")
	v.SetDefault("engines.hardcodedrating", 5)

	v.SetDefault("auth.managementskewtolerance", "5m")
	v.SetDefault("auth.queryskewtolerance", "65m")
}
