package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration struct
type Config struct {
	Scenario ScenarioConfig `mapstructure:"scenario"`
	Log      LogConfig      `mapstructure:"log"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Server   ServerConfig   `mapstructure:"server"`
}

// ScenarioConfig holds the parameters of one simulation run
type ScenarioConfig struct {
	NodeCount            int     `mapstructure:"nodeCount" json:"nodeCount"`
	TickCount            int     `mapstructure:"tickCount" json:"tickCount"`
	MaxDelay             int64   `mapstructure:"maxDelay" json:"maxDelay"`
	LossRate             float64 `mapstructure:"lossRate" json:"lossRate"`
	ChurnProbability     float64 `mapstructure:"churnProbability" json:"churnProbability"`
	RetryInterval        int64   `mapstructure:"retryInterval" json:"retryInterval"`
	RetryJitter          int64   `mapstructure:"retryJitter" json:"retryJitter"`
	SendProbability      float64 `mapstructure:"sendProbability" json:"sendProbability"`
	Seed                 int64   `mapstructure:"seed" json:"seed"`
	HandshakeFailureRate float64 `mapstructure:"handshakeFailureRate" json:"handshakeFailureRate"`
	PendingLimit         int     `mapstructure:"pendingLimit" json:"pendingLimit"`
	LossThreshold        float64 `mapstructure:"lossThreshold" json:"lossThreshold"`
	HubName              string  `mapstructure:"hubName" json:"hubName"`
	RemoveCrashedHub     bool    `mapstructure:"removeCrashedHub" json:"removeCrashedHub"`
	DropInFlightOnChurn  bool    `mapstructure:"dropInFlightOnChurn" json:"dropInFlightOnChurn"`
	Parallel             bool    `mapstructure:"parallel" json:"parallel"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ArchiveConfig holds the timeline archive location; empty keeps it in memory
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds REST endpoint settings
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultScenario returns the defaults used when nothing else is configured.
func DefaultScenario() ScenarioConfig {
	return ScenarioConfig{
		NodeCount:            50,
		TickCount:            60,
		MaxDelay:             0,
		LossRate:             0,
		ChurnProbability:     0.05,
		RetryInterval:        2,
		RetryJitter:          1,
		SendProbability:      0.1,
		Seed:                 1,
		HandshakeFailureRate: 0.1,
		PendingLimit:         32,
		LossThreshold:        0.5,
		HubName:              "p1-room",
	}
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"nodes":          "scenario.nodeCount",
	"ticks":          "scenario.tickCount",
	"max-delay":      "scenario.maxDelay",
	"loss-rate":      "scenario.lossRate",
	"churn":          "scenario.churnProbability",
	"retry-interval": "scenario.retryInterval",
	"retry-jitter":   "scenario.retryJitter",
	"send":           "scenario.sendProbability",
	"seed":           "scenario.seed",
	"handshake-fail": "scenario.handshakeFailureRate",
	"pending-limit":  "scenario.pendingLimit",
	"loss-threshold": "scenario.lossThreshold",
	"hub-name":       "scenario.hubName",
	"remove-crashed": "scenario.removeCrashedHub",
	"drop-in-flight": "scenario.dropInFlightOnChurn",
	"parallel":       "scenario.parallel",
	"log-level":      "log.level",
	"dev":            "log.development",
	"archive":        "archive.path",
	"addr":           "server.addr",
}

// Load reads configuration from file, environment and flags, on top of the
// given scenario defaults. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet, base ScenarioConfig) (*Config, error) {
	v := viper.New()

	v.SetDefault("scenario.nodeCount", base.NodeCount)
	v.SetDefault("scenario.tickCount", base.TickCount)
	v.SetDefault("scenario.maxDelay", base.MaxDelay)
	v.SetDefault("scenario.lossRate", base.LossRate)
	v.SetDefault("scenario.churnProbability", base.ChurnProbability)
	v.SetDefault("scenario.retryInterval", base.RetryInterval)
	v.SetDefault("scenario.retryJitter", base.RetryJitter)
	v.SetDefault("scenario.sendProbability", base.SendProbability)
	v.SetDefault("scenario.seed", base.Seed)
	v.SetDefault("scenario.handshakeFailureRate", base.HandshakeFailureRate)
	v.SetDefault("scenario.pendingLimit", base.PendingLimit)
	v.SetDefault("scenario.lossThreshold", base.LossThreshold)
	v.SetDefault("scenario.hubName", base.HubName)
	v.SetDefault("scenario.removeCrashedHub", base.RemoveCrashedHub)
	v.SetDefault("scenario.dropInFlightOnChurn", base.DropInFlightOnChurn)
	v.SetDefault("scenario.parallel", base.Parallel)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("archive.path", "")
	v.SetDefault("server.addr", "127.0.0.1:8080")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("hubsim")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HUBSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Scenario.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every scenario parameter is in range.
func (s ScenarioConfig) Validate() error {
	switch {
	case s.NodeCount < 1:
		return fmt.Errorf("nodeCount must be at least 1, got %d", s.NodeCount)
	case s.TickCount < 0:
		return fmt.Errorf("tickCount must not be negative, got %d", s.TickCount)
	case s.MaxDelay < 0:
		return fmt.Errorf("maxDelay must not be negative, got %d", s.MaxDelay)
	case s.RetryInterval < 1:
		return fmt.Errorf("retryInterval must be at least 1, got %d", s.RetryInterval)
	case s.RetryJitter < 0:
		return fmt.Errorf("retryJitter must not be negative, got %d", s.RetryJitter)
	case s.PendingLimit < 1:
		return fmt.Errorf("pendingLimit must be at least 1, got %d", s.PendingLimit)
	case s.HubName == "":
		return fmt.Errorf("hubName must not be empty")
	}
	probs := []struct {
		name string
		val  float64
	}{
		{"lossRate", s.LossRate},
		{"churnProbability", s.ChurnProbability},
		{"sendProbability", s.SendProbability},
		{"handshakeFailureRate", s.HandshakeFailureRate},
		{"lossThreshold", s.LossThreshold},
	}
	for _, p := range probs {
		if p.val < 0 || p.val > 1 {
			return fmt.Errorf("%s must be within [0,1], got %g", p.name, p.val)
		}
	}
	return nil
}
