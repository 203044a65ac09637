package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable runtime configuration. It is loaded once at startup
// and passed into components at construction; nothing reads it from ambient
// state afterwards.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int    `yaml:"db_max_conns"`
	ListenAddr  string `yaml:"listen_addr"`
	JWTSecret   string `yaml:"jwt_secret"`

	NetworkBaseURL  string `yaml:"network_base_url"`
	PlatformBaseURL string `yaml:"platform_base_url"`
	CarrierBaseURL  string `yaml:"carrier_base_url"`
	CommsBaseURL    string `yaml:"comms_base_url"`

	// Regulatory evidence-submission window, counted from filing.
	DeadlineDays int `yaml:"deadline_days"`
	// Escalate instead of continuing to gather when less than this many
	// hours remain before the deadline.
	ImminenceHours int `yaml:"imminence_hours"`

	// Enhanced-evidence qualification.
	LookbackDays       int `yaml:"lookback_days"`
	MinPriorTxns       int `yaml:"min_prior_transactions"`
	MinMatchingSignals int `yaml:"min_matching_signals"`

	CompletenessFloor float64 `yaml:"completeness_floor"`

	// Escalate after this many gather attempts without a passing validation.
	MaxGatherAttempts int `yaml:"max_gather_attempts"`

	SpecialistTimeoutSeconds int `yaml:"specialist_timeout_seconds"`
	JudgeBudgetMillis        int `yaml:"judge_budget_millis"`

	FabricationThreshold float64 `yaml:"fabrication_threshold"`

	SubmitMaxAttempts int `yaml:"submit_max_attempts"`

	// Five-field cron expression driving the Monitor-phase poll sweep.
	MonitorSchedule string `yaml:"monitor_schedule"`
	// Escalate a monitored dispute after this many days without resolution.
	MonitorSLADays int `yaml:"monitor_sla_days"`

	Judges []JudgeConfig `yaml:"judges"`
}

// JudgeConfig describes one panel member.
type JudgeConfig struct {
	Name      string  `yaml:"name"`
	Dimension string  `yaml:"dimension"`
	Threshold float64 `yaml:"threshold"`
	Blocking  bool    `yaml:"blocking"`
}

// Load reads config.yaml (or CONFIG_PATH), applies environment overrides and
// defaults, and returns the resulting configuration.
func Load() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.DatabaseURL, "DATABASE_URL")
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.JWTSecret, "JWT_SECRET")
	envOverride(&cfg.NetworkBaseURL, "NETWORK_BASE_URL")
	envOverride(&cfg.PlatformBaseURL, "PLATFORM_BASE_URL")
	envOverride(&cfg.CarrierBaseURL, "CARRIER_BASE_URL")
	envOverride(&cfg.CommsBaseURL, "COMMS_BASE_URL")
	envOverride(&cfg.MonitorSchedule, "MONITOR_SCHEDULE")
	envOverrideInt(&cfg.DBMaxConns, "DB_MAX_CONNS")
	envOverrideInt(&cfg.DeadlineDays, "DEADLINE_DAYS")
	envOverrideInt(&cfg.ImminenceHours, "IMMINENCE_HOURS")
	envOverrideInt(&cfg.LookbackDays, "LOOKBACK_DAYS")
	envOverrideInt(&cfg.MaxGatherAttempts, "MAX_GATHER_ATTEMPTS")
	envOverrideInt(&cfg.SubmitMaxAttempts, "SUBMIT_MAX_ATTEMPTS")
	envOverrideFloat(&cfg.CompletenessFloor, "COMPLETENESS_FLOOR")
	envOverrideFloat(&cfg.FabricationThreshold, "FABRICATION_THRESHOLD")

	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DBMaxConns <= 0 {
		c.DBMaxConns = 8
	}
	if c.DeadlineDays <= 0 {
		c.DeadlineDays = 14
	}
	if c.ImminenceHours <= 0 {
		c.ImminenceHours = 24
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 120
	}
	if c.MinPriorTxns <= 0 {
		c.MinPriorTxns = 2
	}
	if c.MinMatchingSignals <= 0 {
		c.MinMatchingSignals = 2
	}
	if c.CompletenessFloor <= 0 {
		c.CompletenessFloor = 0.7
	}
	if c.MaxGatherAttempts <= 0 {
		c.MaxGatherAttempts = 3
	}
	if c.SpecialistTimeoutSeconds <= 0 {
		c.SpecialistTimeoutSeconds = 10
	}
	if c.JudgeBudgetMillis <= 0 {
		c.JudgeBudgetMillis = 800
	}
	if c.FabricationThreshold <= 0 {
		c.FabricationThreshold = 0.95
	}
	if c.SubmitMaxAttempts <= 0 {
		c.SubmitMaxAttempts = 3
	}
	if c.MonitorSchedule == "" {
		c.MonitorSchedule = "*/15 * * * *"
	}
	if c.MonitorSLADays <= 0 {
		c.MonitorSLADays = 30
	}
	if len(c.Judges) == 0 {
		c.Judges = DefaultJudges()
	}
}

// DefaultJudges is the stock validation panel used when none is configured.
func DefaultJudges() []JudgeConfig {
	return []JudgeConfig{
		{Name: "completeness", Dimension: "completeness", Threshold: 0.8, Blocking: true},
		{Name: "integrity", Dimension: "fabrication", Threshold: 0.8, Blocking: true},
		{Name: "consistency", Dimension: "consistency", Threshold: 0.7, Blocking: false},
	}
}

// Durations derived from the integer knobs above.

func (c Config) SpecialistTimeout() time.Duration {
	return time.Duration(c.SpecialistTimeoutSeconds) * time.Second
}

func (c Config) JudgeBudget() time.Duration {
	return time.Duration(c.JudgeBudgetMillis) * time.Millisecond
}

func (c Config) DeadlineWindow() time.Duration {
	return time.Duration(c.DeadlineDays) * 24 * time.Hour
}

func (c Config) ImminenceWindow() time.Duration {
	return time.Duration(c.ImminenceHours) * time.Hour
}

func (c Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

func (c Config) MonitorSLA() time.Duration {
	return time.Duration(c.MonitorSLADays) * 24 * time.Hour
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: database_url is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: jwt_secret is required")
	}
	for _, j := range c.Judges {
		if j.Threshold < 0 || j.Threshold > 1 {
			return fmt.Errorf("config: judge %s threshold %v outside [0,1]", j.Name, j.Threshold)
		}
	}
	return nil
}

func envOverride(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envOverrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		} else {
			log.Printf("Invalid int for %s: %v", key, err)
		}
	}
}

func envOverrideFloat(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		} else {
			log.Printf("Invalid float for %s: %v", key, err)
		}
	}
}
