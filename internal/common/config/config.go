// Package config loads the orchestrator's single JSON configuration document.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
)

// FacadeConfig controls the scheduler loop owned by the facade.
type FacadeConfig struct {
	MaxConcurrentTasks     int  `mapstructure:"maxConcurrentTasks"`
	MainLoopDelayMs        int  `mapstructure:"mainLoopDelayMs"`
	CommandSequenceDelayMs int  `mapstructure:"commandSequenceDelayMs"`
	ErrorRecoveryEnabled   bool `mapstructure:"errorRecoveryEnabled"`
	ErrorRecoveryDelayMs   int  `mapstructure:"errorRecoveryDelayMs"`
	MaxErrorRetries        int  `mapstructure:"maxErrorRetries"`
	AutoMode               bool `mapstructure:"autoMode"`
	ConfirmationRequired   bool `mapstructure:"confirmationRequired"`
}

// EngineConfig controls the execution engine.
type EngineConfig struct {
	ExecutionTimeoutMs int `mapstructure:"executionTimeoutMs"`
}

// ScriptConfig controls the script manager.
type ScriptConfig struct {
	ScriptsRoot      string `mapstructure:"scriptsRoot"`
	MaxNestingLevel  int    `mapstructure:"maxNestingLevel"`
	CachingEnabled   bool   `mapstructure:"cachingEnabled"`
}

// FeedbackConfig controls the continuous feedback controller.
type FeedbackConfig struct {
	Enabled                    bool `mapstructure:"enabled"`
	EnvironmentCheckIntervalMs int  `mapstructure:"environmentCheckIntervalMs"`
	AdaptationThresholdMs      int  `mapstructure:"adaptationThresholdMs"`
	MaxEnvironmentHistorySize  int  `mapstructure:"maxEnvironmentHistorySize"`
}

// ConversationConfig controls the conversation manager.
type ConversationConfig struct {
	MaxTurns                 int `mapstructure:"maxTurns"`
	ExpirationMs             int `mapstructure:"expirationMs"`
	UserInteractionTimeoutMs int `mapstructure:"userInteractionTimeoutMs"`
	PlanWaitMs               int `mapstructure:"planWaitMs"`
	PlanPollIntervalMs       int `mapstructure:"planPollIntervalMs"`
}

// StateStoreConfig controls retention of completed executions.
type StateStoreConfig struct {
	MaxCompletedExecutions int `mapstructure:"maxCompletedExecutions"`
	ActivityLogSize        int `mapstructure:"activityLogSize"`
}

// PlannerConfig controls the HTTP planner transport. Endpoint empty means no
// live planner is configured; callers should fall back to a scripted/mock
// transport in that case.
type PlannerConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	TimeoutMs  int    `mapstructure:"timeoutMs"`
}

// ResourceConfig controls ResourceMonitor thresholds per resource family.
type ResourceConfig struct {
	MaxFileHandles    int `mapstructure:"maxFileHandles"`
	MaxWindowHandles  int `mapstructure:"maxWindowHandles"`
	MaxProcessHandles int `mapstructure:"maxProcessHandles"`
	MaxThreads        int `mapstructure:"maxThreads"`
	MaxMutexes        int `mapstructure:"maxMutexes"`
}

// Config is the single document read at startup.
type Config struct {
	Facade       FacadeConfig       `mapstructure:"facade"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Script       ScriptConfig       `mapstructure:"script"`
	Feedback     FeedbackConfig     `mapstructure:"feedback"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	StateStore   StateStoreConfig   `mapstructure:"stateStore"`
	Resource     ResourceConfig     `mapstructure:"resource"`
	Logging      logger.Config      `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("facade.maxConcurrentTasks", 4)
	v.SetDefault("facade.mainLoopDelayMs", 50)
	v.SetDefault("facade.commandSequenceDelayMs", 0)
	v.SetDefault("facade.errorRecoveryEnabled", true)
	v.SetDefault("facade.errorRecoveryDelayMs", 2000)
	v.SetDefault("facade.maxErrorRetries", 3)
	v.SetDefault("facade.autoMode", true)
	v.SetDefault("facade.confirmationRequired", false)

	v.SetDefault("engine.executionTimeoutMs", 30000)

	v.SetDefault("script.scriptsRoot", "./scripts")
	v.SetDefault("script.maxNestingLevel", 3)
	v.SetDefault("script.cachingEnabled", true)

	v.SetDefault("feedback.enabled", true)
	v.SetDefault("feedback.environmentCheckIntervalMs", 1000)
	v.SetDefault("feedback.adaptationThresholdMs", 500)
	v.SetDefault("feedback.maxEnvironmentHistorySize", 100)

	v.SetDefault("conversation.maxTurns", 10)
	v.SetDefault("conversation.expirationMs", 10*60*1000)
	v.SetDefault("conversation.userInteractionTimeoutMs", 60000)
	v.SetDefault("conversation.planWaitMs", 5000)
	v.SetDefault("conversation.planPollIntervalMs", 500)

	v.SetDefault("planner.endpoint", "")
	v.SetDefault("planner.timeoutMs", 15000)

	v.SetDefault("stateStore.maxCompletedExecutions", 1000)
	v.SetDefault("stateStore.activityLogSize", 256)

	v.SetDefault("resource.maxFileHandles", 512)
	v.SetDefault("resource.maxWindowHandles", 4096)
	v.SetDefault("resource.maxProcessHandles", 256)
	v.SetDefault("resource.maxThreads", 256)
	v.SetDefault("resource.maxMutexes", 1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from configPath if non-empty, falling back to
// ./config.json, /etc/burwell/config.json, and built-in defaults. Environment
// variables prefixed BURWELL_ override any key (e.g. BURWELL_FACADE_MAXCONCURRENTTASKS).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BURWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/burwell/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Facade.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("facade.maxConcurrentTasks must be positive")
	}
	if cfg.Script.MaxNestingLevel <= 0 {
		return fmt.Errorf("script.maxNestingLevel must be positive")
	}
	if cfg.StateStore.MaxCompletedExecutions <= 0 {
		return fmt.Errorf("stateStore.maxCompletedExecutions must be positive")
	}
	return nil
}
