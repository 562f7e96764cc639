package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager loads, validates, and watches configuration.
type Manager interface {
	Load(ctx context.Context) error
	Get(ctx context.Context) *Config
	Validate(ctx context.Context) error
	Watch(ctx context.Context) <-chan Config
	Reload(ctx context.Context) error
}

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// NewManager creates a configuration manager reading from the given path.
// An empty path uses the default /etc/incident-agent/config.yaml.
func NewManager(configPath string) Manager {
	if configPath == "" {
		configPath = "/etc/incident-agent/config.yaml"
	}
	return &viperManager{
		configPath: configPath,
		watchChan:  make(chan Config, 1),
	}
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("INCIDENTAGENT")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults + env vars are enough to run.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	m.unmarshalConfig()
	m.applyEnvOverrides()
	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate checks the loaded configuration is usable.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch emits a new Config whenever the config file changes on disk.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.unmarshalConfig()
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// channel full, skip this update
		}
	})
	return m.watchChan
}

// Reload re-reads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	m.unmarshalConfig()
	m.applyEnvOverrides()
	return nil
}

// setDefaults registers default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	m.viper.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)

	m.viper.SetDefault("agent.max_iterations", defaults.Agent.MaxIterations)
	m.viper.SetDefault("agent.parallel_tools", defaults.Agent.ParallelTools)
	m.viper.SetDefault("agent.deployments_cap", defaults.Agent.DeploymentsCap)
	m.viper.SetDefault("agent.investigation_ttl", defaults.Agent.InvestigationTTL)

	m.viper.SetDefault("database.path", defaults.Database.Path)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)

	m.viper.SetDefault("integrations.datadog.site", defaults.Integrations.Datadog.Site)
}

// unmarshalConfig copies viper values into the Config struct.
func (m *viperManager) unmarshalConfig() {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.APIKey = m.viper.GetString("llm.api_key")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")
	cfg.LLM.MaxTokens = m.viper.GetInt("llm.max_tokens")

	cfg.Agent.MaxIterations = m.viper.GetInt("agent.max_iterations")
	cfg.Agent.ParallelTools = m.viper.GetBool("agent.parallel_tools")
	cfg.Agent.DeploymentsCap = m.viper.GetInt("agent.deployments_cap")
	cfg.Agent.InvestigationTTL = m.viper.GetInt("agent.investigation_ttl")

	cfg.Database.Path = m.viper.GetString("database.path")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")

	cfg.Integrations.Datadog.APIKey = m.viper.GetString("integrations.datadog.api_key")
	cfg.Integrations.Datadog.AppKey = m.viper.GetString("integrations.datadog.app_key")
	cfg.Integrations.Datadog.Site = m.viper.GetString("integrations.datadog.site")
	cfg.Integrations.GitHub.AppID = m.viper.GetString("integrations.github.app_id")
	cfg.Integrations.GitHub.PrivateKey = m.viper.GetString("integrations.github.private_key")
	cfg.Integrations.GitHub.InstallationID = m.viper.GetString("integrations.github.installation_id")
	cfg.Integrations.GitHub.Owner = m.viper.GetString("integrations.github.owner")
	cfg.Integrations.GitHub.Repo = m.viper.GetString("integrations.github.repo")
	cfg.Integrations.Slack.BotToken = m.viper.GetString("integrations.slack.bot_token")
	cfg.Integrations.Slack.ChannelID = m.viper.GetString("integrations.slack.channel_id")

	m.config = cfg
}

// applyEnvOverrides applies well-known environment variables for sensitive
// data that operators commonly export without the INCIDENTAGENT_ prefix.
func (m *viperManager) applyEnvOverrides() {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && m.config.LLM.Provider == "anthropic" {
		m.config.LLM.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && m.config.LLM.Provider == "openai" {
		m.config.LLM.APIKey = apiKey
	}
	if key := os.Getenv("DD_API_KEY"); key != "" {
		m.config.Integrations.Datadog.APIKey = key
	}
	if key := os.Getenv("DD_APP_KEY"); key != "" {
		m.config.Integrations.Datadog.AppKey = key
	}
	if site := os.Getenv("DD_SITE"); site != "" {
		m.config.Integrations.Datadog.Site = site
	}
	if appID := os.Getenv("GITHUB_APP_ID"); appID != "" {
		m.config.Integrations.GitHub.AppID = appID
	}
	if pk := os.Getenv("GITHUB_APP_PRIVATE_KEY"); pk != "" {
		m.config.Integrations.GitHub.PrivateKey = pk
	}
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		m.config.Integrations.Slack.BotToken = token
	}
}
