package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8082
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// LLM defaults
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "claude-3-5-sonnet-20241022"
	cfg.LLM.MaxTokens = 4096

	// Agent defaults
	cfg.Agent.MaxIterations = 15
	cfg.Agent.ParallelTools = true
	cfg.Agent.DeploymentsCap = 20
	cfg.Agent.InvestigationTTL = 600

	// Database defaults
	cfg.Database.Path = "/var/lib/incident-agent/incident-agent.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = "logs/app.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"

	// Integrations default to unconfigured; Datadog site has a sane default
	// so only api_key/app_key are required to enable it.
	cfg.Integrations.Datadog.Site = "datadoghq.com"

	return cfg
}
