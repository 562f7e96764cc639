package config

import "fmt"

// Validate checks the configuration for invalid or inconsistent values.
// It returns all problems found, not just the first one.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.Host == "" {
		errs = append(errs, fmt.Errorf("server.host must not be empty"))
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	case "":
		errs = append(errs, fmt.Errorf("llm.provider must not be empty"))
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be one of [anthropic openai], got %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens))
	}

	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.DeploymentsCap < 1 {
		errs = append(errs, fmt.Errorf("agent.deployments_cap must be positive, got %d", c.Agent.DeploymentsCap))
	}
	if c.Agent.InvestigationTTL < 1 {
		errs = append(errs, fmt.Errorf("agent.investigation_ttl must be positive, got %d", c.Agent.InvestigationTTL))
	}

	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path must not be empty"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of [debug info warn error], got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of [json text], got %q", c.Logging.Format))
	}

	return errs
}
