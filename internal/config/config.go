package config

// Package config provides configuration management for the incident agent.
//
// Configuration sources (priority order, high to low):
//   1. Environment variables (INCIDENTAGENT_* prefix)
//   2. YAML config file (default: /etc/incident-agent/config.yaml)
//   3. Built-in defaults
//
// The resolved Config object is passed explicitly into the engine and the
// credential resolver — nothing reads process environment at call time.

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port int
		Host string
		// AllowedOrigins is the list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// LLM provider configuration
	LLM LLM

	// Agent loop configuration
	Agent struct {
		MaxIterations    int  // iteration budget per investigation
		ParallelTools    bool // fan out tool calls requested in one turn
		DeploymentsCap   int  // evidence store cap for recent deployments
		InvestigationTTL int  // overall deadline per investigation, seconds
	}

	// Database configuration
	Database struct {
		Path string // SQLite file path, ":memory:" for tests
	}

	// Logging configuration
	Logging struct {
		Level        string // debug | info | warn | error
		Format       string // json | text
		AppLogPath   string
		AuditLogPath string
	}

	// Integrations holds process-wide fallback credentials used when the
	// per-org credential provider has nothing for an organization. Empty
	// values mean the integration is not configured at the process level.
	Integrations struct {
		Datadog struct {
			APIKey string
			AppKey string
			Site   string
		}
		GitHub struct {
			AppID          string
			PrivateKey     string
			InstallationID string
			Owner          string
			Repo           string
		}
		Slack struct {
			BotToken  string
			ChannelID string
		}
	}
}

// LLM holds the LLM provider configuration.
type LLM struct {
	Provider  string // "anthropic" | "openai"
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}
