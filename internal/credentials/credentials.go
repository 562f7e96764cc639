// Package credentials resolves per-organization integration credentials.
//
// Each integration has a typed credential bag. A nil bag means the
// integration is not configured for that organization; tools treat nil as
// "politely unavailable" and never as an error.
package credentials

import (
	"context"

	"github.com/incidentops/incident-agent/internal/config"
)

// Datadog holds Datadog API credentials.
type Datadog struct {
	APIKey string
	AppKey string
	Site   string // e.g. "datadoghq.com", "datadoghq.eu"
}

// GitHub holds GitHub App credentials scoped to a repository.
type GitHub struct {
	AppID          string
	PrivateKey     string // PEM-encoded RSA private key
	InstallationID string
	Owner          string
	Repo           string
}

// Slack holds Slack bot credentials.
type Slack struct {
	BotToken  string
	ChannelID string
}

// Set is the full credential set for one organization. Any field may be nil.
type Set struct {
	Datadog *Datadog
	GitHub  *GitHub
	Slack   *Slack
}

// Provider resolves credentials for an organization.
type Provider interface {
	// GetAll returns the credential set for orgID. Missing integrations are
	// nil fields, not errors; an error means the lookup itself failed.
	GetAll(ctx context.Context, orgID string) (*Set, error)
}

// StaticProvider serves a fixed credential set for every organization.
// Useful for single-tenant deployments and tests.
type StaticProvider struct {
	Set Set
}

func (p *StaticProvider) GetAll(ctx context.Context, orgID string) (*Set, error) {
	s := p.Set
	return &s, nil
}

// configProvider builds credential sets from process-wide configuration.
type configProvider struct {
	cfg *config.Config
}

// NewConfigProvider returns a Provider backed by the Integrations section of
// the process configuration. Integrations with empty required fields resolve
// to nil.
func NewConfigProvider(cfg *config.Config) Provider {
	return &configProvider{cfg: cfg}
}

func (p *configProvider) GetAll(ctx context.Context, orgID string) (*Set, error) {
	set := &Set{}

	dd := p.cfg.Integrations.Datadog
	if dd.APIKey != "" && dd.AppKey != "" {
		site := dd.Site
		if site == "" {
			site = "datadoghq.com"
		}
		set.Datadog = &Datadog{APIKey: dd.APIKey, AppKey: dd.AppKey, Site: site}
	}

	gh := p.cfg.Integrations.GitHub
	if gh.AppID != "" && gh.PrivateKey != "" && gh.InstallationID != "" {
		set.GitHub = &GitHub{
			AppID:          gh.AppID,
			PrivateKey:     gh.PrivateKey,
			InstallationID: gh.InstallationID,
			Owner:          gh.Owner,
			Repo:           gh.Repo,
		}
	}

	sl := p.cfg.Integrations.Slack
	if sl.BotToken != "" {
		set.Slack = &Slack{BotToken: sl.BotToken, ChannelID: sl.ChannelID}
	}

	return set, nil
}

// Resolver layers a per-org provider over the process-wide config fallback.
// Org-specific credentials win; anything the org provider leaves nil falls
// back to the process configuration.
type Resolver struct {
	org      Provider // may be nil
	fallback Provider
}

// NewResolver creates a Resolver. orgProvider may be nil, in which case only
// the config fallback is consulted.
func NewResolver(orgProvider Provider, cfg *config.Config) *Resolver {
	return &Resolver{
		org:      orgProvider,
		fallback: NewConfigProvider(cfg),
	}
}

func (r *Resolver) GetAll(ctx context.Context, orgID string) (*Set, error) {
	base, err := r.fallback.GetAll(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if r.org == nil {
		return base, nil
	}

	orgSet, err := r.org.GetAll(ctx, orgID)
	if err != nil {
		// Org lookup failures degrade to the process-wide fallback rather
		// than failing the investigation.
		return base, nil
	}

	if orgSet.Datadog != nil {
		base.Datadog = orgSet.Datadog
	}
	if orgSet.GitHub != nil {
		base.GitHub = orgSet.GitHub
	}
	if orgSet.Slack != nil {
		base.Slack = orgSet.Slack
	}

	return base, nil
}
