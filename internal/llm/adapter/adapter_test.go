package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/incident-agent/internal/config"
	"github.com/incidentops/incident-agent/internal/llm/types"
)

func TestNewDegradedWithoutKey(t *testing.T) {
	a, err := New(config.LLM{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", a.Provider())

	_, err = a.Complete(context.Background(), types.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderNotConfigured))
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New(config.LLM{Provider: "mystery", APIKey: "k"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestNewAnthropicAndOpenAI(t *testing.T) {
	a, err := New(config.LLM{Provider: "anthropic", APIKey: "sk-a", MaxTokens: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", a.Provider())

	o, err := New(config.LLM{Provider: "openai", APIKey: "sk-o", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", o.Model())
}
