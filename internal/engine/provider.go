package engine

import (
	"context"
	"fmt"

	"github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
)

// Provider produces model output for a prompt. The default implementation
// wraps a go-agents chat agent; tests supply scripted providers.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type agentProvider struct {
	cfg gaconfig.AgentConfig
}

// NewAgentProvider returns a Provider backed by the configured chat agent.
// A fresh agent is created per call so concurrent lane runs never share
// conversation state.
func NewAgentProvider(cfg gaconfig.AgentConfig) Provider {
	return &agentProvider{cfg: cfg}
}

func (p *agentProvider) Generate(ctx context.Context, prompt string) (string, error) {
	a, err := agent.New(&p.cfg)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}

	resp, err := a.Chat(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("chat call: %w", err)
	}

	return resp.Content(), nil
}
