package config_test

import (
	"testing"

	gaconfig "github.com/JaimeStill/go-agents/pkg/config"

	"github.com/crestline/renewals/internal/config"
)

func TestFinalizeAgentDefaults(t *testing.T) {
	cfg := gaconfig.AgentConfig{Name: "renewals"}
	if err := config.FinalizeAgent(&cfg); err != nil {
		t.Fatalf("FinalizeAgent() error = %v", err)
	}

	if cfg.Name != "renewals" {
		t.Errorf("Name = %s, want renewals", cfg.Name)
	}
	if cfg.Client == nil || cfg.Client.Provider == nil {
		t.Fatal("client provider not populated by defaults")
	}
	if cfg.Client.Provider.Name == "" {
		t.Error("provider name not populated by defaults")
	}
	if cfg.Client.Provider.Model == nil {
		t.Error("provider model not populated by defaults")
	}
	if cfg.Client.Provider.Options == nil {
		t.Error("provider options not populated by defaults")
	}
}

func TestFinalizeAgentEnv(t *testing.T) {
	t.Setenv(config.EnvAgentProviderName, "azure")
	t.Setenv(config.EnvAgentBaseURL, "https://renewals.openai.azure.com")
	t.Setenv(config.EnvAgentModelName, "gpt-4o")
	t.Setenv(config.EnvAgentDeployment, "renewals-chat")
	t.Setenv(config.EnvAgentAPIVersion, "2024-10-21")

	cfg := gaconfig.AgentConfig{Name: "renewals"}
	if err := config.FinalizeAgent(&cfg); err != nil {
		t.Fatalf("FinalizeAgent() error = %v", err)
	}

	provider := cfg.Client.Provider
	if provider.Name != "azure" {
		t.Errorf("provider name = %s, want azure", provider.Name)
	}
	if provider.BaseURL != "https://renewals.openai.azure.com" {
		t.Errorf("base url = %s, want override", provider.BaseURL)
	}
	if provider.Model.Name != "gpt-4o" {
		t.Errorf("model name = %s, want gpt-4o", provider.Model.Name)
	}
	if provider.Options["deployment"] != "renewals-chat" {
		t.Errorf("deployment option = %v, want renewals-chat", provider.Options["deployment"])
	}
	if provider.Options["api_version"] != "2024-10-21" {
		t.Errorf("api_version option = %v, want 2024-10-21", provider.Options["api_version"])
	}
}

func TestFinalizeAgentValidation(t *testing.T) {
	var cfg gaconfig.AgentConfig
	if err := config.FinalizeAgent(&cfg); err != nil {
		t.Fatalf("FinalizeAgent() error = %v", err)
	}
	if cfg.Name == "" {
		t.Error("name not populated by defaults")
	}

	missing := gaconfig.AgentConfig{
		Name:   "renewals",
		Client: &gaconfig.ClientConfig{Provider: &gaconfig.ProviderConfig{}},
	}
	if err := config.FinalizeAgent(&missing); err != nil {
		t.Fatalf("FinalizeAgent() error = %v", err)
	}
	if missing.Client.Provider.Name == "" {
		t.Error("provider name not recovered from defaults")
	}
}
