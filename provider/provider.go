package provider

import (
	"fmt"
	"sort"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/agent/core"
	"github.com/mohammad-safakhou/deepscout/internal/agent/telemetry"
	openai_provider "github.com/mohammad-safakhou/deepscout/provider/openai"
)

// New builds the model caller for the configured provider. Providers are
// considered in name order so the selection is stable across restarts; the
// first supported one wins. openai-compatible endpoints reuse the OpenAI
// wire format with a custom base URL.
func New(cfg config.LLMConfig, tel *telemetry.Telemetry) (core.ModelCaller, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := cfg.Providers[name]
		switch p.Type {
		case "openai", "openai-compatible":
			if tel == nil {
				return openai_provider.NewClient(p, nil), nil
			}
			return openai_provider.NewClient(p, tel), nil
		}
	}
	return nil, fmt.Errorf("no supported LLM provider among %v", names)
}
