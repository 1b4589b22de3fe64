package app

import (
	"fmt"

	"arena/internal/config"
	"arena/internal/gateway/provider"
)

func buildModelProviders(cfg *config.Config) ([]provider.ModelProvider, error) {
	resolved, err := cfg.AI.ResolveModelConfigs()
	if err != nil {
		return nil, err
	}
	built := provider.BuildProvidersFromConfig(toModelCfgs(resolved), provider.FactoryOptions{
		Retry: provider.RetryPolicy{
			Attempts:   cfg.AI.Retry.Attempts,
			MinBackoff: cfg.AI.Retry.MinBackoff(),
			MaxBackoff: cfg.AI.Retry.MaxBackoff(),
			Timeout:    cfg.AI.Retry.Timeout(),
		},
		RateLimit:        cfg.AI.RateLimitRPS,
		RateBurst:        cfg.AI.RateBurst,
		BreakerThreshold: cfg.AI.Breaker.Threshold,
		BreakerCooldown:  cfg.AI.Breaker.Cooldown(),
	})
	if len(built) == 0 {
		return nil, fmt.Errorf("no usable model provider")
	}
	out := make([]provider.ModelProvider, 0, len(built))
	for _, p := range built {
		out = append(out, p)
	}
	return out, nil
}

func toModelCfgs(resolved []config.ResolvedModelConfig) []provider.ModelCfg {
	out := make([]provider.ModelCfg, 0, len(resolved))
	for _, m := range resolved {
		mc := provider.ModelCfg{
			ID:        m.ID,
			Provider:  m.Provider,
			APIKey:    m.APIKey,
			Model:     m.Model,
			Endpoints: m.Endpoints,
			Enabled:   m.Enabled,
			Headers:   m.Headers,
			Timeout:   m.Timeout,
		}
		if m.Temperature != nil {
			mc.Temperature = *m.Temperature
		}
		out = append(out, mc)
	}
	return out
}
