package oracle

import (
	"fmt"

	"scontrino/internal/config"
)

// NewFromConfig selects the classifier backend by ORACLE_PROVIDER.
// Provider "none" yields a nil Classifier; callers treat that as
// auto-categorization being disabled.
func NewFromConfig(cfg *config.Config) (Classifier, error) {
	switch cfg.OracleProvider {
	case "gemini":
		return NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.OracleProvider)
	}
}
