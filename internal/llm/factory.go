package llm

import (
	"fmt"
	"os"
)

// NewClientFromEnv builds a Client and Config from LLM_PROVIDER and the
// provider-specific environment variables, mirroring the source's
// conditional module-global client initialization (§9: "Global LLM client
// → injected config" — replaced here with a value returned to the caller
// instead of a package-level variable).
func NewClientFromEnv() (Client, Config, error) {
	cfg := DefaultConfig()
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	cfg.Provider = provider

	switch provider {
	case "openai":
		apiKey := firstNonEmpty(os.Getenv("OPENAI_API_KEY"), os.Getenv("API_KEY"), os.Getenv("ZHIZENGZENG_API_KEY"))
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("OPENAI_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("OPENAI_MODEL", "gpt-4o-mini")
		cfg.Endpoint = firstNonEmpty(os.Getenv("OPENAI_API_BASE"), os.Getenv("OPENAI_BASE_URL"), os.Getenv("ZHIZENGZENG_BASE_URL"))
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("ANTHROPIC_MODEL", "claude-3-sonnet-20240229")
		return NewAnthropicClient(apiKey), cfg, nil

	case "kimi":
		apiKey := os.Getenv("KIMI_API_KEY")
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("KIMI_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("KIMI_MODEL", "kimi-k2-250711")
		cfg.Endpoint = envOr("KIMI_BASE_URL", "https://ark.ap-southeast.bytepluses.com/api/v3")
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("GEMINI_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("GEMINI_MODEL", "gemini-1.5-flash")
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta/openai"
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "lmstudio":
		cfg.Endpoint = envOr("LMSTUDIO_BASE_URL", "http://localhost:1234/v1")
		cfg.Model = envOr("LMSTUDIO_MODEL", "local-model")
		cfg.APIKey = envOr("LMSTUDIO_API_KEY", "lm-studio")
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "ollama":
		cfg.Endpoint = envOr("OLLAMA_BASE_URL", "http://localhost:11434/v1")
		cfg.Model = envOr("OLLAMA_MODEL", "llama3.1")
		cfg.APIKey = envOr("OLLAMA_API_KEY", "ollama")
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "glm":
		apiKey := os.Getenv("GLM_API_KEY")
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("GLM_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("GLM_MODEL", "glm-4-plus")
		cfg.Endpoint = "https://open.bigmodel.cn/api/paas/v4"
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "minimax":
		apiKey := os.Getenv("MINIMAX_API_KEY")
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("MINIMAX_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("MINIMAX_MODEL", "abab6.5s-chat")
		cfg.Endpoint = "https://api.minimax.chat/v1"
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "deepseek":
		apiKey := os.Getenv("DEEPSEEK_API_KEY")
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("DEEPSEEK_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("DEEPSEEK_MODEL", "deepseek-chat")
		cfg.Endpoint = "https://api.deepseek.com/v1"
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	case "groq":
		apiKey := os.Getenv("GROQ_API_KEY")
		if apiKey == "" {
			return nil, cfg, fmt.Errorf("GROQ_API_KEY not set")
		}
		cfg.APIKey = apiKey
		cfg.Model = envOr("GROQ_MODEL", "llama-3.1-70b-versatile")
		cfg.Endpoint = "https://api.groq.com/openai/v1"
		return NewOpenAIClient(cfg.APIKey, cfg.Endpoint), cfg, nil

	default:
		return nil, cfg, fmt.Errorf("unknown LLM_PROVIDER: %s (supported: openai, anthropic, kimi, gemini, lmstudio, ollama, glm, minimax, deepseek, groq)", provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
