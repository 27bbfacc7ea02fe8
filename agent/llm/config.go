package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	groqx "github.com/tanpawarit/crm-assistant/pkg/groq"
)

// Config selects and tunes the completion model. Read with prefix LLM; the
// API key falls back to GROQ_API_KEY through main.
type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.groq.com/openai/v1"`
	APIKey      string        `envconfig:"API_KEY" split_words:"true"`
	Model       string        `envconfig:"MODEL" split_words:"true" default:"mixtral-8x7b-32768"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" split_words:"true" default:"1024"`
	Temperature float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.1"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	Preflight   bool          `envconfig:"PREFLIGHT" split_words:"true" default:"false"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be within 0.0-1.0, got %v", contractx.ErrValidation, c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be > 0", contractx.ErrValidation)
	}
	return nil
}

// WithAPIKey returns a copy carrying key when none was configured.
func (c Config) WithAPIKey(key string) Config {
	if strings.TrimSpace(c.APIKey) == "" {
		c.APIKey = strings.TrimSpace(key)
	}
	return c
}

func (c Config) Groq() (groqx.Config, error) {
	if err := c.Validate(); err != nil {
		return groqx.Config{}, err
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return groqx.Config{}, fmt.Errorf("%w: completion api key is required", contractx.ErrValidation)
	}

	maxTokens := c.MaxTokens
	return groqx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxTokens,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
	}, nil
}
