package generate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"bookrag/internal/config"
	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
	"bookrag/internal/summarizer"
)

// New builds the configured generator. A missing API key does not fail
// startup; the generator reports ErrUnavailable when asked to answer.
func New(ctx context.Context, cfg config.GeneratorConfig) (domain.Generator, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "extractive":
		return NewExtractive(summarizer.NewFrequencySummarizer(), cfg.MaxSentences), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      apiKey(ctx, cfg.APIKeyEnv),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     timeout,
		}), nil
	case "gemini":
		return NewGemini(apiKey(ctx, cfg.APIKeyEnv), cfg.Model, timeout), nil
	default:
		return nil, fmt.Errorf("%w: unsupported generator type: %s", apperr.ErrInvalid, cfg.Type)
	}
}

func apiKey(ctx context.Context, env string) string {
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		logutil.GetLogger(ctx).Warn("generator api key not set, answers will be unavailable", zap.String("env", env))
	}
	return key
}
