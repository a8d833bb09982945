package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"bookrag/internal/config"
	"bookrag/internal/embedding"
	apperr "bookrag/internal/pkg/errors"
)

const retrievalTaskType = "RETRIEVAL_DOCUMENT"

// Model embeds text with the Gemini embedding API.
type Model struct {
	client    *genai.Client
	model     string
	timeout   time.Duration
	dimension int
}

func New(ctx context.Context, cfg config.EmbedderConfig) (*Model, error) {
	key := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", apperr.ErrUnavailable, cfg.APIKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}
	return &Model{
		client:  client,
		model:   model,
		timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
	}, nil
}

func (m *Model) Name() string   { return "gemini:" + m.model }
func (m *Model) Dimension() int { return m.dimension }

func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	resp, err := m.client.Models.EmbedContent(ctx, m.model, contents, &genai.EmbedContentConfig{
		TaskType: retrievalTaskType,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned an unexpected number of embeddings")
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding values returned")
		}
		out[i] = e.Values
	}
	if m.dimension == 0 {
		m.dimension = len(out[0])
	}
	return out, nil
}

func createFactory(ctx context.Context, cfg config.EmbedderConfig) (embedding.Model, error) {
	return New(ctx, cfg)
}

func init() {
	embedding.Register("gemini", createFactory)
}
