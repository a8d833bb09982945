package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// WrapCache puts an expiring LRU in front of single-text calls, which is what
// query embedding looks like. Index builds go straight to the model.
func WrapCache(m Model, size int, ttl time.Duration) Model {
	if m == nil || size <= 0 || ttl <= 0 {
		return m
	}
	return &lruModel{
		next:  m,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruModel struct {
	next  Model
	cache *expirable.LRU[string, []float32]
}

func (l *lruModel) Name() string   { return l.next.Name() }
func (l *lruModel) Dimension() int { return l.next.Dimension() }

func (l *lruModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return l.next.EmbedBatch(ctx, texts)
	}
	key := cacheKey(l.next.Name(), texts[0])
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("model", l.next.Name()))
		return [][]float32{cloneVector(cached)}, nil
	}
	res, err := l.next.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(res) == 1 && len(res[0]) > 0 {
		l.cache.Add(key, cloneVector(res[0]))
	}
	return res, nil
}

func cacheKey(modelName, text string) string {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	return "embed:" + modelName + ":" + hex.EncodeToString(hash[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
