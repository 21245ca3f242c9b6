package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sematica-ai/memory-engine/internal/cache"
	"github.com/sematica-ai/memory-engine/internal/observability"
)

// CachingEmbedder wraps another embedder with a byte cache. Keys are
// derived from model and text, so switching models never serves stale
// vectors. Cache failures degrade to direct provider calls.
type CachingEmbedder struct {
	inner  Embedder
	cache  cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

var _ Embedder = (*CachingEmbedder)(nil)

// NewCachingEmbedder decorates inner with the given cache client.
func NewCachingEmbedder(inner Embedder, c cache.Client, ttl time.Duration, logger *observability.Logger) *CachingEmbedder {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachingEmbedder{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger.WithComponent("embedding-cache"),
	}
}

func (e *CachingEmbedder) Model() string {
	return e.inner.Model()
}

func (e *CachingEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(e.inner.Model() + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)
	if data, err := e.cache.Get(ctx, key); err == nil {
		if vec, err := decodeVector(data); err == nil {
			return vec, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		e.logger.Warn().Err(err).Msg("Embedding cache read failed")
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, key, encodeVector(vec), e.ttl); err != nil {
		e.logger.Warn().Err(err).Msg("Embedding cache write failed")
	}
	return vec, nil
}

// EmbedBatch serves cached texts locally and forwards only the misses to
// the inner embedder in one call, then reassembles input order.
func (e *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		data, err := e.cache.Get(ctx, e.cacheKey(text))
		if err == nil {
			if vec, decErr := decodeVector(data); decErr == nil {
				out[i] = vec
				continue
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn().Err(err).Msg("Embedding cache read failed")
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		vecs, err := e.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			if err := e.cache.Set(ctx, e.cacheKey(missTexts[j]), encodeVector(vec), e.ttl); err != nil {
				e.logger.Warn().Err(err).Msg("Embedding cache write failed")
			}
		}
	}
	return out, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("bad cached vector length %d", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
