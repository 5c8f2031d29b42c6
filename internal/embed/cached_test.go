package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	dim   int
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	v := make([]float32, c.dim)
	for i := range v {
		v[i] = float32(len(text))
	}
	return v, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int            { return c.dim }
func (c *countingEmbedder) ModelName() string          { return "counting" }
func (c *countingEmbedder) Available(context.Context) bool { return true }
func (c *countingEmbedder) Close() error               { return nil }

func TestCachedEmbedder_RepeatedTextHitsCacheNotInner(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls, "second call for identical text should be served from cache")
}

func TestCachedEmbedder_EmbedBatchOnlyCallsInnerForMisses(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	_, err = cached.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls, "only the uncached text should reach the inner embedder")
}

func TestCachedEmbedder_PassesThroughMetadata(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.Same(t, inner, cached.Inner())
}
